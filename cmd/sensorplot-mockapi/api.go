package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cactusdynamics/sensorplot"
	"github.com/go-chi/chi/v5"
	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"
)

// mockAPI imitates the sensor backend: a bounded per-channel history served
// by POST /farm/{channel} and live events on GET /subscribe/{channel}.
type mockAPI struct {
	specs      map[sensorplot.Channel]sensorplot.ChannelSpec
	historyLen int

	mutex   sync.Mutex
	history map[sensorplot.Channel][]sensorplot.BackfillItem

	events    *sse.Server
	closeOnce sync.Once
	logger    logrus.FieldLogger
}

func newMockAPI(specs []sensorplot.ChannelSpec, historyLen int) *mockAPI {
	events := sse.New()
	events.AutoReplay = false

	api := &mockAPI{
		specs:      make(map[sensorplot.Channel]sensorplot.ChannelSpec, len(specs)),
		historyLen: historyLen,
		history:    make(map[sensorplot.Channel][]sensorplot.BackfillItem, len(specs)),
		events:     events,
		logger:     logrus.WithField("tag", "MockAPI"),
	}

	for _, spec := range specs {
		api.specs[spec.Name] = spec
		events.CreateStream(string(spec.Name))
	}

	return api
}

func (a *mockAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/farm/{channel}", a.handleHistory)
	r.Get("/subscribe/{channel}", a.handleSubscribe)
	return r
}

func (a *mockAPI) channel(r *http.Request) (sensorplot.Channel, bool) {
	channel := sensorplot.Channel(chi.URLParam(r, "channel"))
	_, ok := a.specs[channel]
	return channel, ok
}

// record stores the sample in the history of each of its channels and
// publishes it to the subscribers of that channel.
func (a *mockAPI) record(sample sensorplot.RawSample) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for channel, value := range sample.Values {
		if _, ok := a.specs[channel]; !ok {
			continue
		}

		value := value
		item := sensorplot.BackfillItem{
			MeasuredAt: sample.MeasuredAt.UTC().Format(time.RFC3339Nano),
			Value:      &value,
		}

		history := append(a.history[channel], item)
		if len(history) > a.historyLen {
			history = history[len(history)-a.historyLen:]
		}
		a.history[channel] = history

		data, err := json.Marshal(item)
		if err != nil {
			a.logger.WithError(err).Error("failed to encode event")
			continue
		}

		a.events.Publish(string(channel), &sse.Event{
			Event: []byte(string(channel) + "_data"),
			Data:  data,
		})
	}
}

// Page through the history. The stored history is oldest first, so "desc"
// pages from the newest end.
func (a *mockAPI) page(channel sensorplot.Channel, req sensorplot.BackfillRequest) []sensorplot.BackfillItem {
	a.mutex.Lock()
	items := append([]sensorplot.BackfillItem(nil), a.history[channel]...)
	a.mutex.Unlock()

	if req.Sort == sensorplot.SortDescending {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}

	start := req.Page * req.Size
	if start >= len(items) {
		return []sensorplot.BackfillItem{}
	}

	return items[start:sensorplot.Min(start+req.Size, len(items))]
}

func (a *mockAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	channel, ok := a.channel(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	req := sensorplot.DefaultBackfillRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	if req.Size < 1 || req.Page < 0 || (req.Sort != sensorplot.SortAscending && req.Sort != sensorplot.SortDescending) {
		http.Error(w, "invalid paging", http.StatusBadRequest)
		return
	}

	content := a.page(channel, req)

	a.logger.WithFields(logrus.Fields{
		"channel": channel,
		"page":    req.Page,
		"size":    req.Size,
		"sort":    req.Sort,
		"count":   len(content),
	}).Info("served history")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sensorplot.BackfillResponse{Content: &content})
}

func (a *mockAPI) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	channel, ok := a.channel(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	// The SSE server selects the stream by query parameter.
	query := r.URL.Query()
	query.Set("stream", string(channel))
	r.URL.RawQuery = query.Encode()

	a.logger.WithField("channel", channel).Info("subscriber connected")
	a.events.ServeHTTP(w, r)
}

func (a *mockAPI) Close() {
	a.closeOnce.Do(a.events.Close)
}
