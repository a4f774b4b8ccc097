package sensorplot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backfillServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestBackfillClientFetch(t *testing.T) {
	var gotRequest BackfillRequest

	srv := backfillServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/farm/humidity", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[
			{"measuredAt":"2024-05-01T12:00:00","value":40},
			{"measuredAt":"2024-05-01T12:00:01Z"},
			{"measuredAt":"not a time","value":41},
			{"measuredAt":"2024-05-01T12:00:02Z","value":55}
		],"totalElements":4}`))
	})

	client := NewBackfillClient(srv.URL+"/", 0)
	assert.Equal(t, srv.URL+"/farm/humidity", client.URL(ChannelHumidity))

	samples, err := client.Fetch(context.Background(), ChannelHumidity, DefaultBackfillRequest())
	require.NoError(t, err)

	assert.Equal(t, BackfillRequest{Size: 50, Page: 0, Sort: SortAscending}, gotRequest)

	require.Len(t, samples, 2)
	assert.True(t, samples[0].MeasuredAt.Equal(sessionT0))
	assert.Equal(t, map[Channel]float64{ChannelHumidity: 40}, samples[0].Values)
	assert.True(t, samples[1].MeasuredAt.Equal(sessionT0.Add(2*time.Second)))
	assert.Equal(t, map[Channel]float64{ChannelHumidity: 55}, samples[1].Values)
}

func TestBackfillClientRequestBody(t *testing.T) {
	body, err := json.Marshal(DefaultBackfillRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"size":50,"page":0,"sort":"asc"}`, string(body))
}

func TestBackfillClientErrors(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		srv := backfillServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		})

		_, err := NewBackfillClient(srv.URL, time.Second).Fetch(context.Background(), ChannelHumidity, DefaultBackfillRequest())

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr), "got %v", err)
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	})

	t.Run("not JSON", func(t *testing.T) {
		srv := backfillServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>oops</html>"))
		})

		_, err := NewBackfillClient(srv.URL, time.Second).Fetch(context.Background(), ChannelHumidity, DefaultBackfillRequest())
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("no content", func(t *testing.T) {
		srv := backfillServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"totalElements":0}`))
		})

		_, err := NewBackfillClient(srv.URL, time.Second).Fetch(context.Background(), ChannelHumidity, DefaultBackfillRequest())
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("empty content is not an error", func(t *testing.T) {
		srv := backfillServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"content":[]}`))
		})

		samples, err := NewBackfillClient(srv.URL, time.Second).Fetch(context.Background(), ChannelHumidity, DefaultBackfillRequest())
		assert.NoError(t, err)
		assert.Empty(t, samples)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := backfillServer(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})

		start := time.Now()
		_, err := NewBackfillClient(srv.URL, 50*time.Millisecond).Fetch(context.Background(), ChannelHumidity, DefaultBackfillRequest())
		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewBackfillClient(url, time.Second).Fetch(context.Background(), ChannelHumidity, DefaultBackfillRequest())
		assert.Error(t, err)
	})
}
