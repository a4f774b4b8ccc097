package sensorplot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePushPayload(t *testing.T) {
	now := func() time.Time { return sessionT0.Add(time.Minute) }

	t.Run("JSON with timestamp", func(t *testing.T) {
		sample, err := DecodePushPayload(ChannelHumidity, []byte(`{"value":60,"measuredAt":"2024-05-01T12:00:04"}`), now)
		require.NoError(t, err)
		assert.True(t, sample.MeasuredAt.Equal(sessionT0.Add(4*time.Second)))
		assert.Equal(t, map[Channel]float64{ChannelHumidity: 60}, sample.Values)
	})

	t.Run("JSON without timestamp", func(t *testing.T) {
		sample, err := DecodePushPayload(ChannelHumidity, []byte(`{"value":61}`), now)
		require.NoError(t, err)
		assert.True(t, sample.MeasuredAt.Equal(now()))
	})

	t.Run("bare number", func(t *testing.T) {
		sample, err := DecodePushPayload(ChannelSoil, []byte(" 42.5\n"), now)
		require.NoError(t, err)
		assert.True(t, sample.MeasuredAt.Equal(now()))
		assert.Equal(t, map[Channel]float64{ChannelSoil: 42.5}, sample.Values)
	})

	for name, payload := range map[string]string{
		"garbage":       "not-a-number",
		"number prefix": "12abc",
		"no value":      `{"measuredAt":"2024-05-01T12:00:04Z"}`,
		"JSON string":   `"abc"`,
		"bad timestamp": `{"value":1,"measuredAt":"soon"}`,
		"empty":         "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePushPayload(ChannelHumidity, []byte(payload), now)
			assert.ErrorIs(t, err, ErrMalformedSample)
		})
	}
}

func TestPushSubscriberNames(t *testing.T) {
	p := NewPushSubscriber("http://localhost:8080/", ChannelHumidity, NoReconnect())
	assert.Equal(t, "http://localhost:8080/subscribe/humidity", p.URL())
	assert.Equal(t, "humidity_data", p.EventName())
}

func writeSSE(w http.ResponseWriter, events ...string) {
	for _, event := range events {
		fmt.Fprint(w, event)
	}
	w.(http.Flusher).Flush()
}

// sseHandler writes the given raw events and ends the stream.
func sseHandler(events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		writeSSE(w, events...)
	}
}

func TestPushSubscriberSubscribe(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/subscribe/humidity", sseHandler(
		"event: humidity_data\ndata: {\"value\":55,\"measuredAt\":\"2024-05-01T12:00:02Z\"}\n\n",
		"event: humidity_data\ndata: not-a-number\n\n",
		"event: temperature_data\ndata: {\"value\":20}\n\n",
		"event: humidity_data\ndata: 61.5\n\n",
	))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPushSubscriber(srv.URL, ChannelHumidity, NoReconnect())
	p.now = func() time.Time { return sessionT0.Add(time.Minute) }

	var received []RawSample
	err := p.Subscribe(context.Background(), func(sample RawSample) {
		received = append(received, sample)
	})
	require.NoError(t, err, "a stream ended by the server is a clean close")

	require.Len(t, received, 2)
	assert.True(t, received[0].MeasuredAt.Equal(sessionT0.Add(2*time.Second)))
	assert.Equal(t, 55.0, received[0].Values[ChannelHumidity])
	assert.True(t, received[1].MeasuredAt.Equal(sessionT0.Add(time.Minute)))
	assert.Equal(t, 61.5, received[1].Values[ChannelHumidity])
}

func TestPushSubscriberTransportError(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	t.Run("no reconnect", func(t *testing.T) {
		requests.Store(0)

		err := NewPushSubscriber(srv.URL, ChannelHumidity, NoReconnect()).Subscribe(context.Background(), func(RawSample) {
			t.Errorf("handler must not be called")
		})
		assert.Error(t, err)
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("bounded reconnects", func(t *testing.T) {
		requests.Store(0)

		policy := ReconnectPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
		err := NewPushSubscriber(srv.URL, ChannelHumidity, policy).Subscribe(context.Background(), func(RawSample) {})
		assert.Error(t, err)
		assert.Equal(t, int32(3), requests.Load())
	})

	t.Run("cancel during reconnect wait", func(t *testing.T) {
		requests.Store(0)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		policy := ReconnectPolicy{MaxAttempts: 5, InitialInterval: 3 * time.Second, MaxInterval: 3 * time.Second}
		start := time.Now()
		err := NewPushSubscriber(srv.URL, ChannelHumidity, policy).Subscribe(ctx, func(RawSample) {})
		assert.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, int32(1), requests.Load())
	})
}

func TestPushSubscriberCancel(t *testing.T) {
	connected := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(connected)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewPushSubscriber(srv.URL, ChannelHumidity, ExponentialReconnect(5)).Subscribe(ctx, func(RawSample) {})
	}()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never connected")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}
