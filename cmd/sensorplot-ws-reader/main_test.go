package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cactusdynamics/sensorplot"
)

// MockReadingSource hands out its batches once, then io.EOF.
type MockReadingSource struct {
	batches  []sensorplot.Batch
	channels []sensorplot.Channel
	index    int
}

func (m *MockReadingSource) Read(ctx context.Context) (sensorplot.Batch, error) {
	if m.index >= len(m.batches) {
		return sensorplot.Batch{}, io.EOF
	}

	batch := m.batches[m.index]
	m.index++
	return batch, nil
}

func (m *MockReadingSource) Channels() []sensorplot.Channel {
	return m.channels
}

func (m *MockReadingSource) Close() error {
	return nil
}

// runReader serves a finished session and reads it to completion.
func runReader(t *testing.T, metadata sensorplot.Metadata, source sensorplot.ReadingSource) []string {
	t.Helper()

	session := sensorplot.StartSession(context.Background(), source, metadata.WindowSize)
	defer session.Stop()
	session.Wait()

	server := sensorplot.NewHttpServer(session, "127.0.0.1", 0, metadata)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	var output bytes.Buffer
	errorBuf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(errorBuf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	reader := NewWSReader(Config{
		ServerURL: srv.URL,
		Output:    &output,
		Logger:    logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := reader.Connect(ctx); err != nil {
		t.Fatalf("WSReader.Connect() failed: %v", err)
	}

	return strings.Split(strings.TrimSpace(output.String()), "\n")
}

func TestWSReaderBasicData(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	metadata := sensorplot.Metadata{
		WindowSize: 50,
		Source:     "test",
		TimeAxis:   sensorplot.TimeAxisSeconds,
		Channels:   []sensorplot.ChannelSpec{sensorplot.TemperatureSpec, sensorplot.HumiditySpec},
	}

	source := &MockReadingSource{
		channels: []sensorplot.Channel{sensorplot.ChannelTemperature, sensorplot.ChannelHumidity},
		batches: []sensorplot.Batch{
			{Kind: sensorplot.BatchLive, Samples: []sensorplot.RawSample{{
				MeasuredAt: t0,
				Values:     map[sensorplot.Channel]float64{sensorplot.ChannelTemperature: 20, sensorplot.ChannelHumidity: 40},
			}}},
			{Kind: sensorplot.BatchLive, Samples: []sensorplot.RawSample{{
				MeasuredAt: t0.Add(2 * time.Second),
				Values:     map[sensorplot.Channel]float64{sensorplot.ChannelTemperature: 21.5, sensorplot.ChannelHumidity: 55},
			}}},
		},
	}

	lines := runReader(t, metadata, source)

	expected := []string{
		"channel,time,value",
		"temperature,0,20",
		"temperature,2,21.5",
		"humidity,0,40",
		"humidity,2,55",
	}

	if len(lines) != len(expected) {
		t.Fatalf("Expected %d lines, got %d: %q", len(expected), len(lines), lines)
	}

	for i := range expected {
		if lines[i] != expected[i] {
			t.Errorf("line %d: expected %q, got %q", i, expected[i], lines[i])
		}
	}
}

func TestWSReaderEmptyData(t *testing.T) {
	metadata := sensorplot.Metadata{
		WindowSize: 50,
		Channels:   []sensorplot.ChannelSpec{sensorplot.HumiditySpec},
	}

	source := &MockReadingSource{
		channels: []sensorplot.Channel{sensorplot.ChannelHumidity},
	}

	lines := runReader(t, metadata, source)

	if len(lines) != 1 {
		t.Errorf("Expected only header line, got %d lines", len(lines))
	}

	expectedHeader := "channel,time,value"
	if lines[0] != expectedHeader {
		t.Errorf("Expected header %q, got %q", expectedHeader, lines[0])
	}
}

func TestWSURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:5274":   "ws://localhost:5274/ws2",
		"https://example.com/foo": "wss://example.com/ws2",
	}

	for in, want := range tests {
		got, err := wsURL(in)
		if err != nil {
			t.Fatalf("wsURL(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}
