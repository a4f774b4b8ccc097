package sensorplot

import (
	"errors"
	"fmt"
	"time"
)

const DefaultWindowSize = 50

// Window is the bounded, time-ordered sequence of the most recent readings.
//
// Insertion order is display order: nothing is ever re-sorted. Once full,
// every new reading evicts the oldest one. The time origin is fixed by the
// first sample ever observed, whichever source it came from, and is never
// re-based.
//
// Window is not safe for concurrent use. Within a Session only the session
// goroutine mutates it.
type Window struct {
	ring *ThreadUnsafeRing[Reading]

	origin    time.Time
	hasOrigin bool
}

func NewWindow(capacity int) *Window {
	return &Window{
		ring: NewRing[Reading](capacity),
	}
}

// Initialize sets time zero. Only the first call has any effect; it returns
// whether this call was the one that set it.
func (w *Window) Initialize(origin time.Time) bool {
	if w.hasOrigin {
		return false
	}

	w.origin = origin
	w.hasOrigin = true
	return true
}

func (w *Window) Origin() (time.Time, bool) {
	return w.origin, w.hasOrigin
}

// Seed bulk loads historical samples ordered oldest to newest. The origin
// is set from the first valid sample if nothing was observed before. If the
// seed is larger than the capacity, only its newest samples remain.
//
// Malformed samples are skipped. Their errors are joined and returned, but
// the valid samples are still ingested. The readings that were appended are
// returned (before any eviction) so they can be forwarded to viewers.
func (w *Window) Seed(samples []RawSample) ([]Reading, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	var errs []error
	appended := make([]Reading, 0, Min(len(samples), w.ring.Capacity()))

	for i, sample := range samples {
		if err := sample.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("seed item %d: %w", i, err))
			continue
		}

		appended = append(appended, w.push(sample))
	}

	// Only the tail that survives truncation is worth forwarding.
	if len(appended) > w.ring.Capacity() {
		appended = appended[len(appended)-w.ring.Capacity():]
	}

	return appended, errors.Join(errs...)
}

// Append ingests one live sample. A malformed sample leaves the window
// untouched and returns an error wrapping ErrMalformedSample.
func (w *Window) Append(sample RawSample) (Reading, error) {
	if err := sample.Validate(); err != nil {
		return Reading{}, err
	}

	return w.push(sample), nil
}

func (w *Window) push(sample RawSample) Reading {
	w.Initialize(sample.MeasuredAt)

	values := make(map[Channel]float64, len(sample.Values))
	for channel, value := range sample.Values {
		values[channel] = value
	}

	reading := Reading{
		Time:   RelativeSeconds(w.origin, sample.MeasuredAt),
		Values: values,
	}

	w.ring.Push(reading)
	return reading
}

// Snapshot returns a copy of the window, oldest first.
func (w *Window) Snapshot() []Reading {
	return w.ring.ReadAllOrdered()
}

func (w *Window) Len() int {
	return w.ring.Len()
}

func (w *Window) Capacity() int {
	return w.ring.Capacity()
}
