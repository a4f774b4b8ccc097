package sensorplot

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultTickInterval       = time.Second
	DefaultOutlierProbability = 0.1
)

// SimulatedSource produces one sample carrying every configured channel per
// tick. It needs no network and never fails.
type SimulatedSource struct {
	specs              []ChannelSpec
	outlierProbability float64
	rand               *rand.Rand
	now                func() time.Time

	ticker    *time.Ticker
	closed    chan struct{}
	closeOnce sync.Once
}

type SimulatedSourceOption func(*SimulatedSource)

// WithRand replaces the random source, mostly so tests are reproducible.
func WithRand(r *rand.Rand) SimulatedSourceOption {
	return func(s *SimulatedSource) {
		s.rand = r
	}
}

func WithClock(now func() time.Time) SimulatedSourceOption {
	return func(s *SimulatedSource) {
		s.now = now
	}
}

func WithOutlierProbability(p float64) SimulatedSourceOption {
	return func(s *SimulatedSource) {
		s.outlierProbability = Clamp(p, 0, 1)
	}
}

// Starts the ticker immediately; the first sample is available one interval
// after construction. Close must be called to release the ticker.
func NewSimulatedSource(specs []ChannelSpec, interval time.Duration, opts ...SimulatedSourceOption) *SimulatedSource {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	s := &SimulatedSource{
		specs:              specs,
		outlierProbability: DefaultOutlierProbability,
		rand:               rand.New(rand.NewSource(time.Now().UnixNano())),
		now:                time.Now,
		ticker:             time.NewTicker(interval),
		closed:             make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *SimulatedSource) Read(ctx context.Context) (Batch, error) {
	select {
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	case <-s.closed:
		return Batch{}, io.EOF
	case <-s.ticker.C:
	}

	return Batch{Kind: BatchLive, Samples: []RawSample{s.Generate()}}, nil
}

// Generate draws one sample: a uniform value from each channel's base
// range, then independently per channel, with the outlier probability, an
// offset of ±Perturbation.
func (s *SimulatedSource) Generate() RawSample {
	values := make(map[Channel]float64, len(s.specs))

	for _, spec := range s.specs {
		value := spec.BaseMin + s.rand.Float64()*(spec.BaseMax-spec.BaseMin)

		if s.rand.Float64() < s.outlierProbability {
			if s.rand.Intn(2) == 0 {
				value += spec.Perturbation
			} else {
				value -= spec.Perturbation
			}
		}

		values[spec.Name] = value
	}

	return RawSample{MeasuredAt: s.now(), Values: values}
}

func (s *SimulatedSource) Channels() []Channel {
	return channelNames(s.specs)
}

func (s *SimulatedSource) Close() error {
	s.closeOnce.Do(func() {
		s.ticker.Stop()
		close(s.closed)
	})
	return nil
}
