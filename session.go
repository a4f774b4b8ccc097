package sensorplot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime/trace"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Update is what viewers receive: the readings just added to the window (in
// order), or the end-of-stream marker.
type Update struct {
	Readings []Reading

	// The origin in effect when the update was produced. Zero until the
	// first reading.
	Origin time.Time

	StreamEnded bool
	StreamErr   error
}

// Session owns one window and the source feeding it. It is the explicit
// handle for the resources of a view: StartSession acquires them, Stop
// releases them.
//
// One goroutine reads from the source and is the only writer of the window.
// A single mutex governs the window together with the list of registered
// viewers, so a viewer registered between two updates receives the full
// snapshot and then every later update, with nothing missed or doubled.
type Session struct {
	id     string
	source ReadingSource
	window *Window

	mutex sync.Mutex
	wg    sync.WaitGroup

	cancel   context.CancelFunc
	stopOnce sync.Once

	streamEnded atomic.Bool
	err         error // Only read after streamEnded is true.

	// Buffered channels of connected viewers. A blocked viewer blocks every
	// viewer, so these must be generously buffered.
	channelsForLiveUpdate []chan<- Update

	numBatches         int
	numDroppedSamples  int
	numReadingsEmitted int

	logger *slog.Logger
}

// StartSession starts consuming source into a fresh window of the given
// capacity. The session runs until Stop is called, ctx is cancelled, or the
// source ends.
func StartSession(ctx context.Context, source ReadingSource, windowSize int) *Session {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()

	s := &Session{
		id:                    id,
		source:                source,
		window:                NewWindow(windowSize),
		cancel:                cancel,
		channelsForLiveUpdate: make([]chan<- Update, 0),
		logger:                slog.Default().With("tag", "Session", "session", id),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.run(ctx)

		s.err = err

		// Everything read after the stream ended must be written before this
		// store, which publishes it.
		s.streamEnded.Store(true)

		s.broadcastEnd(err)

		logger := s.logger.With(
			"numBatches", s.numBatches,
			"numReadingsEmitted", s.numReadingsEmitted,
			"numDroppedSamples", s.numDroppedSamples,
		)
		if err != nil {
			logger = logger.With("error", err)
		}
		logger.Info("session stream ended")
	}()

	return s
}

func (s *Session) ID() string {
	return s.id
}

// Stop cancels the session, closes its source (stopping any timer and
// closing any push connection) and waits for the session goroutine. The
// window stays readable afterwards. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if err := s.source.Close(); err != nil {
			s.logger.With("error", err).Warn("failed to close source")
		}
		s.wg.Wait()
	})
}

// Wait blocks until the stream has ended.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Ended reports whether the stream has ended; if so, Err is the error that
// ended it, nil for a normal end.
func (s *Session) Ended() bool {
	return s.streamEnded.Load()
}

func (s *Session) Err() error {
	if !s.streamEnded.Load() {
		return nil
	}
	return s.err
}

func (s *Session) Channels() []Channel {
	return s.source.Channels()
}

func (s *Session) WindowSize() int {
	return s.window.Capacity()
}

// Snapshot returns a copy of the window and its origin.
func (s *Session) Snapshot() ([]Reading, time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	origin, _ := s.window.Origin()
	return s.window.Snapshot(), origin
}

// Register a viewer. The current window is sent first as one update (and
// the end marker if the stream already ended), then every later update.
//
// - ctx: is the HTTP call context.
// - c: the viewer's channel. It should be buffered; see channelsForLiveUpdate.
func (s *Session) RegisterChannel(ctx context.Context, c chan<- Update) {
	traceCtx, task := trace.NewTask(ctx, "RegisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", s.mutex.Lock)
	defer s.mutex.Unlock()

	trace.WithRegion(traceCtx, "pushSnapshotToChannel", func() {
		origin, _ := s.window.Origin()
		c <- Update{Readings: s.window.Snapshot(), Origin: origin}

		if s.streamEnded.Load() {
			c <- Update{Origin: origin, StreamEnded: true, StreamErr: s.err}
		}
	})

	s.channelsForLiveUpdate = append(s.channelsForLiveUpdate, c)

	s.logger.With("channels", len(s.channelsForLiveUpdate)).Info("registered channel")
}

// Deregister a viewer. The channel must not be closed before this returns.
func (s *Session) DeregisterChannel(ctx context.Context, c chan<- Update) {
	traceCtx, task := trace.NewTask(ctx, "DeregisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", s.mutex.Lock)
	defer s.mutex.Unlock()

	s.channelsForLiveUpdate = Filter(s.channelsForLiveUpdate, func(channel chan<- Update) bool {
		return channel != c
	})

	s.logger.With("channels", len(s.channelsForLiveUpdate)).Info("deregistered channel")
}

func (s *Session) run(ctx context.Context) error {
	for {
		traceCtx, task := trace.NewTask(ctx, "SessionLoop")

		var batch Batch
		var err error
		trace.WithRegion(traceCtx, "SourceRead", func() {
			batch, err = s.source.Read(traceCtx)
		})

		switch {
		case err == errIgnoreThisBatch:
			task.End()
			continue
		case err == io.EOF:
			// Keep the window around: viewers still display it.
			task.End()
			return nil
		case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
			task.End()
			return nil
		case err != nil:
			task.End()
			return err
		}

		s.ingest(traceCtx, batch)
		task.End()
	}
}

// ingest applies one batch to the window. Malformed samples are dropped and
// logged; they never abort the loop.
func (s *Session) ingest(traceCtx context.Context, batch Batch) {
	s.numBatches++

	trace.WithRegion(traceCtx, "Lock", s.mutex.Lock)
	defer s.mutex.Unlock()

	var readings []Reading

	trace.WithRegion(traceCtx, "Window", func() {
		switch batch.Kind {
		case BatchBackfill:
			var err error
			readings, err = s.window.Seed(batch.Samples)
			if joined, ok := err.(interface{ Unwrap() []error }); ok {
				s.numDroppedSamples += len(joined.Unwrap())
				s.logger.With("error", err).Warn("dropped malformed backfill samples")
			}
		default:
			for _, sample := range batch.Samples {
				reading, err := s.window.Append(sample)
				if err != nil {
					s.numDroppedSamples++
					s.logger.With("error", err).Warn("dropped malformed sample")
					continue
				}
				readings = append(readings, reading)
			}
		}
	})

	if len(readings) == 0 {
		return
	}

	s.numReadingsEmitted += len(readings)
	origin, _ := s.window.Origin()

	s.logger.With(
		"kind", batch.Kind.String(),
		"readings", len(readings),
		"windowLen", s.window.Len(),
	).Debug("ingested batch")

	trace.WithRegion(traceCtx, "Broadcast", func() {
		update := Update{Readings: readings, Origin: origin}
		for _, c := range s.channelsForLiveUpdate {
			c <- update
		}
	})
}

func (s *Session) broadcastEnd(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	origin, _ := s.window.Origin()
	update := Update{Origin: origin, StreamEnded: true, StreamErr: err}
	for _, c := range s.channelsForLiveUpdate {
		c <- update
	}
}
