package sensorplot

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// LiveSource splices a one-shot backfill with a push subscription for one
// channel. Both run concurrently in their own goroutines and only hand
// batches over; whichever reaches the session first fixes the time origin.
//
// A failed backfill is logged and the source continues push-only. Once the
// backfill is done and the push channel has closed, Read returns io.EOF.
type LiveSource struct {
	channel Channel

	batches chan Batch
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closeOnce sync.Once
	logger    logrus.FieldLogger
}

// OpenLiveSource starts the backfill and the subscription right away. Either
// backfill or push may be nil to disable that half. Close must be called to
// release the subscription.
func OpenLiveSource(ctx context.Context, channel Channel, backfill *BackfillClient, request BackfillRequest, push *PushSubscriber) *LiveSource {
	ctx, cancel := context.WithCancel(ctx)

	s := &LiveSource{
		channel: channel,
		batches: make(chan Batch, 64),
		done:    make(chan struct{}),
		cancel:  cancel,
		logger: logrus.WithFields(logrus.Fields{
			"tag":     "LiveSource",
			"channel": channel,
		}),
	}

	if backfill != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runBackfill(ctx, backfill, request)
		}()
	}

	if push != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			push.Subscribe(ctx, func(sample RawSample) {
				s.deliver(ctx, Batch{Kind: BatchLive, Samples: []RawSample{sample}})
			})
		}()
	}

	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	return s
}

func (s *LiveSource) runBackfill(ctx context.Context, client *BackfillClient, request BackfillRequest) {
	samples, err := client.Fetch(ctx, s.channel, request)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).Warn("backfill failed, continuing with live data only")
		}
		return
	}

	s.logger.WithField("count", len(samples)).Info("backfill received")
	s.deliver(ctx, Batch{Kind: BatchBackfill, Samples: samples})
}

func (s *LiveSource) deliver(ctx context.Context, batch Batch) {
	select {
	case s.batches <- batch:
	case <-ctx.Done():
	}
}

func (s *LiveSource) Read(ctx context.Context) (Batch, error) {
	select {
	case batch := <-s.batches:
		return batch, nil
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	case <-s.done:
	}

	// Both producers are finished; hand out whatever is still buffered.
	select {
	case batch := <-s.batches:
		return batch, nil
	default:
		return Batch{}, io.EOF
	}
}

func (s *LiveSource) Channels() []Channel {
	return []Channel{s.channel}
}

func (s *LiveSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}
