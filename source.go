package sensorplot

import (
	"context"
	"errors"
)

// The ingestion pipeline: a ReadingSource produces batches of RawSamples,
// the Session feeds them into its Window and fans the resulting Readings out
// to every registered viewer.

// Returned by ReadingSource.Read when an item was dropped (and already
// logged). The caller should just read again.
var errIgnoreThisBatch = errors.New("ignore this batch")

type BatchKind int

const (
	// Incremental samples from a live feed (timer or push channel).
	BatchLive BatchKind = iota

	// A one-shot historical bulk load, ordered oldest to newest.
	BatchBackfill
)

func (k BatchKind) String() string {
	if k == BatchBackfill {
		return "backfill"
	}
	return "live"
}

type Batch struct {
	Kind    BatchKind
	Samples []RawSample
}

// When Read is called, block until the next batch is available. Read returns
// io.EOF once the source will never produce anything again.
type ReadingSource interface {
	Read(context.Context) (Batch, error)
	Channels() []Channel

	// Close releases the timer or connections held by the source. A pending
	// Read returns io.EOF after Close.
	Close() error
}
