package sensorplot

import (
	"context"
	"math/rand"
	"time"

	backoff "gopkg.in/cenkalti/backoff.v1"
)

const (
	defaultReconnectInitialInterval = 500 * time.Millisecond
	defaultReconnectMaxInterval     = 30 * time.Second
)

// ReconnectPolicy decides whether a dropped push channel is re-opened. The
// zero value never reconnects: a transport error simply closes the channel.
type ReconnectPolicy struct {
	// Number of reconnects after the first failure. 0 disables reconnecting.
	MaxAttempts int

	// Delay before the first reconnect. It doubles per attempt up to
	// MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Spread each delay uniformly over [delay/2, delay).
	Jitter bool
}

func NoReconnect() ReconnectPolicy {
	return ReconnectPolicy{}
}

func ExponentialReconnect(maxAttempts int) ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: defaultReconnectInitialInterval,
		MaxInterval:     defaultReconnectMaxInterval,
		Jitter:          true,
	}
}

// newBackOff binds the policy to one subscription. The result stops as soon
// as ctx is done so a cancelled session never waits on a reconnect.
func (p ReconnectPolicy) newBackOff(ctx context.Context) *reconnectBackOff {
	return &reconnectBackOff{
		policy: p,
		ctx:    ctx,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type reconnectBackOff struct {
	policy  ReconnectPolicy
	ctx     context.Context
	rand    *rand.Rand
	attempt int
}

var _ backoff.BackOff = (*reconnectBackOff)(nil)

func (b *reconnectBackOff) NextBackOff() time.Duration {
	if b.ctx.Err() != nil || b.attempt >= b.policy.MaxAttempts {
		return backoff.Stop
	}

	initial := b.policy.InitialInterval
	if initial <= 0 {
		initial = defaultReconnectInitialInterval
	}
	maxInterval := b.policy.MaxInterval
	if maxInterval <= 0 {
		maxInterval = defaultReconnectMaxInterval
	}

	delay := initial
	for i := 0; i < b.attempt && delay < maxInterval; i++ {
		delay *= 2
	}
	delay = Min(delay, maxInterval)

	if b.policy.Jitter {
		half := delay / 2
		delay = half + time.Duration(b.rand.Int63n(int64(half)+1))
	}

	b.attempt++
	return delay
}

func (b *reconnectBackOff) Reset() {
	b.attempt = 0
}
