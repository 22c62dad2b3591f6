package predictor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// BreakerConfig tunes the circuit breaker. Clock is injectable for tests.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	Clock            func() time.Time
}

// Breaker wraps a Client with a three-state circuit breaker. Consecutive
// failures at or above the threshold open the circuit for a cooldown; the
// first call after the cooldown runs half-open as a probe. While open,
// Ready reports false so callers route straight to the rule-based path
// without paying the call timeout.
type Breaker struct {
	inner     Client
	threshold int
	cooldown  time.Duration
	clock     func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

func NewBreaker(inner Client, cfg BreakerConfig) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 2 * time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Breaker{
		inner:     inner,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock,
	}
}

func (b *Breaker) Ready(ctx context.Context) bool {
	b.mu.Lock()
	switch b.state {
	case stateOpen:
		if b.clock().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return false
		}
		b.state = stateHalfOpen
	}
	b.mu.Unlock()
	return b.inner.Ready(ctx)
}

func (b *Breaker) Predict(ctx context.Context, features Features) (Prediction, error) {
	b.mu.Lock()
	if b.state == stateOpen {
		if b.clock().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return Prediction{}, fmt.Errorf("predictor circuit open")
		}
		b.state = stateHalfOpen
	}
	b.mu.Unlock()

	prediction, err := b.inner.Predict(ctx, features)
	if err != nil || prediction.Score < 0 || prediction.Score > 100 {
		b.recordFailure()
		if err == nil {
			err = fmt.Errorf("predictor score %d out of range", prediction.Score)
		}
		return Prediction{}, err
	}
	b.recordSuccess()
	return prediction, nil
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.threshold {
		b.state = stateOpen
		b.openedAt = b.clock()
		b.failures = 0
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
}
