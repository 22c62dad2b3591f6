package predictor_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coi-platform/sla-engine/internal/predictor"
)

type scriptedClient struct {
	ready        bool
	predictions  []predictor.Prediction
	errs         []error
	predictCalls int
}

func (c *scriptedClient) Ready(ctx context.Context) bool { return c.ready }

func (c *scriptedClient) Predict(ctx context.Context, features predictor.Features) (predictor.Prediction, error) {
	i := c.predictCalls
	c.predictCalls++
	var p predictor.Prediction
	var err error
	if i < len(c.predictions) {
		p = c.predictions[i]
	}
	if i < len(c.errs) {
		err = c.errs[i]
	}
	return p, err
}

func failN(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = fmt.Errorf("connection refused")
	}
	return errs
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	inner := &scriptedClient{ready: true, errs: failN(3)}
	breaker := predictor.NewBreaker(inner, predictor.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         2 * time.Minute,
		Clock:            func() time.Time { return now },
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := breaker.Predict(ctx, predictor.Features{})
		require.Error(t, err)
	}

	// Circuit is open: calls short-circuit without touching the inner
	// client, and Ready reports false.
	_, err := breaker.Predict(ctx, predictor.Features{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 3, inner.predictCalls)
	assert.False(t, breaker.Ready(ctx))
}

func TestBreakerHalfOpenProbeRecovers(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	inner := &scriptedClient{
		ready:       true,
		errs:        append(failN(3), nil),
		predictions: []predictor.Prediction{{}, {}, {}, {Score: 55}},
	}
	breaker := predictor.NewBreaker(inner, predictor.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         2 * time.Minute,
		Clock:            func() time.Time { return now },
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		breaker.Predict(ctx, predictor.Features{})
	}
	assert.False(t, breaker.Ready(ctx))

	// After the cooldown the next call runs as a half-open probe; its
	// success closes the circuit again.
	now = now.Add(3 * time.Minute)
	prediction, err := breaker.Predict(ctx, predictor.Features{})
	require.NoError(t, err)
	assert.Equal(t, 55, prediction.Score)
	assert.True(t, breaker.Ready(ctx))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	inner := &scriptedClient{ready: true, errs: failN(4)}
	breaker := predictor.NewBreaker(inner, predictor.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         2 * time.Minute,
		Clock:            func() time.Time { return now },
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		breaker.Predict(ctx, predictor.Features{})
	}

	// A single failed probe reopens the circuit immediately.
	now = now.Add(3 * time.Minute)
	_, err := breaker.Predict(ctx, predictor.Features{})
	require.Error(t, err)
	assert.False(t, breaker.Ready(ctx))
	assert.Equal(t, 4, inner.predictCalls)
}

func TestBreakerCountsOutOfRangeScoreAsFailure(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	inner := &scriptedClient{
		ready: true,
		predictions: []predictor.Prediction{
			{Score: 150}, {Score: -3}, {Score: 200},
		},
	}
	breaker := predictor.NewBreaker(inner, predictor.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         2 * time.Minute,
		Clock:            func() time.Time { return now },
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := breaker.Predict(ctx, predictor.Features{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of range")
	}
	assert.False(t, breaker.Ready(ctx))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	inner := &scriptedClient{
		ready:       true,
		errs:        []error{fmt.Errorf("timeout"), fmt.Errorf("timeout"), nil, fmt.Errorf("timeout")},
		predictions: []predictor.Prediction{{}, {}, {Score: 40}, {}},
	}
	breaker := predictor.NewBreaker(inner, predictor.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         2 * time.Minute,
		Clock:            func() time.Time { return now },
	})
	ctx := context.Background()

	breaker.Predict(ctx, predictor.Features{})
	breaker.Predict(ctx, predictor.Features{})
	_, err := breaker.Predict(ctx, predictor.Features{})
	require.NoError(t, err)

	// Two failures then a success: the next failure starts a fresh streak
	// instead of tripping the breaker.
	_, err = breaker.Predict(ctx, predictor.Features{})
	require.Error(t, err)
	assert.True(t, breaker.Ready(ctx))
}
