package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestPolicy_BackOffDoublesUpToMax(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	b := p.BackOff()

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, b.NextBackOff(), "attempt %d", attempt)
	}
}

func TestPolicy_BackOffStopsAfterMaxAttempts(t *testing.T) {
	p := fastPolicy()
	p.MaxAttempts = 3
	b := p.BackOff()

	assert.Equal(t, time.Millisecond, b.NextBackOff())
	assert.Equal(t, 2*time.Millisecond, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestPolicy_BackOffUnboundedByDefault(t *testing.T) {
	b := fastPolicy().BackOff()
	for i := 0; i < 1000; i++ {
		require.NotEqual(t, backoff.Stop, b.NextBackOff())
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), nil, "test", func(ctx context.Context) error {
		calls++
		if calls < 4 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("malformed checkpoint")
	calls := 0
	err := Do(context.Background(), fastPolicy(), nil, "test", func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_MaxAttempts(t *testing.T) {
	p := fastPolicy()
	p.MaxAttempts = 3
	calls := 0
	err := Do(context.Background(), p, nil, "test", func(ctx context.Context) error {
		calls++
		return errors.New("still down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastPolicy(), nil, "test", func(ctx context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 3)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
