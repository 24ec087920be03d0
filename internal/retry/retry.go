// Package retry runs operations against backing stores until they succeed,
// sleeping base × 2^attempt (capped) between attempts.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures the delay schedule.
type Policy struct {
	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// MaxAttempts bounds the number of calls. Zero means retry until the
	// operation succeeds, fails permanently, or the context is done.
	MaxAttempts int
}

// DefaultPolicy mirrors the delays the ETL jobs always used: 100ms doubling
// up to 10s, without an attempt limit.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  10 * time.Second,
	}
}

// BackOff builds the schedule for one operation: BaseDelay doubling on
// every failure up to MaxDelay, without jitter.
func (p Policy) BackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return b
}

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls fn until it returns nil or a Permanent error, the attempt limit is
// reached, or ctx is done. Each failed attempt is logged with the delay that
// follows it.
func Do(ctx context.Context, p Policy, log *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if log == nil {
		log = slog.Default()
	}
	attempt := 0
	notify := func(err error, delay time.Duration) {
		attempt++
		log.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	return backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return fn(ctx)
	}, backoff.WithContext(p.BackOff(), ctx), notify)
}
