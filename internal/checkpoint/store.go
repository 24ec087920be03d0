package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vvlad212/moviesync/internal/model"
)

// ErrParse reports a stored checkpoint value that cannot be decoded. Runs
// abort on it instead of guessing a starting point.
var ErrParse = errors.New("malformed checkpoint")

// Store is the durable checkpoint and run-lock store for one pipeline.
type Store interface {
	// Checkpoint returns the stored value for e, or the zero time if none is
	// stored. A missing value is persisted as the zero-time sentinel.
	Checkpoint(ctx context.Context, e model.EntityType) (time.Time, error)

	// Checkpoints returns every stored value, sentinels included.
	Checkpoints(ctx context.Context) (map[model.EntityType]time.Time, error)

	// Advance sets the checkpoint of every listed entity type to ts, except
	// where the stored value is already at or past ts.
	Advance(ctx context.Context, ts time.Time, entities ...model.EntityType) error

	// TryAcquireLock takes the run lock for e. It returns false without
	// error when the lock is already held.
	TryAcquireLock(ctx context.Context, e model.EntityType) (bool, error)

	// ReleaseLock drops the run lock for e. Releasing a free lock is a no-op.
	ReleaseLock(ctx context.Context, e model.EntityType) error

	// Reset deletes every checkpoint of the pipeline. Locks are untouched.
	Reset(ctx context.Context) error

	Close() error
}

// layout is fixed width so lexical order equals time order.
const layout = "2006-01-02T15:04:05.000000000Z"

// legacyLayout is what the first generation of ETL jobs wrote.
const legacyLayout = "2006-01-02 15:04:05.000000 -0700"

// Encode formats ts for storage.
func Encode(ts time.Time) string {
	return ts.UTC().Format(layout)
}

// Decode parses a stored value. The empty string is the sentinel.
func Decode(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(layout, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(legacyLayout, s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrParse, s)
}

// IsParseError reports whether err came from a malformed stored value.
func IsParseError(err error) bool {
	return errors.Is(err, ErrParse)
}
