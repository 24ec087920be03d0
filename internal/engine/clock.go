package engine

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the wall-clock reading a run finalizes its checkpoints to.
//
// Implemented by SystemClock (production) and testutil.FakeClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock in UTC.
//
// Thread-safety: SystemClock is stateless and safe for concurrent use.
type SystemClock struct{}

// Now returns the current UTC time without a monotonic reading, so values
// compare equal after a round trip through a checkpoint store.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Round(0)
}

// RunIDGenerator generates run ids for log correlation.
// Implemented by UUIDv7Generator (production) and testutil.FixedRunIDs.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so run ids sort
// by start time in logs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
