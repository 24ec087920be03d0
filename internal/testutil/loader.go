package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vvlad212/moviesync/internal/model"
)

// RecordingLoader records every page it is asked to load.
//
// FailOn makes the call with that 1-based number return Err instead of
// recording. Zero never fails.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingLoader struct {
	mu     sync.Mutex
	pages  [][]model.Record
	calls  int
	FailOn int
	Err    error
}

// Load implements engine.Loader.
func (l *RecordingLoader) Load(ctx context.Context, records []model.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.FailOn != 0 && l.calls == l.FailOn {
		return l.Err
	}
	l.pages = append(l.pages, append([]model.Record(nil), records...))
	return nil
}

// Pages returns the loaded pages in order.
func (l *RecordingLoader) Pages() [][]model.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]model.Record(nil), l.pages...)
}

// IDs returns the ids of every loaded record in load order.
func (l *RecordingLoader) IDs() []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []uuid.UUID
	for _, p := range l.pages {
		for _, r := range p {
			out = append(out, r.RecordID())
		}
	}
	return out
}

// Calls counts Load calls, failed ones included.
func (l *RecordingLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
