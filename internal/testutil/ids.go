package testutil

import "sync"

// FixedRunIDs returns predetermined run ids in order, then repeats the last
// one.
//
// This enables golden comparison of run output.
//
// Thread-safety: FixedRunIDs is safe for concurrent use via internal mutex.
type FixedRunIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedRunIDs creates a generator over ids. With no ids every call
// returns "test-run".
func NewFixedRunIDs(ids ...string) *FixedRunIDs {
	if len(ids) == 0 {
		ids = []string{"test-run"}
	}
	return &FixedRunIDs{ids: ids}
}

// Generate returns the next id.
//
// Implements engine.RunIDGenerator.
func (g *FixedRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ids[g.idx]
	if g.idx < len(g.ids)-1 {
		g.idx++
	}
	return id
}
