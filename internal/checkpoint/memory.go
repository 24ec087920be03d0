package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/vvlad212/moviesync/internal/model"
)

// MemoryStore keeps checkpoints in process memory.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	values map[model.EntityType]string
	locks  map[model.EntityType]bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[model.EntityType]string),
		locks:  make(map[model.EntityType]bool),
	}
}

// Set stores a raw value, bypassing the monotonic guard. Tests use it to
// seed malformed or legacy values.
func (s *MemoryStore) Set(e model.EntityType, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[e] = raw
}

// Locked reports whether the run lock for e is held.
func (s *MemoryStore) Locked(e model.EntityType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[e]
}

func (s *MemoryStore) Checkpoint(ctx context.Context, e model.EntityType) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.values[e]
	if !ok {
		s.values[e] = Encode(time.Time{})
		return time.Time{}, nil
	}
	return Decode(raw)
}

func (s *MemoryStore) Checkpoints(ctx context.Context) (map[model.EntityType]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.EntityType]time.Time, len(s.values))
	for e, raw := range s.values {
		ts, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		out[e] = ts
	}
	return out, nil
}

func (s *MemoryStore) Advance(ctx context.Context, ts time.Time, entities ...model.EntityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		if raw, ok := s.values[e]; ok {
			cur, err := Decode(raw)
			if err != nil {
				return err
			}
			if !ts.After(cur) {
				continue
			}
		}
		s.values[e] = Encode(ts)
	}
	return nil
}

func (s *MemoryStore) TryAcquireLock(ctx context.Context, e model.EntityType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[e] {
		return false, nil
	}
	s.locks[e] = true
	return true, nil
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, e model.EntityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, e)
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[model.EntityType]string)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
