package engine

import (
	"log/slog"
	"time"

	"github.com/vvlad212/moviesync/internal/model"
)

// State is a coordinator state.
type State string

const (
	StateIdle                State = "IDLE"
	StateLockCheck           State = "LOCK_CHECK"
	StateSkipped             State = "SKIPPED"
	StateDetermineCheckpoint State = "DETERMINE_CHECKPOINT"
	StateExtractLoad         State = "EXTRACT_LOAD_LOOP"
	StateFinalize            State = "FINALIZE"
)

// Outcome is how a run ended when it did not fail.
type Outcome string

const (
	// OutcomeCompleted means every page was loaded and the checkpoints
	// finalized.
	OutcomeCompleted Outcome = "completed"

	// OutcomeSkipped means another run held the lock.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeDeferred means a related type triggered before the root
	// pipeline bootstrapped.
	OutcomeDeferred Outcome = "deferred"
)

// RunResult summarizes one run.
type RunResult struct {
	RunID    string           `json:"run_id"`
	Pipeline string           `json:"pipeline"`
	Entity   model.EntityType `json:"entity"`
	Outcome  Outcome          `json:"outcome"`

	// Scope lists the entity types whose checkpoints the run advanced.
	Scope []model.EntityType `json:"scope,omitempty"`

	// Since is the lower bound the extractor started from.
	Since time.Time `json:"since"`

	// Checkpoint is the value the run finalized to.
	Checkpoint time.Time `json:"checkpoint"`

	Pages  int `json:"pages"`
	Loaded int `json:"loaded"`
}

// RunStats accumulates per-run counters for the summary log line.
type RunStats struct {
	Pages    int
	Loaded   int
	Advances int
	Elapsed  time.Duration
}

// LogValue implements slog.LogValuer.
func (s RunStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("pages", s.Pages),
		slog.Int("loaded", s.Loaded),
		slog.Int("advances", s.Advances),
		slog.Duration("elapsed", s.Elapsed),
	)
}
