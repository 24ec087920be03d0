package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vvlad212/moviesync/internal/checkpoint"
	"github.com/vvlad212/moviesync/internal/model"
	"github.com/vvlad212/moviesync/internal/source"
)

// Extractor selects the extraction plan for a triggering entity type.
// Implemented by *source.Extractor.
type Extractor interface {
	Plan(p model.Pipeline, e model.EntityType) (source.Plan, error)
}

// Loader upserts one page of records into the pipeline's index.
// Implemented by *index.Loader.
type Loader interface {
	Load(ctx context.Context, records []model.Record) error
}

// Coordinator runs one pipeline against its checkpoint store.
//
// Thread-safety: Run may be called from several goroutines or processes at
// once; the run lock lets exactly one of them past LOCK_CHECK per entity
// type.
type Coordinator struct {
	pipeline  model.Pipeline
	store     checkpoint.Store
	extractor Extractor
	loader    Loader

	clock        Clock
	ids          RunIDGenerator
	log          *slog.Logger
	onTransition func(from, to State)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock the finalize value is read from.
func WithClock(c Clock) Option {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// WithRunIDs sets the run id generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(co *Coordinator) {
		co.ids = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) {
		co.log = l
	}
}

// WithTransitionHook registers fn to observe every state change. fn runs
// synchronously on the run's goroutine.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(co *Coordinator) {
		co.onTransition = fn
	}
}

// New creates a coordinator for pipeline p.
func New(p model.Pipeline, store checkpoint.Store, x Extractor, l Loader, opts ...Option) *Coordinator {
	c := &Coordinator{
		pipeline:  p,
		store:     store,
		extractor: x,
		loader:    l,
		clock:     SystemClock{},
		ids:       UUIDv7Generator{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "coordinator", "pipeline", p.Name)
	return c
}

// run is the state of one Run call.
type run struct {
	c       *Coordinator
	state   State
	result  RunResult
	stats   RunStats
	log     *slog.Logger
	started time.Time
}

func (r *run) enter(s State) {
	from := r.state
	r.state = s
	r.log.Debug("state transition", "from", from, "to", s)
	if r.c.onTransition != nil {
		r.c.onTransition(from, s)
	}
}

func (r *run) fail(code RunErrorCode, msg string, err error) error {
	r.stats.Elapsed = time.Since(r.started)
	r.log.Error("run failed", "code", code, "state", r.state, "error", err, "stats", r.stats)
	return &RunError{
		Code:     code,
		Message:  msg,
		RunID:    r.result.RunID,
		Pipeline: r.result.Pipeline,
		Entity:   r.result.Entity,
		Err:      err,
	}
}

// Run performs one pass for the triggering entity type.
//
// Skipped and deferred runs return a nil error. On error the returned
// result still carries the counters reached before the failure.
func (c *Coordinator) Run(ctx context.Context, trigger model.EntityType) (RunResult, error) {
	if !c.pipeline.Tracks(trigger) {
		return RunResult{}, fmt.Errorf("pipeline %s does not track %s", c.pipeline.Name, trigger)
	}
	id := c.ids.Generate()
	r := &run{
		c:     c,
		state: StateIdle,
		result: RunResult{
			RunID:    id,
			Pipeline: c.pipeline.Name,
			Entity:   trigger,
		},
		log:     c.log.With("run_id", id, "entity", trigger),
		started: time.Now(),
	}
	r.log.Info("run started")
	r.enter(StateLockCheck)
	ok, err := c.store.TryAcquireLock(ctx, trigger)
	if err != nil {
		return r.result, r.fail(ErrCodeLockFailed, "acquire run lock", err)
	}
	if !ok {
		r.enter(StateSkipped)
		r.result.Outcome = OutcomeSkipped
		r.log.Info("process already running, skipping")
		r.enter(StateIdle)
		return r.result, nil
	}

	r.enter(StateDetermineCheckpoint)
	finalize := c.clock.Now().UTC()
	scope, since, deferred, err := r.determine(ctx, trigger)
	if err != nil {
		code := ErrCodeCheckpointRead
		if checkpoint.IsParseError(err) {
			code = ErrCodeCheckpointParse
		}
		r.release(ctx, trigger)
		return r.result, r.fail(code, "determine checkpoint", err)
	}
	if deferred {
		r.result.Outcome = OutcomeDeferred
		r.log.Info("root pipeline not bootstrapped yet, deferring", "root", c.pipeline.Root)
		if err := r.release(ctx, trigger); err != nil {
			return r.result, r.fail(ErrCodeLockFailed, "release run lock", err)
		}
		r.enter(StateIdle)
		return r.result, nil
	}
	r.result.Scope = scope
	r.result.Since = since
	r.log.Info("checkpoint determined", "since", checkpoint.Encode(since), "scope", scope)

	r.enter(StateExtractLoad)
	if err := r.extractLoad(ctx, trigger, scope, since); err != nil {
		return r.result, err
	}

	r.enter(StateFinalize)
	if err := c.store.Advance(ctx, finalize, scope...); err != nil {
		return r.result, r.fail(ErrCodeCheckpointWrite, "finalize checkpoint", err)
	}
	r.stats.Advances++
	r.result.Checkpoint = finalize
	if err := c.store.ReleaseLock(ctx, trigger); err != nil {
		return r.result, r.fail(ErrCodeLockFailed, "release run lock", err)
	}
	r.result.Outcome = OutcomeCompleted
	r.stats.Elapsed = time.Since(r.started)
	r.log.Info("run completed", "checkpoint", checkpoint.Encode(finalize), "stats", r.stats)
	r.enter(StateIdle)
	return r.result, nil
}

// determine picks the checkpoint scope and lower bound.
func (r *run) determine(ctx context.Context, trigger model.EntityType) (scope []model.EntityType, since time.Time, deferred bool, err error) {
	p := r.c.pipeline
	all, err := r.c.store.Checkpoints(ctx)
	if err != nil {
		return nil, time.Time{}, false, err
	}

	bootstrapped := false
	for _, e := range p.Tracked {
		if ts, ok := all[e]; ok && !ts.IsZero() {
			bootstrapped = true
			break
		}
	}
	if !bootstrapped {
		if !p.IsRoot(trigger) {
			return nil, time.Time{}, true, nil
		}
		r.log.Info("no checkpoints stored, bootstrapping", "scope", p.Tracked)
		return append([]model.EntityType(nil), p.Tracked...), time.Time{}, false, nil
	}

	since, err = r.c.store.Checkpoint(ctx, trigger)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return []model.EntityType{trigger}, since, false, nil
}

func (r *run) extractLoad(ctx context.Context, trigger model.EntityType, scope []model.EntityType, since time.Time) error {
	c := r.c
	plan, err := c.extractor.Plan(c.pipeline, trigger)
	if err != nil {
		return r.fail(ErrCodeExtractFailed, "select extraction plan", err)
	}

	for page, err := range plan.Pages(ctx, since) {
		if err != nil {
			return r.fail(ErrCodeExtractFailed, "extract page", err)
		}
		r.stats.Pages++
		r.result.Pages++

		if len(page.Records) > 0 {
			if err := c.loader.Load(ctx, page.Records); err != nil {
				return r.fail(ErrCodeLoadFailed, "load page", err)
			}
			r.stats.Loaded += len(page.Records)
			r.result.Loaded += len(page.Records)
		}
		r.log.Info("page processed", "page", r.stats.Pages, "loaded", len(page.Records))

		if page.HighWaterMark.IsZero() {
			continue
		}
		if err := c.store.Advance(ctx, page.HighWaterMark, scope...); err != nil {
			return r.fail(ErrCodeCheckpointWrite, "advance checkpoint", err)
		}
		r.stats.Advances++
		r.log.Debug("checkpoint advanced", "to", checkpoint.Encode(page.HighWaterMark))
	}
	return nil
}

// release drops the lock on paths that end before extraction. Errors are
// logged; the caller decides whether they fail the run.
func (r *run) release(ctx context.Context, trigger model.EntityType) error {
	err := r.c.store.ReleaseLock(ctx, trigger)
	if err != nil {
		r.log.Error("release run lock", "error", err)
	}
	return err
}
