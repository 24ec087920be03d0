package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vvlad212/moviesync/internal/checkpoint"
	"github.com/vvlad212/moviesync/internal/engine"
	"github.com/vvlad212/moviesync/internal/index"
	"github.com/vvlad212/moviesync/internal/source"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Entity string

	// Clock and RunIDs override the coordinator defaults (for testing).
	Clock  engine.Clock
	RunIDs engine.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Propagate one batch of changes",
		Long: `Run one pass of the configured pipeline for one entity type.

The run takes the entity type's run lock, reads its checkpoint, loads every
changed document into the pipeline's index page by page, advances the
checkpoint after each page, and finalizes it to the time the run started.

A held lock or a related type triggered before the first root run is not an
error: the command reports the outcome and exits 0.

Example:
  moviesync run --pipeline movies --entity person
  ETL_PIPELINE=genres MODEL_TO_CHECK=genre moviesync run --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Entity, "entity", "e", "", "triggering entity type (overrides MODEL_TO_CHECK)")

	return cmd
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := newApp(opts.RootOptions, opts.Entity)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err, nil)
	}
	defer a.close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConnect, "failed to open checkpoint store", err, nil)
	}
	db, err := a.openSource(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConnect, "failed to connect to source", err, nil)
	}
	es, err := a.openIndex(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConnect, "failed to connect to elasticsearch", err, nil)
	}
	created, err := es.EnsureIndex(ctx, a.pipeline.Index)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeIndexFault, "failed to ensure index", err, nil)
	}
	formatter.VerboseLog("index %s ready (created=%t)", a.pipeline.Index, created)

	x := source.NewExtractor(db, source.Options{
		PageSize:         a.cfg.PageSize,
		RelatedBatchSize: a.cfg.RelatedBatchSize,
	}, a.log)
	loader := index.NewLoader(es, a.pipeline.Index, a.log)

	coordOpts := []engine.Option{engine.WithLogger(a.log)}
	if opts.Clock != nil {
		coordOpts = append(coordOpts, engine.WithClock(opts.Clock))
	}
	if opts.RunIDs != nil {
		coordOpts = append(coordOpts, engine.WithRunIDs(opts.RunIDs))
	}
	if opts.Verbose {
		coordOpts = append(coordOpts, engine.WithTransitionHook(func(from, to engine.State) {
			formatter.VerboseLog("%s -> %s", from, to)
		}))
	}
	c := engine.New(a.pipeline, store, x, loader, coordOpts...)

	res, err := c.Run(ctx, a.cfg.EntityType())
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeRunFailed, "run failed", err, runFailureDetails(res, err))
	}
	return outputRunResult(formatter, res)
}

// runFailureDetails reports how far a failed run got.
func runFailureDetails(res engine.RunResult, err error) map[string]any {
	d := map[string]any{
		"run_id":   res.RunID,
		"pipeline": res.Pipeline,
		"entity":   res.Entity,
		"pages":    res.Pages,
		"loaded":   res.Loaded,
	}
	var re *engine.RunError
	if errors.As(err, &re) {
		d["code"] = re.Code
	}
	if le, ok := index.AsLoadError(err); ok && len(le.Items) > 0 {
		d["rejected"] = le.Items
	}
	return d
}

func outputRunResult(f *OutputFormatter, res engine.RunResult) error {
	if f.JSON() {
		return f.RunSuccess(res.RunID, res)
	}
	switch res.Outcome {
	case engine.OutcomeSkipped:
		fmt.Fprintf(f.Writer, "skipped: %s %s run already in progress\n", res.Pipeline, res.Entity)
	case engine.OutcomeDeferred:
		fmt.Fprintf(f.Writer, "deferred: %s not bootstrapped yet, run the root entity first\n", res.Pipeline)
	default:
		fmt.Fprintf(f.Writer, "completed: %s %s (pages=%d, loaded=%d, checkpoint=%s)\n",
			res.Pipeline, res.Entity, res.Pages, res.Loaded, formatCheckpoint(res.Checkpoint))
	}
	f.VerboseLog("run id %s", res.RunID)
	return nil
}

// formatCheckpoint renders a stored value; the zero time means "never".
func formatCheckpoint(ts time.Time) string {
	if ts.IsZero() {
		return "(none)"
	}
	return checkpoint.Encode(ts)
}
