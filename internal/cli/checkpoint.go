package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vvlad212/moviesync/internal/model"
)

// CheckpointRow is one entity type's stored checkpoint.
type CheckpointRow struct {
	Entity     model.EntityType `json:"entity"`
	Checkpoint string           `json:"checkpoint,omitempty"`
	Stored     bool             `json:"stored"`
}

// CheckpointReport lists a pipeline's checkpoints.
type CheckpointReport struct {
	Pipeline    string          `json:"pipeline"`
	Checkpoints []CheckpointRow `json:"checkpoints"`
}

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset stored checkpoints",
	}
	cmd.AddCommand(newCheckpointShowCommand(rootOpts))
	cmd.AddCommand(newCheckpointResetCommand(rootOpts))
	return cmd
}

func newCheckpointShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the pipeline's checkpoints",
		Long: `Print the stored checkpoint of every entity type the pipeline tracks.

A type without a stored value has never been propagated; the next root run
bootstraps it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointShow(rootOpts, cmd)
		},
	}
}

func runCheckpointShow(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := newApp(opts, "")
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
	all, err := store.Checkpoints(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStoreFault, "failed to read checkpoints", err, nil)
	}

	report := CheckpointReport{Pipeline: a.pipeline.Name}
	for _, e := range a.pipeline.Tracked {
		row := CheckpointRow{Entity: e}
		if ts, ok := all[e]; ok && !ts.IsZero() {
			row.Checkpoint = formatCheckpoint(ts)
			row.Stored = true
		}
		report.Checkpoints = append(report.Checkpoints, row)
	}

	if formatter.JSON() {
		return formatter.Success(report)
	}
	w := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "PIPELINE\tENTITY\tCHECKPOINT\n")
	for _, row := range report.Checkpoints {
		value := row.Checkpoint
		if !row.Stored {
			value = "(none)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", report.Pipeline, row.Entity, value)
	}
	return w.Flush()
}

func newCheckpointResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the pipeline's checkpoints",
		Long: `Delete every stored checkpoint of the pipeline.

The next run triggered by the root entity type bootstraps the pipeline and
reloads the whole index. Run locks are left untouched; clear them with
"moviesync unlock".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointReset(rootOpts, yes, cmd)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")
	return cmd
}

func runCheckpointReset(opts *RootOptions, yes bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	if !yes {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "refusing to reset checkpoints without --yes", nil, nil)
	}
	a, err := newApp(opts, "")
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
	if err := store.Reset(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStoreFault, "failed to reset checkpoints", err, nil)
	}
	a.log.Warn("checkpoints reset", "pipeline", a.pipeline.Name)

	if formatter.JSON() {
		return formatter.Success(map[string]any{"pipeline": a.pipeline.Name, "reset": true})
	}
	fmt.Fprintf(formatter.Writer, "reset: %s checkpoints deleted, next %s run rebuilds the index\n", a.pipeline.Name, a.pipeline.Root)
	return nil
}
