package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(rootOpts *RootOptions) *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Clear a run lock left by a failed run",
		Long: `Release the run lock of one entity type.

A run that fails after taking its lock keeps it, so later runs skip until
an operator has looked at the failure. Unlocking a free lock is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnlock(rootOpts, entity, cmd)
		},
	}
	cmd.Flags().StringVarP(&entity, "entity", "e", "", "entity type to unlock (overrides MODEL_TO_CHECK)")
	return cmd
}

func runUnlock(opts *RootOptions, entity string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := newApp(opts, entity)
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
	e := a.cfg.EntityType()
	if err := store.ReleaseLock(ctx, e); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStoreFault, "failed to release run lock", err, nil)
	}
	a.log.Warn("run lock released by operator", "pipeline", a.pipeline.Name, "entity", e)

	if formatter.JSON() {
		return formatter.Success(map[string]any{"pipeline": a.pipeline.Name, "entity": e, "unlocked": true})
	}
	fmt.Fprintf(formatter.Writer, "unlocked: %s %s\n", a.pipeline.Name, e)
	return nil
}
