package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vvlad212/moviesync/internal/model"
)

// IndexStatus reports one index after ensure.
type IndexStatus struct {
	Index     string `json:"index"`
	Created   bool   `json:"created"`
	Documents int    `json:"documents"`
}

// NewIndexCommand creates the index command group.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage search indices",
	}
	cmd.AddCommand(newIndexEnsureCommand(rootOpts))
	return cmd
}

func newIndexEnsureCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create the pipeline's index if it does not exist",
		Long: `Create the pipeline's index with its built-in mapping when missing.

Existing indices are left as they are; their mapping is not compared.
Runs do this on their own before loading.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexEnsure(rootOpts, all, cmd)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "ensure the index of every pipeline")
	return cmd
}

func runIndexEnsure(opts *RootOptions, all bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := newApp(opts, "")
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err, nil)
	}
	defer a.close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	es, err := a.openIndex(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConnect, "failed to connect to elasticsearch", err, nil)
	}

	names := []string{a.pipeline.Index}
	if all {
		names = names[:0]
		for _, name := range model.PipelineNames() {
			p, _ := model.LookupPipeline(name)
			names = append(names, p.Index)
		}
	}

	var statuses []IndexStatus
	for _, name := range names {
		created, err := es.EnsureIndex(ctx, name)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeIndexFault, "failed to ensure index "+name, err, nil)
		}
		n, err := es.Count(ctx, name)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeIndexFault, "failed to count documents in "+name, err, nil)
		}
		statuses = append(statuses, IndexStatus{Index: name, Created: created, Documents: n})
	}

	if formatter.JSON() {
		return formatter.Success(statuses)
	}
	for _, s := range statuses {
		state := "exists"
		if s.Created {
			state = "created"
		}
		fmt.Fprintf(formatter.Writer, "%s: %s, %d documents\n", s.Index, state, s.Documents)
	}
	return nil
}
