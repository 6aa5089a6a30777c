package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/wfplan/internal/graph"
	"github.com/me/wfplan/internal/parser"
)

func newValidateCmd() *cobra.Command {
	var autoDeps bool

	cmd := &cobra.Command{
		Use:   "validate <workflow.yml>",
		Short: "Check a workflow document against the schema and build its graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parser.NewSchemaValidator(logger)
			if err != nil {
				return err
			}
			b := graph.NewBuilder(logger, graph.Options{
				Prefix:               cfg.JobPrefix,
				AutoDataDependencies: autoDeps || cfg.AutoDataDependencies,
			})
			if err := parser.New(logger, parser.WithSchemaValidation(v)).ParseFile(args[0], b); err != nil {
				return fmt.Errorf("validate %s: %w", args[0], err)
			}
			dag, err := b.Result()
			if err != nil {
				return err
			}
			levels, err := dag.Levels()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d jobs, %d edges, %d levels)\n",
				dag.Name, dag.JobCount(), len(dag.Edges()), len(levels))
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoDeps, "auto-deps", false, "Infer dependencies from file usage")

	return cmd
}
