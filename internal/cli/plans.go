package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newPlansCmd() *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List stored plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if cmd.Flags().Changed("db") {
				cfg.DBPath = db
			}
			if err := requireDB(cmd); err != nil {
				return err
			}
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, st.Close()) }()

			plans, err := st.ListPlans(cmd.Context())
			if err != nil {
				return fmt.Errorf("list plans: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(plans) == 0 {
				fmt.Fprintln(out, "No plans found.")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-20s  %6s  %6s  %s\n", "UUID", "WORKFLOW", "JOBS", "EDGES", "CREATED")
			fmt.Fprintf(out, "%-36s  %-20s  %6s  %6s  %s\n", "----", "--------", "----", "-----", "-------")
			for _, p := range plans {
				fmt.Fprintf(out, "%-36s  %-20s  %6s  %6s  %s\n", p.UUID, p.Name,
					humanize.Comma(int64(p.JobCount)), humanize.Comma(int64(p.EdgeCount)), since(p.CreatedAt))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "Plan and replica database")
	return cmd
}

func newShowCmd() *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "show <uuid>",
		Short: "Show the jobs and edges of a stored plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if cmd.Flags().Changed("db") {
				cfg.DBPath = db
			}
			if err := requireDB(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, st.Close()) }()

			plan, err := st.GetPlan(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get plan: %w", err)
			}
			if plan == nil {
				return fmt.Errorf("plan %s not found", args[0])
			}
			jobs, err := st.ListPlanJobs(ctx, plan.UUID)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			edges, err := st.ListPlanEdges(ctx, plan.UUID)
			if err != nil {
				return fmt.Errorf("list edges: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan:     %s\n", plan.UUID)
			fmt.Fprintf(out, "Workflow: %s\n", plan.Name)
			if plan.Version != "" {
				fmt.Fprintf(out, "Version:  %s\n", plan.Version)
			}
			fmt.Fprintf(out, "Created:  %s\n", since(plan.CreatedAt))
			fmt.Fprintf(out, "\n%-40s  %-12s  %-10s  %5s  %s\n", "JOB", "TYPE", "SITE", "LEVEL", "STYLE")
			for _, j := range jobs {
				fmt.Fprintf(out, "%-40s  %-12s  %-10s  %5d  %s\n", j.Name, j.Type, j.Site, j.Level, j.Style)
			}
			fmt.Fprintln(out, "\nEdges:")
			for _, e := range edges {
				fmt.Fprintf(out, "  %s -> %s\n", e.Parent, e.Child)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "Plan and replica database")
	return cmd
}

// since renders a stored RFC 3339 timestamp relative to now, falling back to
// the raw value.
func since(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}
