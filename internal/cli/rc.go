package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/me/wfplan/pkg/model"
)

func newRCCmd() *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "rc",
		Short: "Manage the replica catalog stored in the plan database",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = db
			}
			return requireDB(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&db, "db", "", "Plan and replica database")

	cmd.AddCommand(newRCAddCmd(), newRCListCmd())
	return cmd
}

func newRCAddCmd() *cobra.Command {
	var meta []string

	cmd := &cobra.Command{
		Use:   "add <lfn> <site> <pfn>",
		Short: "Register a replica",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			loc := model.ReplicaLocation{LFN: args[0], Site: args[1], PFN: args[2]}
			for _, kv := range meta {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("metadata %q is not key=value", kv)
				}
				if loc.Metadata == nil {
					loc.Metadata = make(map[string]string)
				}
				loc.Metadata[k] = v
			}

			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, st.Close()) }()

			if err := st.InsertReplica(cmd.Context(), loc); err != nil {
				return fmt.Errorf("add replica: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replica added: %s @ %s\n", loc.LFN, loc.Site)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "Replica metadata as key=value (repeatable)")
	return cmd
}

func newRCListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [lfn]",
		Short: "List replicas",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var lfn string
			if len(args) > 0 {
				lfn = args[0]
			}

			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, st.Close()) }()

			locs, err := st.ListReplicas(cmd.Context(), lfn)
			if err != nil {
				return fmt.Errorf("list replicas: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(locs) == 0 {
				fmt.Fprintln(out, "No replicas found.")
				return nil
			}
			fmt.Fprintf(out, "%-30s  %-12s  %s\n", "LFN", "SITE", "PFN")
			fmt.Fprintf(out, "%-30s  %-12s  %s\n", "---", "----", "---")
			for _, l := range locs {
				fmt.Fprintf(out, "%-30s  %-12s  %s\n", l.LFN, l.Site, l.PFN)
			}
			return nil
		},
	}
}
