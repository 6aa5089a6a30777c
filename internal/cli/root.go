package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/me/wfplan/internal/config"
	"github.com/me/wfplan/internal/logging"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagVerbose   int

	cfg    config.PlannerConfig
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the wfplan CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wfplan",
		Short: "wfplan plans abstract workflows onto grid and cluster sites",
		Long: `wfplan reads an abstract workflow document together with site and
transformation catalogs and produces a concrete plan: jobs bound to sites,
rendered for their submission style, with the data movement they need.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.DefaultPlannerConfig()
			if flagConfig != "" {
				if err := config.LoadFile(flagConfig, &cfg); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = flagLogFormat
			}
			if flagDebug {
				cfg.LogLevel = "debug"
			}
			level := logging.Verbosity(logging.ParseLevel(cfg.LogLevel), flagVerbose)
			logger = logging.NewLoggerWithWriter(level, cfg.LogFormat, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Planner configuration file (YAML)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "Increase log verbosity (repeatable)")

	root.AddCommand(
		newPlanCmd(),
		newValidateCmd(),
		newRCCmd(),
		newPlansCmd(),
		newShowCmd(),
	)

	return root
}

// requireDB returns an error naming the command when no database is set.
func requireDB(cmd *cobra.Command) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("%s: no database configured; pass --db or set db in the config file", cmd.CommandPath())
	}
	return nil
}
