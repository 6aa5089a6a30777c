package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/me/wfplan/internal/catalog"
	"github.com/me/wfplan/internal/planner"
	"github.com/me/wfplan/internal/store"
	pcat "github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

type planFlags struct {
	sites       string
	tc          string
	db          string
	output      string
	submitDir   string
	binDir      string
	refiner     string
	execSite    string
	stagingSite string
	outputSite  string
	prefix      string
	autoDeps    bool
	noValidate  bool
	remote      bool
}

func newPlanCmd() *cobra.Command {
	var f planFlags

	cmd := &cobra.Command{
		Use:   "plan <workflow.yml>",
		Short: "Plan a workflow and store or dump the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runPlan(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	cmd.Flags().StringVar(&f.sites, "sites", "", "Site catalog (YAML)")
	cmd.Flags().StringVar(&f.tc, "tc", "", "Transformation catalog (YAML)")
	cmd.Flags().StringVar(&f.db, "db", "", "Plan and replica database")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the plan as YAML to this file")
	cmd.Flags().StringVar(&f.submitDir, "submit-dir", "", "Directory relative output paths are resolved against")
	cmd.Flags().StringVar(&f.binDir, "bin-dir", "", "Directory holding the local job wrapper")
	cmd.Flags().StringVar(&f.refiner, "refiner", "", "Transfer refiner (basic, bundle, cluster, condor)")
	cmd.Flags().StringVar(&f.execSite, "exec-site", "", "Execution site for jobs without a site hint")
	cmd.Flags().StringVar(&f.stagingSite, "staging-site", "", "Staging site (defaults to the execution site)")
	cmd.Flags().StringVar(&f.outputSite, "output-site", "", "Site receiving staged out outputs")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "Prefix for generated job names")
	cmd.Flags().BoolVar(&f.autoDeps, "auto-deps", false, "Infer dependencies from file usage")
	cmd.Flags().BoolVar(&f.noValidate, "no-validate", false, "Skip schema validation")
	cmd.Flags().BoolVar(&f.remote, "remote-transfers", false, "Run transfer jobs on the staging site instead of the submit host")

	return cmd
}

// apply overlays flags the user set onto the loaded configuration.
func (f *planFlags) apply(cmd *cobra.Command) {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("sites", &cfg.SiteCatalog, f.sites)
	set("tc", &cfg.TransformationCatalog, f.tc)
	set("db", &cfg.DBPath, f.db)
	set("output", &cfg.OutputYAML, f.output)
	set("submit-dir", &cfg.SubmitDir, f.submitDir)
	set("bin-dir", &cfg.BinDir, f.binDir)
	set("refiner", &cfg.Refiner, f.refiner)
	set("exec-site", &cfg.ExecSite, f.execSite)
	set("staging-site", &cfg.StagingSite, f.stagingSite)
	set("output-site", &cfg.OutputSite, f.outputSite)
	set("prefix", &cfg.JobPrefix, f.prefix)
	if f.autoDeps {
		cfg.AutoDataDependencies = true
	}
	if f.noValidate {
		cfg.ValidateSchema = false
	}
	if f.remote {
		cfg.LocalTransfers = false
	}
}

func runPlan(ctx context.Context, out io.Writer, path string) (err error) {
	catalogs, err := loadCatalogs()
	if err != nil {
		return err
	}

	yamlPath := resolveOutput(cfg.OutputYAML)
	if yamlPath != "" {
		if err := os.MkdirAll(filepath.Dir(yamlPath), 0o755); err != nil {
			return fmt.Errorf("create submit dir: %w", err)
		}
	}

	var sinks []planner.Sink
	if cfg.DBPath != "" {
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		replicas, err := st.LoadReplicas(ctx)
		if err != nil {
			return multierr.Append(err, st.Close())
		}
		if replicas.Len() > 0 {
			catalogs.Replicas = replicas
		}
		sinks = append(sinks, st)
	}
	if yamlPath != "" {
		sinks = append(sinks, planner.NewYAMLFileSink(yamlPath))
	}

	p := planner.New(cfg, catalogs, logger, planner.WithSinks(sinks...))
	defer func() { err = multierr.Append(err, p.Close()) }()

	res, err := p.Plan(ctx, path)
	if err != nil {
		return err
	}
	printSummary(out, res, yamlPath)
	return nil
}

func loadCatalogs() (planner.Catalogs, error) {
	var c planner.Catalogs
	if cfg.SiteCatalog != "" {
		sites, err := catalog.LoadSiteCatalog(cfg.SiteCatalog)
		if err != nil {
			return c, err
		}
		c.Sites = sites
	} else {
		sites := pcat.NewSiteStore()
		catalog.EnsureLocalSite(sites)
		c.Sites = sites
		logger.Debug("no site catalog given; planning for the local site only")
	}
	if cfg.TransformationCatalog != "" {
		tc, err := catalog.LoadTransformationCatalog(cfg.TransformationCatalog)
		if err != nil {
			return c, err
		}
		c.Transformations = tc
	}
	return c, nil
}

func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("migrate %s: %w", cfg.DBPath, err), st.Close())
	}
	return st, nil
}

func resolveOutput(path string) string {
	if path == "" || filepath.IsAbs(path) || cfg.SubmitDir == "" {
		return path
	}
	return filepath.Join(cfg.SubmitDir, path)
}

func printSummary(w io.Writer, res *planner.Result, yamlPath string) {
	dag := res.DAG
	fmt.Fprintf(w, "Planned workflow %s (%s)\n", dag.Name, dag.UUID)
	fmt.Fprintf(w, "  %-14s %s\n", "jobs", humanize.Comma(int64(dag.JobCount())))
	fmt.Fprintf(w, "  %-14s %s\n", "edges", humanize.Comma(int64(res.Edges)))

	types := make([]string, 0, len(res.Counts))
	for t := range res.Counts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "    %-12s %s\n", t, humanize.Comma(int64(res.Counts[model.JobType(t)])))
	}

	if yamlPath != "" {
		if fi, err := os.Stat(yamlPath); err == nil {
			fmt.Fprintf(w, "  %-14s %s (%s)\n", "written", yamlPath, humanize.Bytes(uint64(fi.Size())))
		}
	}
	fmt.Fprintf(w, "  %-14s %s\n", "took", res.Duration.Round(time.Microsecond))
}
