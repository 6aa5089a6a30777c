// Package planner turns a workflow document into a concrete plan: it builds
// the graph, places jobs on sites, renders them for submission and adds the
// data movement they need.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/wfplan/internal/config"
	"github.com/me/wfplan/internal/credential"
	"github.com/me/wfplan/internal/graph"
	"github.com/me/wfplan/internal/parser"
	"github.com/me/wfplan/internal/style"
	"github.com/me/wfplan/internal/transfer"
	"github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

// Catalogs are the lookups a plan is made against. Replicas may be nil.
type Catalogs struct {
	Sites           catalog.SiteCatalog
	Transformations catalog.TransformationCatalog
	Replicas        catalog.ReplicaCatalog
}

// Result summarizes a plan.
type Result struct {
	DAG      *model.DAG
	Counts   map[model.JobType]int
	Edges    int
	Duration time.Duration
}

// Planner runs the planning stages in order.
type Planner struct {
	cfg      config.PlannerConfig
	catalogs Catalogs
	sinks    []Sink
	logger   *slog.Logger
	getenv   func(string) string
}

// Option configures a Planner.
type Option func(*Planner)

// WithSinks adds sinks that receive the finished plan.
func WithSinks(sinks ...Sink) Option {
	return func(p *Planner) { p.sinks = append(p.sinks, sinks...) }
}

// WithGetenv replaces the process environment lookup used for credentials.
func WithGetenv(fn func(string) string) Option {
	return func(p *Planner) { p.getenv = fn }
}

// New creates a Planner.
func New(cfg config.PlannerConfig, catalogs Catalogs, logger *slog.Logger, opts ...Option) *Planner {
	p := &Planner{cfg: cfg, catalogs: catalogs, logger: logger.With("component", "planner")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan parses the workflow at path and returns the refined graph after it
// has been handed to every sink.
func (p *Planner) Plan(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	dag, err := p.build(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.placeJobs(dag, dag.Jobs()); err != nil {
		return nil, err
	}

	original := dag.Jobs()

	refiner, err := transfer.New(p.cfg.Refiner, dag, p.refinerOptions(), p.logger)
	if err != nil {
		return nil, err
	}
	engine := transfer.NewEngine(transfer.EngineOptions{
		Sites:           p.catalogs.Sites,
		Transformations: p.catalogs.Transformations,
		Replicas:        p.catalogs.Replicas,
		OutputSite:      p.cfg.OutputSite,
	}, p.logger)
	if err := engine.Refine(dag, refiner); err != nil {
		return nil, fmt.Errorf("transfer refinement: %w", err)
	}

	seen := make(map[string]bool, len(original))
	for _, j := range original {
		seen[j.Name] = true
	}
	var added []*model.Job
	for _, j := range dag.Jobs() {
		if !seen[j.Name] {
			added = append(added, j)
		}
	}
	if err := p.placeJobs(dag, added); err != nil {
		return nil, err
	}
	var fopts []credential.FactoryOption
	if p.getenv != nil {
		fopts = append(fopts, credential.WithGetenv(p.getenv))
	}
	factory := credential.NewFactory(p.catalogs.Sites, p.logger, fopts...)
	applier := credential.NewApplier(factory, p.cfg.EncryptCredentials, p.logger)
	dispatcher := style.NewDispatcher(p.catalogs.Sites, applier, p.logger, style.Options{
		BinDir:       p.cfg.BinDir,
		DefaultStyle: model.StyleKind(p.cfg.DefaultStyle),
	})

	// Styles run last: local wrapping consumes the executable resolved and
	// the transfer lists written during refinement.
	if err := p.applyStyles(ctx, dispatcher, dag.Jobs()); err != nil {
		return nil, err
	}

	for _, s := range p.sinks {
		if err := s.Emit(ctx, dag); err != nil {
			return nil, fmt.Errorf("emit plan: %w", err)
		}
	}

	res := &Result{
		DAG:      dag,
		Counts:   dag.CountByType(),
		Edges:    len(dag.Edges()),
		Duration: time.Since(start),
	}
	p.logger.Info("plan complete", "workflow", dag.Name, "uuid", dag.UUID, "jobs", dag.JobCount(),
		"edges", res.Edges, "duration", res.Duration)
	return res, nil
}

// Close closes every sink.
func (p *Planner) Close() error {
	return closeSinks(p.sinks)
}

func (p *Planner) build(path string) (*model.DAG, error) {
	var popts []parser.Option
	if p.cfg.ValidateSchema {
		v, err := parser.NewSchemaValidator(p.logger)
		if err != nil {
			return nil, err
		}
		popts = append(popts, parser.WithSchemaValidation(v))
	}
	b := graph.NewBuilder(p.logger, graph.Options{
		Prefix:               p.cfg.JobPrefix,
		AutoDataDependencies: p.cfg.AutoDataDependencies,
	})
	if err := parser.New(p.logger, popts...).ParseFile(path, b); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return b.Result()
}

// placeJobs assigns execution and staging sites and the working directory.
// A job's execution.site hint wins over the configured default. Profiles
// from the transformation catalog entry on that site fill in what the job
// does not set itself.
func (p *Planner) placeJobs(dag *model.DAG, jobs []*model.Job) error {
	for _, j := range jobs {
		if j.SiteHandle == "" {
			j.SiteHandle = j.Hints.Value(model.HintsExecutionSite)
		}
		if j.SiteHandle == "" {
			j.SiteHandle = p.cfg.ExecSite
		}
		site, ok := p.catalogs.Sites.Lookup(j.SiteHandle)
		if !ok {
			return &model.ConfigError{JobID: j.Label(), Key: "hints." + model.HintsExecutionSite, Site: j.SiteHandle,
				Msg: "execution site not in site catalog"}
		}
		if j.StagingSiteHandle == "" {
			j.StagingSiteHandle = p.cfg.StagingSite
		}
		if j.StagingSiteHandle == "" {
			j.StagingSiteHandle = j.SiteHandle
		}
		if j.Directory == "" {
			j.Directory = site.ScratchDir()
		}
		p.mergeTransformationProfiles(dag, j)
	}
	return nil
}

func (p *Planner) mergeTransformationProfiles(dag *model.DAG, j *model.Job) {
	name := j.Transformation.LogicalName()
	entries := dag.Transformations.EntriesFor(name, j.SiteHandle)
	if p.catalogs.Transformations != nil {
		entries = append(entries, p.catalogs.Transformations.EntriesFor(name, j.SiteHandle)...)
	}
	for _, e := range entries {
		for ns, prof := range e.Profiles {
			if target := j.Profiles(ns); target != nil {
				target.MergeMissing(prof)
			}
		}
	}
}

func (p *Planner) applyStyles(ctx context.Context, d *style.Dispatcher, jobs []*model.Job) error {
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Apply(j); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) refinerOptions() transfer.Options {
	opts := transfer.DefaultOptions()
	opts.Prefix = p.cfg.JobPrefix
	opts.LocalTransfers = p.cfg.LocalTransfers
	opts.CreateRegistration = p.cfg.CreateRegistration
	opts.StageInBundle = p.cfg.StageInBundle
	opts.StageOutBundle = p.cfg.StageOutBundle
	opts.Transformations = p.catalogs.Transformations
	opts.Sites = p.catalogs.Sites
	return opts
}
