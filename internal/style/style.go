// Package style renders jobs for the submission path they take to their
// execution site. Each style rewrites the job's condor and env namespaces
// in place.
package style

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/me/wfplan/internal/credential"
	"github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

// LocalHelper is the wrapper script local universe jobs are executed through.
const LocalHelper = "pegasus-lite-local.sh"

// Style renders one kind of submission.
type Style interface {
	Kind() model.StyleKind
	Apply(job *model.Job) error
}

// Options configures a Dispatcher.
type Options struct {
	// BinDir holds the local helper. Defaults to the directory of the
	// running executable.
	BinDir string
	// DefaultStyle is used when neither the job nor its site names one.
	DefaultStyle model.StyleKind
}

// Dispatcher selects the style for each job and applies it.
type Dispatcher struct {
	styles       map[model.StyleKind]Style
	defaultStyle model.StyleKind
	base         *base
}

// NewDispatcher creates a dispatcher with every built-in style registered.
// The local helper path is resolved here, once.
func NewDispatcher(sites catalog.SiteCatalog, creds *credential.Applier, logger *slog.Logger, opts Options) *Dispatcher {
	b := &base{
		sites:       sites,
		creds:       creds,
		localHelper: resolveLocalHelper(opts.BinDir),
		logger:      logger.With("component", "style"),
	}
	d := &Dispatcher{
		styles:       make(map[model.StyleKind]Style),
		defaultStyle: opts.DefaultStyle,
		base:         b,
	}
	if d.defaultStyle == "" {
		d.defaultStyle = model.StyleCondor
	}
	direct := &Condor{base: b}
	for _, s := range []Style{
		direct,
		&CondorG{base: b},
		&CondorC{base: b, direct: direct},
		&GlideIn{base: b},
		&GlideinWMS{base: b, direct: direct},
		newGLite(b),
		newSSH(b),
		newPanda(b),
		newCream(b),
	} {
		d.Register(s)
	}
	return d
}

// Register adds or replaces the style for its kind.
func (d *Dispatcher) Register(s Style) {
	d.styles[s.Kind()] = s
}

// Kinds returns the registered style kinds, sorted.
func (d *Dispatcher) Kinds() []model.StyleKind {
	out := make([]model.StyleKind, 0, len(d.styles))
	for k := range d.styles {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve returns the style kind for job: the job's own tag, then its
// pegasus style profile, then the site's, then the dispatcher default.
func (d *Dispatcher) Resolve(job *model.Job) (model.StyleKind, error) {
	kind := job.Style
	if kind == "" {
		kind = model.StyleKind(job.Pegasus.Value(model.PegasusStyle))
	}
	if kind == "" && d.base.sites != nil {
		if site, ok := d.base.sites.Lookup(job.SiteHandle); ok {
			v, _ := site.Profile(model.NamespacePegasus, model.PegasusStyle)
			kind = model.StyleKind(v)
		}
	}
	if kind == "" {
		kind = d.defaultStyle
	}
	if _, ok := d.styles[kind]; !ok {
		return "", &model.ConfigError{
			JobID: job.Label(),
			Key:   model.PegasusStyle,
			Site:  job.SiteHandle,
			Msg:   fmt.Sprintf("unknown submission style %q", kind),
		}
	}
	return kind, nil
}

// Apply renders job with its resolved style and records the style on it.
func (d *Dispatcher) Apply(job *model.Job) error {
	kind, err := d.Resolve(job)
	if err != nil {
		return err
	}
	if err := d.styles[kind].Apply(job); err != nil {
		return fmt.Errorf("apply %s style to job %s: %w", kind, job.Name, err)
	}
	job.Style = kind
	d.base.logger.Debug("style applied", "job", job.Name, "style", kind, "universe", job.Universe())
	return nil
}

// LocalHelperPath returns the resolved local helper path.
func (d *Dispatcher) LocalHelperPath() string {
	return d.base.localHelper
}

func resolveLocalHelper(binDir string) string {
	if binDir == "" {
		if exe, err := os.Executable(); err == nil {
			binDir = filepath.Dir(exe)
		}
	}
	return filepath.Join(binDir, LocalHelper)
}

// base carries what every style needs.
type base struct {
	sites       catalog.SiteCatalog
	creds       *credential.Applier
	localHelper string
	logger      *slog.Logger
}

func (b *base) site(job *model.Job) (*catalog.SiteEntry, error) {
	if b.sites != nil {
		if s, ok := b.sites.Lookup(job.SiteHandle); ok {
			return s, nil
		}
	}
	return nil, &model.ConfigError{
		JobID: job.Label(),
		Site:  job.SiteHandle,
		Msg:   "site is not in the site catalog",
	}
}

func (b *base) gateway(job *model.Job, site *catalog.SiteEntry) (catalog.Gateway, error) {
	jt := job.Type.GatewayJobType()
	gw, ok := site.Gateway(jt)
	if !ok || (gw.Contact == "" && gw.Type == "") {
		return catalog.Gateway{}, &model.ConfigError{
			JobID: job.Label(),
			Key:   "gateway." + string(jt),
			Site:  site.Handle,
			Msg:   "site has no gateway for this job class",
		}
	}
	return gw, nil
}

func (b *base) applyCredentials(job *model.Job, localExec bool) error {
	if b.creds == nil {
		return nil
	}
	return b.creds.Apply(job, localExec)
}

func (b *base) applySubmission(job *model.Job) error {
	if b.creds == nil {
		return nil
	}
	return b.creds.ApplySubmission(job)
}

// profile returns a pegasus profile from the job, falling back to the site.
func profile(job *model.Job, site *catalog.SiteEntry, key string) string {
	if v := job.Pegasus.Value(key); v != "" {
		return v
	}
	if site != nil {
		v, _ := site.Profile(model.NamespacePegasus, key)
		return v
	}
	return ""
}

// intProfile parses an integer pegasus profile. Zero means unset.
func intProfile(job *model.Job, site *catalog.SiteEntry, key string) (int, error) {
	v := profile(job, site, key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &model.ConfigError{JobID: job.Label(), Key: "pegasus." + key, Site: job.SiteHandle,
			Msg: fmt.Sprintf("value %q is not a non-negative integer", v)}
	}
	return n, nil
}

// universe returns the job's universe, defaulting by site and job type, with
// standard downgraded to vanilla for jobs that cannot checkpoint.
func (b *base) universe(job *model.Job) model.Universe {
	u := job.Universe()
	if u == "" {
		switch {
		case job.Type.IsWorkflow(), job.SiteHandle == model.LocalSite:
			u = model.UniverseLocal
		default:
			u = model.UniverseVanilla
		}
	}
	if u == model.UniverseStandard && (job.Type != model.JobTypeCompute || job.Aggregated) {
		b.logger.Debug("standard universe downgraded to vanilla", "job", job.Name, "type", job.Type, "aggregated", job.Aggregated)
		u = model.UniverseVanilla
	}
	return u
}
