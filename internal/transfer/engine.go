package transfer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/wfplan/internal/credential"
	"github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

// EngineOptions configures the Engine.
type EngineOptions struct {
	Sites           catalog.SiteCatalog
	Transformations catalog.TransformationCatalog
	// Replicas is consulted after the replicas embedded in the workflow.
	Replicas catalog.ReplicaCatalog
	// OutputSite receives staged out outputs. Without one nothing is
	// staged out.
	OutputSite string
}

// Engine derives the file transfers of every job and hands them to a
// Refiner, level by level.
type Engine struct {
	opts   EngineOptions
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOptions, logger *slog.Logger) *Engine {
	return &Engine{opts: opts, logger: logger.With("component", "transfer-engine")}
}

// jobTransfers are the transfers derived for one job.
type jobTransfers struct {
	stageIn, interSite, stageOut []*model.FileTransfer
}

// Refine adds transfer jobs for every job in dag using r. Jobs the refiner
// adds get the credentials and data endpoints their URLs need.
func (e *Engine) Refine(dag *model.DAG, r Refiner) error {
	levels, err := dag.Levels()
	if err != nil {
		return err
	}
	original := make(map[string]bool, dag.JobCount())
	producers := make(map[string]*model.Job)
	for _, level := range levels {
		for _, j := range level {
			original[j.Name] = true
			for _, lfn := range j.Outputs.LFNs() {
				if _, ok := producers[lfn]; !ok {
					producers[lfn] = j
				}
			}
		}
	}

	e.logger.Info("refining transfers", "refiner", r.Description(), "jobs", len(original), "levels", len(levels))
	for _, level := range levels {
		for _, j := range level {
			if j.Type != model.JobTypeCompute && !j.Type.IsWorkflow() {
				continue
			}
			t, err := e.transfers(dag, j, producers)
			if err != nil {
				return fmt.Errorf("transfers for job %s: %w", j.Name, err)
			}
			if len(t.stageIn) > 0 {
				if err := r.AddStageIn(j, t.stageIn); err != nil {
					return err
				}
			}
			if len(t.interSite) > 0 {
				if err := r.AddInterSite(j, t.interSite); err != nil {
					return err
				}
			}
			if len(t.stageOut) > 0 {
				if err := r.AddStageOut(j, t.stageOut, false); err != nil {
					return err
				}
			}
		}
	}
	if err := r.Done(); err != nil {
		return err
	}

	added := 0
	for _, j := range dag.Jobs() {
		if original[j.Name] {
			continue
		}
		added++
		annotate(j)
	}
	e.logger.Info("transfer refinement done", "added", added, "total", dag.JobCount())
	return nil
}

// annotate records the credential and endpoint each transfer URL needs.
func annotate(j *model.Job) {
	for _, ft := range j.Transfers {
		pairs := append(append([]model.URLPair{}, ft.Sources...), ft.Destinations...)
		for _, p := range pairs {
			t, ok := credential.ForURL(p.URL)
			if !ok {
				continue
			}
			j.AddCredential(p.Site, t)
			j.AddDataEndpoint(p.Site, p.URL)
		}
	}
}

func (e *Engine) transfers(dag *model.DAG, j *model.Job, producers map[string]*model.Job) (jobTransfers, error) {
	var t jobTransfers
	staging := stagingSite(j)
	scratch, err := e.scratchURL(j, staging)
	if err != nil {
		return t, err
	}

	for _, in := range j.Inputs.Sorted() {
		if p, ok := producers[in.LFN]; ok && p.Name != j.Name {
			from := stagingSite(p)
			if from == staging {
				continue
			}
			src, err := e.scratchURL(j, from)
			if err != nil {
				return t, err
			}
			ft := &model.FileTransfer{LFN: in.LFN, JobName: p.Name, Optional: in.Optional}
			ft.AddSource(from, src+"/"+in.LFN)
			ft.AddDestination(staging, scratch+"/"+in.LFN)
			t.interSite = append(t.interSite, ft)
			continue
		}

		locs := e.replicas(dag, in.LFN)
		if len(locs) == 0 {
			if in.Optional {
				e.logger.Debug("optional input without replica", "job", j.Name, "lfn", in.LFN)
				continue
			}
			return t, &model.ConfigError{JobID: j.Label(), Key: "replica", Site: staging,
				Msg: fmt.Sprintf("no replica of input %s", in.LFN)}
		}
		ft := &model.FileTransfer{LFN: in.LFN, JobName: j.Name, Optional: in.Optional, Size: in.Size}
		for _, l := range preferSite(locs, staging) {
			ft.AddSource(l.Site, l.PFN)
		}
		ft.AddDestination(staging, scratch+"/"+in.LFN)
		t.stageIn = append(t.stageIn, ft)
	}

	exe, err := e.executable(dag, j, staging, scratch)
	if err != nil {
		return t, err
	}
	if exe != nil {
		t.stageIn = append(t.stageIn, exe)
	}

	if e.opts.OutputSite == "" {
		return t, nil
	}
	var storage string
	for _, out := range j.Outputs.Sorted() {
		if !out.StageOut && !out.RegisterReplica {
			continue
		}
		if storage == "" {
			if storage, err = e.storageURL(j); err != nil {
				return t, err
			}
		}
		ft := &model.FileTransfer{
			LFN:                   out.LFN,
			JobName:               j.Name,
			TransientTransfer:     !out.StageOut,
			TransientRegistration: !out.RegisterReplica,
		}
		ft.AddSource(staging, scratch+"/"+out.LFN)
		ft.AddDestination(e.opts.OutputSite, storage+"/"+out.LFN)
		t.stageOut = append(t.stageOut, ft)
	}
	return t, nil
}

// executable resolves the job's executable. An installed entry on the job's
// site sets the path; otherwise a stageable entry is transferred into the
// staging directory.
func (e *Engine) executable(dag *model.DAG, j *model.Job, staging, scratch string) (*model.FileTransfer, error) {
	name := j.Transformation.LogicalName()
	entries := dag.Transformations.EntriesFor(name, "")
	if e.opts.Transformations != nil {
		entries = append(entries, e.opts.Transformations.EntriesFor(name, "")...)
	}
	var stageable []model.TransformationEntry
	for _, te := range entries {
		switch te.Type {
		case model.TransformationStageable:
			stageable = append(stageable, te)
		default:
			if te.Site == j.SiteHandle {
				if j.Executable == "" {
					j.Executable = te.PFN
				}
				return nil, nil
			}
		}
	}
	if len(stageable) == 0 {
		return nil, nil
	}

	lfn := executableLFN(j.Transformation)
	ft := &model.FileTransfer{LFN: lfn, JobName: j.Name, Executable: true}
	for _, te := range stageable {
		ft.AddSource(te.Site, te.PFN)
	}
	dst := scratch + "/" + lfn
	ft.AddDestination(staging, dst)
	j.Executable = urlPath(dst)
	return ft, nil
}

// executableLFN names a staged executable after its transformation.
func executableLFN(ref model.TransformationRef) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{ref.Namespace, ref.Name, ref.Version} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

func (e *Engine) replicas(dag *model.DAG, lfn string) []model.ReplicaLocation {
	locs := append([]model.ReplicaLocation{}, dag.Replicas.Lookup(lfn)...)
	if e.opts.Replicas != nil {
		locs = append(locs, e.opts.Replicas.Lookup(lfn)...)
	}
	return locs
}

// preferSite orders replicas on site first, keeping the order otherwise.
func preferSite(locs []model.ReplicaLocation, site string) []model.ReplicaLocation {
	out := make([]model.ReplicaLocation, 0, len(locs))
	for _, l := range locs {
		if l.Site == site {
			out = append(out, l)
		}
	}
	for _, l := range locs {
		if l.Site != site {
			out = append(out, l)
		}
	}
	return out
}

func (e *Engine) site(j *model.Job, handle string) (*catalog.SiteEntry, error) {
	if e.opts.Sites != nil {
		if s, ok := e.opts.Sites.Lookup(handle); ok {
			return s, nil
		}
	}
	return nil, &model.ConfigError{JobID: j.Label(), Key: "site", Site: handle, Msg: "site not in site catalog"}
}

func (e *Engine) scratchURL(j *model.Job, handle string) (string, error) {
	s, err := e.site(j, handle)
	if err != nil {
		return "", err
	}
	u := s.ScratchURL()
	if u == "" {
		return "", &model.ConfigError{JobID: j.Label(), Key: "directories." + catalog.DirSharedScratch, Site: handle,
			Msg: "site has no scratch directory"}
	}
	return u, nil
}

func (e *Engine) storageURL(j *model.Job) (string, error) {
	s, err := e.site(j, e.opts.OutputSite)
	if err != nil {
		return "", err
	}
	u := s.StorageURL()
	if u == "" {
		return "", &model.ConfigError{JobID: j.Label(), Key: "directories." + catalog.DirSharedStorage, Site: s.Handle,
			Msg: "output site has no storage directory"}
	}
	return u, nil
}
