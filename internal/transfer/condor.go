package transfer

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/me/wfplan/pkg/model"
)

// Condor lets the scheduler move files itself. Inputs become part of the
// compute job's transfer list and outputs are pulled back by a no-op job on
// the submit host. Only file URLs can be handled this way.
type Condor struct {
	refiner
}

// NewCondor creates a Condor refiner adding jobs to dag.
func NewCondor(dag *model.DAG, opts Options, logger *slog.Logger) *Condor {
	return &Condor{refiner: newRefiner(dag, opts, logger, KindCondor)}
}

// Description implements Refiner.
func (r *Condor) Description() string {
	return "scheduler file transfer for local files"
}

// AddStageIn implements Refiner.
func (r *Condor) AddStageIn(job *model.Job, files []*model.FileTransfer) error {
	paths := make([]string, 0, len(files))
	for _, ft := range files {
		var src string
		if len(ft.Sources) > 0 {
			src = ft.Sources[0].URL
		}
		p, err := filePath(src)
		if err != nil {
			return &model.ConfigError{JobID: job.Label(), Key: "transfer.source", Site: job.SiteHandle,
				Msg: fmt.Sprintf("input %s: %v", ft.LFN, err)}
		}
		paths = append(paths, p)
		if _, ok := job.Inputs.Get(ft.LFN); !ok {
			job.Inputs.Add(&model.PegasusFile{LFN: ft.LFN, Link: model.LinkInput, Executable: ft.Executable})
		}
	}
	job.Condor.AddInputFilesForTransfer(paths...)
	return nil
}

// AddInterSite implements Refiner. The scheduler cannot move files between
// two remote sites.
func (r *Condor) AddInterSite(*model.Job, []*model.FileTransfer) error {
	return &model.UnsupportedError{Component: "condor transfer refiner", Op: "inter-site transfer"}
}

// AddStageOut implements Refiner. Registration is not supported and only
// logged.
func (r *Condor) AddStageOut(job *model.Job, files []*model.FileTransfer, deletedLeaf bool) error {
	var tx []*model.FileTransfer
	var dir string
	for _, ft := range files {
		if !ft.TransientRegistration {
			r.logger.Warn("registration of outputs not supported", "job", job.Name, "lfn", ft.LFN)
		}
		if ft.TransientTransfer {
			continue
		}
		var dst string
		if len(ft.Destinations) > 0 {
			dst = ft.Destinations[0].URL
		}
		p, err := filePath(dst)
		if err != nil {
			return &model.ConfigError{JobID: job.Label(), Key: "transfer.destination", Site: job.SiteHandle,
				Msg: fmt.Sprintf("output %s: %v", ft.LFN, err)}
		}
		dir = path.Dir(p)
		tx = append(tx, ft)
	}
	if len(tx) == 0 {
		return nil
	}

	name := StageOutPrefix + LocalPrefix + r.opts.Prefix + job.Name + "_0"
	so := model.NewJob(name, model.JobTypeStageOut)
	so.Transformation = model.TransformationRef{Namespace: "pegasus", Name: "true"}
	so.SiteHandle = model.LocalSite
	so.StagingSiteHandle = stagingSite(job)
	so.Executable = "/bin/true"
	so.Level = job.Level
	so.Condor.Construct(model.CondorUniverse, string(model.UniverseVanilla))
	for _, ft := range tx {
		if len(ft.Sources) == 0 {
			continue
		}
		if p, err := filePath(ft.Sources[0].URL); err == nil {
			so.Condor.AddInputFilesForTransfer(p)
			so.Condor.AddOutputFilesForTransfer(ft.LFN)
		}
		so.Outputs.Add(&model.PegasusFile{LFN: ft.LFN, Link: model.LinkOutput})
	}
	so.Condor.Construct(model.CondorInitialDir, dir)
	so.Transfers = tx
	if err := r.addJob(so); err != nil {
		return err
	}
	if !deletedLeaf {
		r.addRelation(job.Name, name)
	}
	return nil
}

// Done implements Refiner.
func (r *Condor) Done() error {
	return r.rel.flush(r.dag)
}

// filePath returns the path of a file URL.
func filePath(raw string) (string, error) {
	if !strings.HasPrefix(raw, "file:/") {
		return "", fmt.Errorf("%q is not a file URL", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("malformed URL %q: %w", raw, err)
	}
	return u.Path, nil
}
