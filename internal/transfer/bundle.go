package transfer

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/me/wfplan/pkg/model"
)

// Bundle spreads the transfers of all jobs staging to a site over a fixed
// number of transfer jobs per site. Stage-out jobs are bundled per level of
// the workflow so that outputs leave as soon as their level completes.
// Inter-site transfers are handled as in Basic.
type Bundle struct {
	*Basic

	stageIn      map[string]*PoolTransfer
	stageInOrder []string
	// stageInLevel is the level of the open stage-in pools, or -1 when
	// stage-in pools span the whole workflow.
	stageInLevel int
	// setup maps a file key to the set-xbit job that makes it runnable.
	setup map[string]string

	stageOut      map[string]*PoolTransfer
	stageOutOrder []string
	stageOutLevel int

	stageInKey  string
	stageOutKey string
}

// NewBundle creates a Bundle refiner adding jobs to dag.
func NewBundle(dag *model.DAG, opts Options, logger *slog.Logger) *Bundle {
	return newBundle(dag, opts, logger, KindBundle)
}

func newBundle(dag *model.DAG, opts Options, logger *slog.Logger, kind string) *Bundle {
	b := &Bundle{
		Basic:         &Basic{refiner: newRefiner(dag, opts, logger, kind)},
		setup:         make(map[string]string),
		stageInLevel:  -1,
		stageOutLevel: -1,
		stageInKey:    model.PegasusStageInClusters,
		stageOutKey:   model.PegasusStageOutClusters,
	}
	b.resetStageIn()
	b.resetStageOut()
	return b
}

// Description implements Refiner.
func (r *Bundle) Description() string {
	return "transfers bundled round robin into a fixed number of jobs per site"
}

// AddStageIn implements Refiner.
func (r *Bundle) AddStageIn(job *model.Job, files []*model.FileTransfer) error {
	priority, err := jobPriority(job)
	if err != nil {
		return err
	}
	site := stagingSite(job)

	parents := make(map[string]bool)
	var txJobs []string
	var executables []*model.FileTransfer
	for _, ft := range files {
		ft.Priority = priority
		key := FileKey(ft.LFN, site)
		if par, ok := r.table.Lookup(ft.LFN, site); ok {
			parents[par] = true
			r.addRelation(par, job.Name)
			if ft.Executable {
				if x, ok := r.setup[key]; ok {
					r.addRelation(x, job.Name)
				}
			}
			continue
		}

		pt, ok := r.stageIn[site]
		if !ok {
			factor, err := r.bundleFactor(job, site, r.stageInKey, r.opts.StageInBundle)
			if err != nil {
				return err
			}
			pt = NewPoolTransfer(site, factor, r.opts.LocalTransfers, model.JobTypeStageIn, r.opts.Prefix)
			r.stageIn[site] = pt
			r.stageInOrder = append(r.stageInOrder, site)
			r.logger.Debug("stage-in pool", "site", site, "bundle", pt.Capacity(), "level", r.stageInLevel)
		}
		var tc *TransferContainer
		if r.stageInLevel < 0 {
			tc = pt.AddTransfer(ft)
		} else {
			tc = pt.AddTransfers([]*model.FileTransfer{ft}, r.stageInLevel)
		}
		if ft.Executable {
			txJobs = append(txJobs, tc.Name)
			executables = append(executables, ft)
			r.setup[key] = setXBitName(job.Name, 0)
		}
		r.table.Record(ft.LFN, site, tc.Name)
		if !parents[tc.Name] {
			parents[tc.Name] = true
			r.addRelation(tc.Name, job.Name)
		}
	}

	if len(executables) == 0 {
		return nil
	}
	x := newSetXBitJob(job, executables, 0)
	if err := r.addJob(x); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, tx := range txJobs {
		if seen[tx] {
			continue
		}
		seen[tx] = true
		r.addRelation(tx, x.Name)
	}
	r.addRelation(x.Name, job.Name)
	return nil
}

// AddStageOut implements Refiner. Moving to a new level flushes the pools
// of the previous one.
func (r *Bundle) AddStageOut(job *model.Job, files []*model.FileTransfer, deletedLeaf bool) error {
	if len(files) == 0 {
		return nil
	}
	priority, err := jobPriority(job)
	if err != nil {
		return err
	}
	tx, reg := partition(files, priority, r.opts.CreateRegistration)
	if len(tx) == 0 && len(reg) == 0 {
		return nil
	}

	if job.Level != r.stageOutLevel {
		if err := r.flushStageOut(); err != nil {
			return err
		}
		r.stageOutLevel = job.Level
	}

	site := stagingSite(job)
	pt, ok := r.stageOut[site]
	if !ok {
		factor, err := r.bundleFactor(job, site, r.stageOutKey, r.opts.StageOutBundle)
		if err != nil {
			return err
		}
		pt = NewPoolTransfer(site, factor, r.opts.LocalTransfers, model.JobTypeStageOut, r.opts.Prefix)
		r.stageOut[site] = pt
		r.stageOutOrder = append(r.stageOutOrder, site)
	}

	tc := pt.AddTransfers(tx, job.Level)
	switch {
	case len(tx) > 0:
		if !deletedLeaf {
			r.addRelation(job.Name, tc.Name)
		}
	case !deletedLeaf:
		r.addRelation(job.Name, tc.RegName)
	}
	tc.AddRegistrations(reg...)
	return nil
}

// Done implements Refiner.
func (r *Bundle) Done() error {
	if err := r.flushStageIn(); err != nil {
		return err
	}
	if err := r.flushStageOut(); err != nil {
		return err
	}
	r.logger.Debug("adding relations", "files", r.table.Len())
	return r.rel.flush(r.dag)
}

// flushStageIn adds the stage-in jobs of the open pools and starts with
// empty pools.
func (r *Bundle) flushStageIn() error {
	for _, site := range r.stageInOrder {
		for _, tc := range r.stageIn[site].Containers() {
			j := newTransferJob(tc.Name, model.JobTypeStageIn, r.transferSite(site), site, tc.Transfers)
			if r.stageInLevel >= 0 {
				j.Level = r.stageInLevel
			}
			if err := r.addJob(j); err != nil {
				return err
			}
		}
	}
	r.resetStageIn()
	return nil
}

func (r *Bundle) resetStageIn() {
	r.stageIn = make(map[string]*PoolTransfer)
	r.stageInOrder = nil
}

// flushStageOut adds the stage-out and registration jobs of the current
// level and starts with empty pools.
func (r *Bundle) flushStageOut() error {
	for _, site := range r.stageOutOrder {
		for _, tc := range r.stageOut[site].Containers() {
			hasTransfer := len(tc.Transfers) > 0
			if hasTransfer {
				j := newTransferJob(tc.Name, model.JobTypeStageOut, r.transferSite(site), site, tc.Transfers)
				j.Level = r.stageOutLevel
				if err := r.addJob(j); err != nil {
					return err
				}
			}
			if len(tc.Registrations) == 0 {
				continue
			}
			if hasTransfer {
				r.addRelation(tc.Name, tc.RegName)
			}
			rj := newRegistrationJob(tc.RegName, site, tc.Registrations)
			rj.Level = r.stageOutLevel
			if err := r.addJob(rj); err != nil {
				return err
			}
		}
	}
	r.resetStageOut()
	return nil
}

func (r *Bundle) resetStageOut() {
	r.stageOut = make(map[string]*PoolTransfer)
	r.stageOutOrder = nil
}

// bundleFactor resolves the number of transfer jobs for site. The job's
// profile wins over the transfer executable's catalog entry for the site,
// which wins over the site's own profile. def applies when none is set.
func (r *Bundle) bundleFactor(job *model.Job, site, key string, def int) (int, error) {
	if v := job.Pegasus.Value(key); v != "" {
		return parseFactor(v, job.Label(), site, key)
	}
	if r.opts.Transformations != nil {
		for _, e := range r.opts.Transformations.EntriesFor(TransferTransformation.LogicalName(), site) {
			if v, ok := e.Profiles.Value(model.NamespacePegasus, key); ok && v != "" {
				return parseFactor(v, job.Label(), site, key)
			}
		}
	}
	if r.opts.Sites != nil {
		if s, ok := r.opts.Sites.Lookup(site); ok {
			if v, ok := s.Profile(model.NamespacePegasus, key); ok && v != "" {
				return parseFactor(v, job.Label(), site, key)
			}
		}
	}
	if def < 1 {
		def = DefaultBundleFactor
	}
	return def, nil
}

func parseFactor(v, jobID, site, key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 0, &model.ConfigError{JobID: jobID, Key: "pegasus." + key, Site: site,
			Msg: fmt.Sprintf("bundle factor %q is not a positive integer", v)}
	}
	return n, nil
}
