package transfer

import (
	"log/slog"

	"github.com/me/wfplan/pkg/model"
)

// Basic adds one stage-in, one stage-out and one registration job per
// compute job. Files already delivered to a site by an earlier job are not
// transferred again; the consumer depends on that job instead.
type Basic struct {
	refiner
}

// NewBasic creates a Basic refiner adding jobs to dag.
func NewBasic(dag *model.DAG, opts Options, logger *slog.Logger) *Basic {
	return &Basic{refiner: newRefiner(dag, opts, logger, KindBasic)}
}

// Description implements Refiner.
func (r *Basic) Description() string {
	return "one transfer job per compute job and direction"
}

// AddStageIn implements Refiner.
func (r *Basic) AddStageIn(job *model.Job, files []*model.FileTransfer) error {
	priority, err := jobPriority(job)
	if err != nil {
		return err
	}
	site := stagingSite(job)
	name := StageInPrefix + r.locality() + r.opts.Prefix + job.Name + "_0"

	parents := make(map[string]bool)
	var fresh, executables []*model.FileTransfer
	for _, ft := range files {
		ft.Priority = priority
		if par, ok := r.table.Lookup(ft.LFN, site); ok {
			if !parents[par] {
				r.addRelation(par, job.Name)
				parents[par] = true
			}
			continue
		}
		if ft.Executable {
			r.table.Record(ft.LFN, site, setXBitName(job.Name, 0))
			executables = append(executables, ft)
		} else {
			r.table.Record(ft.LFN, site, name)
		}
		fresh = append(fresh, ft)
	}
	if len(fresh) == 0 {
		return nil
	}

	tx := newTransferJob(name, model.JobTypeStageIn, r.transferSite(site), site, fresh)
	tx.Level = job.Level
	if err := r.addJob(tx); err != nil {
		return err
	}
	if len(executables) == 0 {
		r.addRelation(name, job.Name)
		return nil
	}
	x := newSetXBitJob(job, executables, 0)
	if err := r.addJob(x); err != nil {
		return err
	}
	r.addRelation(name, x.Name)
	r.addRelation(x.Name, job.Name)
	return nil
}

// AddInterSite implements Refiner. files are outputs of jobs on other
// sites that job reads; ft.JobName names the producer.
func (r *Basic) AddInterSite(job *model.Job, files []*model.FileTransfer) error {
	priority, err := jobPriority(job)
	if err != nil {
		return err
	}
	site := job.SiteHandle
	name := InterSitePrefix + r.locality() + r.opts.Prefix + job.Name + "_0"

	parents := make(map[string]bool)
	var fresh []*model.FileTransfer
	prevProducer := ""
	for _, ft := range files {
		ft.Priority = priority
		if par, ok := r.table.Lookup(ft.LFN, site); ok {
			if !parents[par] {
				r.addRelation(par, job.Name)
				parents[par] = true
			}
			continue
		}
		r.table.Record(ft.LFN, site, name)
		if ft.JobName != prevProducer {
			r.addRelation(ft.JobName, name)
		}
		prevProducer = ft.JobName
		fresh = append(fresh, ft)
	}
	if len(fresh) == 0 {
		return nil
	}
	r.addRelation(name, job.Name)
	tx := newTransferJob(name, model.JobTypeInterSite, r.transferSite(site), site, fresh)
	tx.Level = job.Level
	return r.addJob(tx)
}

// AddStageOut implements Refiner.
func (r *Basic) AddStageOut(job *model.Job, files []*model.FileTransfer, deletedLeaf bool) error {
	if len(files) == 0 {
		return nil
	}
	priority, err := jobPriority(job)
	if err != nil {
		return err
	}
	tx, reg := partition(files, priority, r.opts.CreateRegistration)
	site := stagingSite(job)
	name := StageOutPrefix + r.locality() + r.opts.Prefix + job.Name + "_0"
	regName := RegisterPrefix + r.opts.Prefix + job.Name

	switch {
	case len(tx) > 0:
		so := newTransferJob(name, model.JobTypeStageOut, r.transferSite(site), site, tx)
		so.Level = job.Level
		if err := r.addJob(so); err != nil {
			return err
		}
		if !deletedLeaf {
			r.addRelation(job.Name, name)
		}
		if len(reg) > 0 {
			r.addRelation(name, regName)
		}
	case len(reg) > 0 && !deletedLeaf:
		r.addRelation(job.Name, regName)
	}
	if len(reg) == 0 {
		return nil
	}
	rj := newRegistrationJob(regName, site, reg)
	rj.Level = job.Level
	return r.addJob(rj)
}

// Done implements Refiner.
func (r *Basic) Done() error {
	r.logger.Debug("adding relations", "files", r.table.Len())
	return r.rel.flush(r.dag)
}

// partition splits stage-out files into those to transfer and those to
// register, stamping priority on each.
func partition(files []*model.FileTransfer, priority int, register bool) (tx, reg []*model.FileTransfer) {
	for _, ft := range files {
		ft.Priority = priority
		if !ft.TransientTransfer {
			tx = append(tx, ft)
		}
		if register && !ft.TransientRegistration {
			reg = append(reg, ft)
		}
	}
	return tx, reg
}

