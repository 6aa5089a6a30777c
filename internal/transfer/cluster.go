package transfer

import (
	"log/slog"

	"github.com/me/wfplan/pkg/model"
)

// Cluster bundles transfers like Bundle but keeps stage-in pools per level
// of the workflow, so the inputs of a level are fetched by jobs of their
// own. Bundle factors come from the cluster.stagein and cluster.stageout
// keys.
type Cluster struct {
	*Bundle
}

// NewCluster creates a Cluster refiner adding jobs to dag.
func NewCluster(dag *model.DAG, opts Options, logger *slog.Logger) *Cluster {
	b := newBundle(dag, opts, logger, KindCluster)
	b.stageInKey = model.PegasusClusterStageIn
	b.stageOutKey = model.PegasusClusterStageOut
	return &Cluster{Bundle: b}
}

// Description implements Refiner.
func (r *Cluster) Description() string {
	return "stage-in and stage-out transfer jobs clustered per level"
}

// AddStageIn implements Refiner. Moving to a new level flushes the stage-in
// pools of the previous one. Jobs must arrive in level order.
func (r *Cluster) AddStageIn(job *model.Job, files []*model.FileTransfer) error {
	if job.Level != r.stageInLevel {
		if err := r.flushStageIn(); err != nil {
			return err
		}
		r.stageInLevel = job.Level
	}
	return r.Bundle.AddStageIn(job, files)
}
