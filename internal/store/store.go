package store

import (
	"context"

	"github.com/me/wfplan/pkg/model"
)

// Store defines the persistence layer for replicas and emitted plans.
type Store interface {
	// Replica catalog
	InsertReplica(ctx context.Context, loc model.ReplicaLocation) error
	ListReplicas(ctx context.Context, lfn string) ([]model.ReplicaLocation, error)
	LoadReplicas(ctx context.Context) (*model.ReplicaStore, error)

	// Plans
	Emit(ctx context.Context, dag *model.DAG) error
	GetPlan(ctx context.Context, uuid string) (*PlanRecord, error)
	ListPlans(ctx context.Context) ([]*PlanRecord, error)
	ListPlanJobs(ctx context.Context, uuid string) ([]*JobRecord, error)
	ListPlanEdges(ctx context.Context, uuid string) ([]model.Edge, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// PlanRecord is the stored summary of a planned workflow.
type PlanRecord struct {
	UUID      string
	Name      string
	Index     int
	Version   string
	JobCount  int
	EdgeCount int
	CreatedAt string
}

// JobRecord is a stored job of a plan.
type JobRecord struct {
	Name      string
	Type      model.JobType
	Site      string
	Level     int
	Style     model.StyleKind
	Condor    []model.KeyValue
	Env       []model.KeyValue
	Transfers []*model.FileTransfer
}
