// Package transfer adds the jobs that move data to and from execution
// sites, and the edges that order them around the compute jobs.
package transfer

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

// Refiner kinds.
const (
	KindBasic   = "basic"
	KindBundle  = "bundle"
	KindCondor  = "condor"
	KindCluster = "cluster"
)

// DefaultBundleFactor is the number of transfer jobs per site when nothing
// else is configured.
const DefaultBundleFactor = 2

// TransferTransformation is the logical transformation of generated
// transfer jobs. Its catalog profiles tune bundling per site.
var TransferTransformation = model.TransformationRef{Namespace: "pegasus", Name: "transfer"}

// Refiner adds transfer and registration jobs for the files a job needs
// and produces.
type Refiner interface {
	AddStageIn(job *model.Job, files []*model.FileTransfer) error
	// AddStageOut transfers and registers outputs of job. With deletedLeaf
	// the job itself was removed from the workflow and gets no edge.
	AddStageOut(job *model.Job, files []*model.FileTransfer, deletedLeaf bool) error
	AddInterSite(job *model.Job, files []*model.FileTransfer) error
	// Done adds every pending job and edge to the workflow.
	Done() error
	Description() string
}

// Options configures the refiners.
type Options struct {
	// Prefix is inserted into generated job names.
	Prefix string
	// LocalTransfers runs transfer jobs on the submit host rather than on
	// the staging site.
	LocalTransfers bool
	// CreateRegistration adds registration jobs for outputs that ask for it.
	CreateRegistration bool
	// StageInBundle and StageOutBundle are the default bundle factors.
	StageInBundle  int
	StageOutBundle int
	// Transformations and Sites supply per-site bundle factors.
	Transformations catalog.TransformationCatalog
	Sites           catalog.SiteCatalog
}

// DefaultOptions returns options with local transfers, registration and the
// default bundle factors.
func DefaultOptions() Options {
	return Options{
		LocalTransfers:     true,
		CreateRegistration: true,
		StageInBundle:      DefaultBundleFactor,
		StageOutBundle:     DefaultBundleFactor,
	}
}

// New creates the refiner of the given kind.
func New(kind string, dag *model.DAG, opts Options, logger *slog.Logger) (Refiner, error) {
	switch strings.ToLower(kind) {
	case KindBasic:
		return NewBasic(dag, opts, logger), nil
	case "", KindBundle:
		return NewBundle(dag, opts, logger), nil
	case KindCondor:
		return NewCondor(dag, opts, logger), nil
	case KindCluster:
		return NewCluster(dag, opts, logger), nil
	}
	return nil, &model.ConfigError{Key: "transfer.refiner", Msg: fmt.Sprintf("unknown transfer refiner %q", kind)}
}

// relations buffers edges until the jobs they connect exist.
type relations struct {
	parents  []string
	children map[string][]string
	seen     map[model.Edge]bool
}

func newRelations() *relations {
	return &relations{children: make(map[string][]string), seen: make(map[model.Edge]bool)}
}

func (r *relations) add(parent, child string) {
	e := model.Edge{Parent: parent, Child: child}
	if r.seen[e] {
		return
	}
	r.seen[e] = true
	if _, ok := r.children[parent]; !ok {
		r.parents = append(r.parents, parent)
	}
	r.children[parent] = append(r.children[parent], child)
}

func (r *relations) flush(dag *model.DAG) error {
	for _, p := range r.parents {
		for _, c := range r.children[p] {
			if err := dag.AddEdge(p, c); err != nil {
				return fmt.Errorf("add edge %s -> %s: %w", p, c, err)
			}
		}
	}
	*r = *newRelations()
	return nil
}

// refiner holds what all refiners share.
type refiner struct {
	dag    *model.DAG
	opts   Options
	logger *slog.Logger
	table  *FileTable
	rel    *relations
}

func newRefiner(dag *model.DAG, opts Options, logger *slog.Logger, name string) refiner {
	return refiner{
		dag:    dag,
		opts:   opts,
		logger: logger.With("component", "transfer", "refiner", name),
		table:  NewFileTable(),
		rel:    newRelations(),
	}
}

func (r *refiner) addRelation(parent, child string) {
	r.logger.Debug("relation", "parent", parent, "child", child)
	r.rel.add(parent, child)
}

func (r *refiner) addJob(j *model.Job) error {
	if err := r.dag.AddJob(j); err != nil {
		return err
	}
	r.logger.Debug("job added", "job", j.Name, "type", j.Type, "transfers", len(j.Transfers))
	return nil
}

func (r *refiner) locality() string {
	if r.opts.LocalTransfers {
		return LocalPrefix
	}
	return RemotePrefix
}

// transferSite is where a transfer job for staging site runs.
func (r *refiner) transferSite(staging string) string {
	if r.opts.LocalTransfers {
		return model.LocalSite
	}
	return staging
}

// stagingSite is the site a job's data is staged to.
func stagingSite(job *model.Job) string {
	if job.StagingSiteHandle != "" {
		return job.StagingSiteHandle
	}
	return job.SiteHandle
}

// jobPriority reads the scheduler priority of job. Transfers inherit it.
func jobPriority(job *model.Job) (int, error) {
	v := job.Condor.Value(model.CondorPriority)
	if v == "" {
		return 0, nil
	}
	p, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, &model.ConfigError{
			JobID: job.Label(),
			Key:   "condor." + model.CondorPriority,
			Site:  job.SiteHandle,
			Msg:   fmt.Sprintf("invalid priority %q", v),
		}
	}
	return p, nil
}

// newTransferJob creates a transfer job of the given type running on site
// for data staged to staging.
func newTransferJob(name string, typ model.JobType, site, staging string, files []*model.FileTransfer) *model.Job {
	j := model.NewJob(name, typ)
	j.Transformation = TransferTransformation
	j.SiteHandle = site
	j.StagingSiteHandle = staging
	j.Executable = "pegasus-transfer"
	j.Transfers = append(j.Transfers, files...)
	for _, ft := range files {
		if ft.Priority != 0 {
			j.Condor.Construct(model.CondorPriority, strconv.Itoa(ft.Priority))
			break
		}
	}
	return j
}

// newRegistrationJob creates a job recording the destinations of files in
// the replica catalog.
func newRegistrationJob(name, staging string, files []*model.FileTransfer) *model.Job {
	j := model.NewJob(name, model.JobTypeRegistration)
	j.Transformation = model.TransformationRef{Namespace: "pegasus", Name: "rc-client"}
	j.SiteHandle = model.LocalSite
	j.StagingSiteHandle = staging
	j.Executable = "pegasus-rc-client"
	j.Transfers = append(j.Transfers, files...)
	return j
}

// setXBitName names the job making the executables staged for job runnable.
func setXBitName(job string, index int) string {
	return SetXBitPrefix + job + "_" + strconv.Itoa(index)
}

// newSetXBitJob creates the job that marks the staged executables of job
// as executable on its site.
func newSetXBitJob(job *model.Job, files []*model.FileTransfer, index int) *model.Job {
	x := model.NewJob(setXBitName(job.Name, index), model.JobTypeSetXBit)
	x.Transformation = model.TransformationRef{Namespace: "system", Name: "chmod"}
	x.SiteHandle = job.SiteHandle
	x.StagingSiteHandle = stagingSite(job)
	x.Executable = "/bin/chmod"
	args := []string{"+x"}
	for _, ft := range files {
		for _, d := range ft.Destinations {
			args = append(args, urlPath(d.URL))
		}
	}
	x.Arguments = strings.Join(args, " ")
	x.Level = job.Level
	return x
}

// urlPath returns the path part of a URL, or the input when it has no scheme.
func urlPath(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return u
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rest[j:]
	}
	return "/"
}
