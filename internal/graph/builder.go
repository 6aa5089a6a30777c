// Package graph assembles the workflow DAG from parser events.
package graph

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/google/uuid"

	"github.com/me/wfplan/internal/naming"
	"github.com/me/wfplan/internal/parser"
	"github.com/me/wfplan/pkg/model"
)

// Supported workflow document versions: [MinVersion, MaxVersion).
var (
	MinVersion = semver.New("5.0.0")
	MaxVersion = semver.New("6.0.0")
)

// State is the lifecycle state of a Builder.
type State string

const (
	StateBuilding State = "building"
	StateDone     State = "done"
)

// Options controls graph construction.
type Options struct {
	// Prefix is prepended to every generated job name.
	Prefix string
	// AutoDataDependencies adds an edge from the producer of every input
	// file to its consumers.
	AutoDataDependencies bool
}

// Builder implements parser.Callback and produces a model.DAG.
type Builder struct {
	logger *slog.Logger
	opts   Options

	state     State
	dag       *model.DAG
	ids       map[string]string
	names     *naming.Registry
	producers map[string][]string
	newUUID   func() string
}

var _ parser.Callback = (*Builder)(nil)

// NewBuilder creates a Builder in the building state.
func NewBuilder(logger *slog.Logger, opts Options) *Builder {
	return &Builder{
		logger:    logger.With("component", "graph"),
		opts:      opts,
		state:     StateBuilding,
		dag:       model.NewDAG("workflow"),
		ids:       make(map[string]string),
		names:     naming.NewRegistry(),
		producers: make(map[string][]string),
		newUUID:   uuid.NewString,
	}
}

// State returns the current lifecycle state.
func (b *Builder) State() State {
	return b.state
}

func (b *Builder) checkBuilding(event string) error {
	if b.state != StateBuilding {
		return &model.InvalidTransitionError{Entity: "builder", ID: b.dag.Name, From: string(b.state), To: event}
	}
	return nil
}

// OnDocumentAttributes records the workflow name, index, count and version.
func (b *Builder) OnDocumentAttributes(attrs map[string]string) error {
	if err := b.checkBuilding("attributes"); err != nil {
		return err
	}
	if name, ok := attrs[parser.AttrName]; ok {
		b.dag.Name = naming.MakeSchedulerCompliant(name)
		if b.dag.Name != name {
			b.logger.Debug("workflow name made compliant", "from", name, "to", b.dag.Name)
		}
	}
	for _, key := range []string{parser.AttrIndex, parser.AttrCount} {
		v, ok := attrs[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &model.ConfigError{Key: key, Msg: fmt.Sprintf("workflow %s %q is not an integer", key, v)}
		}
		if key == parser.AttrIndex {
			b.dag.Index = n
		} else {
			b.dag.Count = n
		}
	}

	version, ok := attrs[parser.AttrVersion]
	if !ok || version == "" {
		b.logger.Warn("workflow document does not declare a version")
	} else {
		v, err := CheckVersion(version)
		if err != nil {
			return err
		}
		b.dag.Version = v.String()
	}

	if b.dag.UUID == "" {
		b.dag.UUID = b.newUUID()
	}
	b.logger.Debug("workflow attributes", "name", b.dag.Name, "version", b.dag.Version, "uuid", b.dag.UUID)
	return nil
}

// CheckVersion parses a document version and verifies it is supported.
// Versions may omit the minor and patch components.
func CheckVersion(version string) (*semver.Version, error) {
	parts := strings.Split(strings.TrimSpace(version), ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	v, err := semver.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return nil, &model.ConfigError{Key: parser.AttrVersion, Msg: fmt.Sprintf("invalid workflow version %q: %v", version, err)}
	}
	if v.LessThan(*MinVersion) {
		return nil, &model.ConfigError{Key: parser.AttrVersion, Msg: fmt.Sprintf("unsupported workflow version %s, minimum is %s", version, MinVersion)}
	}
	if !v.LessThan(*MaxVersion) {
		return nil, &model.ConfigError{Key: parser.AttrVersion, Msg: fmt.Sprintf("cannot plan workflow version %s, newest supported is below %s", version, MaxVersion)}
	}
	return v, nil
}

// OnMetadata records a workflow metadata entry.
func (b *Builder) OnMetadata(key, value string) error {
	if err := b.checkBuilding("metadata"); err != nil {
		return err
	}
	b.dag.Metadata[key] = value
	return nil
}

// OnNotifications records workflow notifications.
func (b *Builder) OnNotifications(ns []model.Notification) error {
	if err := b.checkBuilding("notifications"); err != nil {
		return err
	}
	b.dag.Notifications = append(b.dag.Notifications, ns...)
	return nil
}

// OnReplica records the locations of a file in the workflow replica store.
func (b *Builder) OnReplica(lfn string, locs []model.ReplicaLocation) error {
	if err := b.checkBuilding("replica"); err != nil {
		return err
	}
	for _, loc := range locs {
		b.dag.Replicas.Add(loc)
	}
	return nil
}

// OnTransformation records an executable in the workflow transformation store.
func (b *Builder) OnTransformation(entry model.TransformationEntry) error {
	if err := b.checkBuilding("transformation"); err != nil {
		return err
	}
	b.dag.Transformations.Add(entry)
	return nil
}

// OnCompoundTransformation records a transformation with requirements.
func (b *Builder) OnCompoundTransformation(ct *model.CompoundTransformation) error {
	if err := b.checkBuilding("compound"); err != nil {
		return err
	}
	b.dag.Compounds[ct.Ref.LogicalName()] = ct
	return nil
}

// OnJob names the job, merges what its transformation requires and adds it
// to the graph.
func (b *Builder) OnJob(job *model.Job) error {
	if err := b.checkBuilding("job"); err != nil {
		return err
	}
	if job.LogicalID == "" {
		return &model.StructuralError{Kind: model.KindDanglingReference, Msg: "job has no id"}
	}
	if existing, ok := b.ids[job.LogicalID]; ok {
		return &model.StructuralError{
			Kind: model.KindDuplicateJob,
			Ref:  job.LogicalID,
			Msg:  fmt.Sprintf("id already used by job %s", existing),
		}
	}

	if ct, ok := b.dag.Compounds[job.Transformation.LogicalName()]; ok {
		for _, f := range ct.DependentFiles {
			if job.Inputs.Contains(f.LFN) {
				continue
			}
			dep := f
			job.Inputs.Add(&dep)
		}
		job.Notifications = append(job.Notifications, ct.Notifications...)
	}

	if err := job.CheckIOConflict(); err != nil {
		return err
	}

	name := naming.JobName(b.opts.Prefix, job.Transformation.Namespace, job.Transformation.Name, job.LogicalID)
	job.Name = b.names.Claim(name)
	if err := b.dag.AddJob(job); err != nil {
		return err
	}
	b.ids[job.LogicalID] = job.Name

	for _, lfn := range job.Inputs.LFNs() {
		b.dag.FileMetric(lfn).AsInput++
	}
	for _, lfn := range job.Outputs.LFNs() {
		b.dag.FileMetric(lfn).AsOutput++
		b.producers[lfn] = append(b.producers[lfn], job.Name)
	}
	b.logger.Debug("job added", "id", job.LogicalID, "name", job.Name,
		"inputs", len(job.Inputs), "outputs", len(job.Outputs))
	return nil
}

// OnEdge adds an edge from every parent to child. All ids must name jobs
// seen earlier.
func (b *Builder) OnEdge(child string, parents []string) error {
	if err := b.checkBuilding("edge"); err != nil {
		return err
	}
	childName, ok := b.ids[child]
	if !ok {
		return &model.StructuralError{Kind: model.KindDanglingReference, Ref: child, Msg: "dependency child is not a job"}
	}
	for _, p := range parents {
		parentName, ok := b.ids[p]
		if !ok {
			return &model.StructuralError{Kind: model.KindDanglingReference, Ref: p, Msg: "dependency parent is not a job"}
		}
		if err := b.dag.AddEdge(parentName, childName); err != nil {
			return err
		}
	}
	return nil
}

// OnDone closes the graph: data dependencies are inferred when enabled and
// every job is assigned its level.
func (b *Builder) OnDone() error {
	if err := b.checkBuilding(string(StateDone)); err != nil {
		return err
	}
	if b.dag.UUID == "" {
		b.dag.UUID = b.newUUID()
	}
	if b.opts.AutoDataDependencies {
		added, err := b.inferDataDependencies()
		if err != nil {
			return err
		}
		b.logger.Debug("data dependencies inferred", "edges", added)
	}
	levels, err := b.dag.Levels()
	if err != nil {
		return err
	}
	b.state = StateDone
	b.logger.Info("workflow graph built", "name", b.dag.Name, "jobs", b.dag.JobCount(),
		"edges", len(b.dag.Edges()), "levels", len(levels))
	return nil
}

// inferDataDependencies adds producer -> consumer for every input file that
// a job declared earlier in the document outputs. Existing edges are left
// alone.
func (b *Builder) inferDataDependencies() (int, error) {
	jobs := b.dag.Jobs()
	pos := make(map[string]int, len(jobs))
	for i, job := range jobs {
		pos[job.Name] = i
	}
	added := 0
	for i, job := range jobs {
		for _, lfn := range job.Inputs.LFNs() {
			for _, producer := range b.producers[lfn] {
				if pos[producer] >= i || b.dag.HasEdge(producer, job.Name) {
					continue
				}
				if err := b.dag.AddEdge(producer, job.Name); err != nil {
					return added, err
				}
				b.logger.Debug("inferred edge", "parent", producer, "child", job.Name, "lfn", lfn)
				added++
			}
		}
	}
	return added, nil
}

// Result returns the built graph. It fails until OnDone has succeeded.
func (b *Builder) Result() (*model.DAG, error) {
	if b.state != StateDone {
		return nil, &model.StructuralError{
			Kind: model.KindPrematureResult,
			Ref:  b.dag.Name,
			Msg:  "graph requested before the document was fully parsed",
		}
	}
	return b.dag, nil
}

// NameOf returns the job name assigned to a logical id.
func (b *Builder) NameOf(logicalID string) (string, bool) {
	n, ok := b.ids[logicalID]
	return n, ok
}
