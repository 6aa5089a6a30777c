package model

import (
	"fmt"
	"sort"
	"strings"
)

// FileMetric counts how often a logical file is used across the workflow.
type FileMetric struct {
	AsInput  int `json:"as_input" yaml:"as_input"`
	AsOutput int `json:"as_output" yaml:"as_output"`
}

// Edge is a parent to child dependency.
type Edge struct {
	Parent string `json:"parent" yaml:"parent"`
	Child  string `json:"child" yaml:"child"`
}

// DAG is the workflow graph together with the catalogs embedded in the
// workflow document. Jobs iterate in insertion order.
type DAG struct {
	Name    string
	Index   int
	Count   int
	Version string
	UUID    string

	Metadata        map[string]string
	Notifications   []Notification
	Replicas        *ReplicaStore
	Transformations *TransformationStore
	Compounds       map[string]*CompoundTransformation
	FileMetrics     map[string]*FileMetric

	jobs     map[string]*Job
	order    []string
	parents  map[string]map[string]bool
	children map[string]map[string]bool
	edges    []Edge
}

// NewDAG creates an empty graph.
func NewDAG(name string) *DAG {
	return &DAG{
		Name:            name,
		Metadata:        make(map[string]string),
		Replicas:        NewReplicaStore(),
		Transformations: NewTransformationStore(),
		Compounds:       make(map[string]*CompoundTransformation),
		FileMetrics:     make(map[string]*FileMetric),
		jobs:            make(map[string]*Job),
		parents:         make(map[string]map[string]bool),
		children:        make(map[string]map[string]bool),
	}
}

// AddJob inserts a job. Names must be unique.
func (d *DAG) AddJob(j *Job) error {
	if _, ok := d.jobs[j.Name]; ok {
		return &StructuralError{Kind: KindDuplicateJob, Ref: j.Name, Msg: "job name already in graph"}
	}
	d.jobs[j.Name] = j
	d.order = append(d.order, j.Name)
	d.parents[j.Name] = make(map[string]bool)
	d.children[j.Name] = make(map[string]bool)
	return nil
}

// Job returns the job with the given name.
func (d *DAG) Job(name string) (*Job, bool) {
	j, ok := d.jobs[name]
	return j, ok
}

// Jobs returns all jobs in insertion order.
func (d *DAG) Jobs() []*Job {
	out := make([]*Job, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.jobs[name])
	}
	return out
}

// JobCount returns the number of jobs.
func (d *DAG) JobCount() int {
	return len(d.order)
}

// AddEdge adds parent -> child. Adding an existing edge is a no-op.
func (d *DAG) AddEdge(parent, child string) error {
	if _, ok := d.jobs[parent]; !ok {
		return &StructuralError{Kind: KindDanglingReference, Ref: parent, Msg: "edge parent is not a job in the graph"}
	}
	if _, ok := d.jobs[child]; !ok {
		return &StructuralError{Kind: KindDanglingReference, Ref: child, Msg: "edge child is not a job in the graph"}
	}
	if parent == child {
		return &StructuralError{Kind: KindCycle, Ref: parent, Msg: "job cannot depend on itself"}
	}
	if d.children[parent][child] {
		return nil
	}
	d.children[parent][child] = true
	d.parents[child][parent] = true
	d.edges = append(d.edges, Edge{Parent: parent, Child: child})
	return nil
}

// HasEdge reports whether parent -> child exists.
func (d *DAG) HasEdge(parent, child string) bool {
	return d.children[parent][child]
}

// Edges returns every edge in insertion order.
func (d *DAG) Edges() []Edge {
	out := make([]Edge, len(d.edges))
	copy(out, d.edges)
	return out
}

// Parents returns the sorted parents of name.
func (d *DAG) Parents(name string) []string {
	return sortedKeys(d.parents[name])
}

// Children returns the sorted children of name.
func (d *DAG) Children(name string) []string {
	return sortedKeys(d.children[name])
}

// Roots returns the jobs without parents in insertion order.
func (d *DAG) Roots() []*Job {
	var out []*Job
	for _, name := range d.order {
		if len(d.parents[name]) == 0 {
			out = append(out, d.jobs[name])
		}
	}
	return out
}

// Leaves returns the jobs without children in insertion order.
func (d *DAG) Leaves() []*Job {
	var out []*Job
	for _, name := range d.order {
		if len(d.children[name]) == 0 {
			out = append(out, d.jobs[name])
		}
	}
	return out
}

// Levels assigns every job its depth and returns the jobs grouped by level.
// Roots are at level 1 and a job sits one level below its deepest parent.
// It uses Kahn's algorithm, so a cycle is reported as a StructuralError.
func (d *DAG) Levels() ([][]*Job, error) {
	inDegree := make(map[string]int, len(d.order))
	level := make(map[string]int, len(d.order))
	var queue []string
	for _, name := range d.order {
		inDegree[name] = len(d.parents[name])
		if inDegree[name] == 0 {
			queue = append(queue, name)
			level[name] = 1
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++

		for _, succ := range d.Children(node) {
			if level[node]+1 > level[succ] {
				level[succ] = level[node] + 1
			}
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited != len(d.order) {
		var cycleNodes []string
		for name, deg := range inDegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, name)
			}
		}
		sort.Strings(cycleNodes)
		return nil, &StructuralError{
			Kind: KindCycle,
			Ref:  d.Name,
			Msg:  fmt.Sprintf("workflow contains a cycle involving jobs: %s", strings.Join(cycleNodes, ", ")),
		}
	}

	depth := 0
	for _, l := range level {
		if l > depth {
			depth = l
		}
	}
	out := make([][]*Job, depth)
	for _, name := range d.order {
		j := d.jobs[name]
		j.Level = level[name]
		out[j.Level-1] = append(out[j.Level-1], j)
	}
	return out, nil
}

// FileMetric returns the usage counters of lfn, creating them on first use.
func (d *DAG) FileMetric(lfn string) *FileMetric {
	m, ok := d.FileMetrics[lfn]
	if !ok {
		m = &FileMetric{}
		d.FileMetrics[lfn] = m
	}
	return m
}

// CountByType returns the number of jobs per job type.
func (d *DAG) CountByType() map[JobType]int {
	out := make(map[JobType]int)
	for _, j := range d.jobs {
		out[j.Type]++
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
