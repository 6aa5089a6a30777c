package planner

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/me/wfplan/internal/store"
	"github.com/me/wfplan/pkg/model"
)

// Sink receives a finished plan.
type Sink interface {
	Emit(ctx context.Context, dag *model.DAG) error
	Close() error
}

var (
	_ Sink = (*store.SQLiteStore)(nil)
	_ Sink = (*YAMLSink)(nil)
)

// PlanDoc is the YAML rendering of a plan.
type PlanDoc struct {
	Name    string            `yaml:"name"`
	UUID    string            `yaml:"uuid"`
	Version string            `yaml:"version,omitempty"`
	Index   int               `yaml:"index"`
	Counts  map[string]int    `yaml:"counts"`
	Jobs    []*model.Job      `yaml:"jobs"`
	Edges   []model.Edge      `yaml:"edges"`
	Meta    map[string]string `yaml:"metadata,omitempty"`
}

// NewPlanDoc renders dag for serialization.
func NewPlanDoc(dag *model.DAG) PlanDoc {
	counts := make(map[string]int)
	for t, n := range dag.CountByType() {
		counts[string(t)] = n
	}
	return PlanDoc{
		Name:    dag.Name,
		UUID:    dag.UUID,
		Version: dag.Version,
		Index:   dag.Index,
		Counts:  counts,
		Jobs:    dag.Jobs(),
		Edges:   dag.Edges(),
		Meta:    dag.Metadata,
	}
}

// YAMLSink writes the plan as YAML, either to a file created on Emit or to
// a caller owned writer.
type YAMLSink struct {
	path string
	w    io.Writer
}

// NewYAMLFileSink writes the plan to path, replacing it.
func NewYAMLFileSink(path string) *YAMLSink {
	return &YAMLSink{path: path}
}

// NewYAMLSink writes the plan to w.
func NewYAMLSink(w io.Writer) *YAMLSink {
	return &YAMLSink{w: w}
}

// Emit implements Sink.
func (s *YAMLSink) Emit(_ context.Context, dag *model.DAG) (err error) {
	w := s.w
	if w == nil {
		f, cerr := os.Create(s.path)
		if cerr != nil {
			return fmt.Errorf("create plan file: %w", cerr)
		}
		defer func() { err = multierr.Append(err, f.Close()) }()
		w = f
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewPlanDoc(dag)); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return enc.Close()
}

// Close implements Sink. The writer stays open; it belongs to the caller.
func (s *YAMLSink) Close() error { return nil }

func closeSinks(sinks []Sink) error {
	var err error
	for _, s := range sinks {
		err = multierr.Append(err, s.Close())
	}
	return err
}
