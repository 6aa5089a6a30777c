// Package parser reads abstract workflow documents and reports their
// contents, section by section, to a Callback.
package parser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/me/wfplan/internal/catalog"
	"github.com/me/wfplan/pkg/model"
)

// Callback receives the contents of a workflow document in document order:
// attributes, metadata, replicas, transformations, jobs, dependencies and
// finally OnDone. Any error returned stops the parse.
type Callback interface {
	OnDocumentAttributes(attrs map[string]string) error
	OnMetadata(key, value string) error
	OnNotifications(ns []model.Notification) error
	OnReplica(lfn string, locs []model.ReplicaLocation) error
	OnTransformation(entry model.TransformationEntry) error
	OnCompoundTransformation(ct *model.CompoundTransformation) error
	OnJob(job *model.Job) error
	OnEdge(child string, parents []string) error
	OnDone() error
}

// Document attribute keys passed to OnDocumentAttributes.
const (
	AttrVersion = "version"
	AttrName    = "name"
	AttrIndex   = "index"
	AttrCount   = "count"
)

// Parser converts a YAML workflow document into Callback events.
type Parser struct {
	logger    *slog.Logger
	validator *SchemaValidator
}

// Option configures a Parser.
type Option func(*Parser)

// WithSchemaValidation validates every document against the workflow
// schema before any event is emitted.
func WithSchemaValidation(v *SchemaValidator) Option {
	return func(p *Parser) { p.validator = v }
}

// New creates a Parser with the given logger.
func New(logger *slog.Logger, opts ...Option) *Parser {
	p := &Parser{logger: logger.With("component", "parser")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile opens path and parses it.
func (p *Parser) ParseFile(path string, cb Callback) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open workflow: %w", err)
	}
	return p.Parse(f, cb)
}

// Parse reads a document from rc and emits its events to cb. The reader is
// closed on every path; a close failure is reported together with any
// parse failure.
func (p *Parser) Parse(rc io.ReadCloser, cb Callback) (err error) {
	defer func() {
		err = multierr.Append(err, rc.Close())
	}()

	var doc yaml.Node
	if err := yaml.NewDecoder(rc).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("YAML parse error: empty document")
		}
		return fmt.Errorf("YAML parse error: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return model.NewValidationError("invalid workflow document",
			model.FieldError{Path: "/", Message: "document must be a mapping"})
	}
	root := doc.Content[0]

	if p.validator != nil {
		if err := p.validator.ValidateNode(root); err != nil {
			return err
		}
	}

	sections := make(map[string]*yaml.Node)
	for i := 0; i+1 < len(root.Content); i += 2 {
		sections[root.Content[i].Value] = root.Content[i+1]
	}

	steps := []struct {
		name string
		fn   func(*yaml.Node, Callback) error
	}{
		{"", p.emitAttributes},
		{"metadata", p.emitMetadata},
		{"hooks", p.emitHooks},
		{"replicaCatalog", p.emitReplicas},
		{"transformationCatalog", p.emitTransformations},
		{"jobs", p.emitJobs},
		{"jobDependencies", p.emitDependencies},
	}
	for _, step := range steps {
		node := root
		if step.name != "" {
			n, ok := sections[step.name]
			if !ok || n.Tag == "!!null" {
				continue
			}
			node = n
		}
		if err := step.fn(node, cb); err != nil {
			return err
		}
	}

	p.logger.Debug("document parsed")
	return cb.OnDone()
}

func (p *Parser) emitAttributes(root *yaml.Node, cb Callback) error {
	attrs := make(map[string]string)
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			continue
		}
		switch k.Value {
		case "pegasus":
			attrs[AttrVersion] = v.Value
		case "name", "index", "count":
			attrs[k.Value] = v.Value
		}
	}
	return cb.OnDocumentAttributes(attrs)
}

func (p *Parser) emitMetadata(node *yaml.Node, cb Callback) error {
	if node.Kind != yaml.MappingNode {
		return fieldError("/metadata", "must be a mapping", node)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := cb.OnMetadata(node.Content[i].Value, node.Content[i+1].Value); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) emitHooks(node *yaml.Node, cb Callback) error {
	var hooks map[string][]catalog.HookDoc
	if err := node.Decode(&hooks); err != nil {
		return fmt.Errorf("hooks: %w", err)
	}
	ns := catalog.HooksToNotifications(hooks)
	if len(ns) == 0 {
		return nil
	}
	return cb.OnNotifications(ns)
}

type replicaDoc struct {
	LFN      string            `yaml:"lfn"`
	PFNs     []pfnDoc          `yaml:"pfns"`
	Metadata map[string]string `yaml:"metadata"`
	Checksum map[string]string `yaml:"checksum"`
}

type pfnDoc struct {
	Site string `yaml:"site"`
	PFN  string `yaml:"pfn"`
}

func (p *Parser) emitReplicas(node *yaml.Node, cb Callback) error {
	var rc struct {
		Replicas []yaml.Node `yaml:"replicas"`
	}
	if err := node.Decode(&rc); err != nil {
		return fmt.Errorf("replicaCatalog: %w", err)
	}
	for i := range rc.Replicas {
		var r replicaDoc
		if err := rc.Replicas[i].Decode(&r); err != nil {
			return fmt.Errorf("replicaCatalog.replicas[%d]: %w", i, err)
		}
		if r.LFN == "" {
			return fieldError(fmt.Sprintf("/replicaCatalog/replicas/%d/lfn", i), "lfn is required", &rc.Replicas[i])
		}
		locs := make([]model.ReplicaLocation, 0, len(r.PFNs))
		for _, pfn := range r.PFNs {
			locs = append(locs, model.ReplicaLocation{LFN: r.LFN, PFN: pfn.PFN, Site: pfn.Site, Metadata: r.Metadata})
		}
		if err := cb.OnReplica(r.LFN, locs); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) emitTransformations(node *yaml.Node, cb Callback) error {
	var tc struct {
		Transformations []yaml.Node `yaml:"transformations"`
	}
	if err := node.Decode(&tc); err != nil {
		return fmt.Errorf("transformationCatalog: %w", err)
	}
	for i := range tc.Transformations {
		var t catalog.TransformationDoc
		if err := tc.Transformations[i].Decode(&t); err != nil {
			return fmt.Errorf("transformationCatalog.transformations[%d]: %w", i, err)
		}
		entries, err := t.Entries()
		if err != nil {
			return fmt.Errorf("transformationCatalog.transformations[%d]: %w", i, err)
		}
		for _, e := range entries {
			if err := cb.OnTransformation(e); err != nil {
				return err
			}
		}
		if len(t.Requires) > 0 || len(t.Hooks) > 0 {
			if err := cb.OnCompoundTransformation(compoundFrom(t)); err != nil {
				return err
			}
		}
	}
	return nil
}

// compoundFrom builds the compound transformation of t. Each required
// transformation is staged next to it as an executable file.
func compoundFrom(t catalog.TransformationDoc) *model.CompoundTransformation {
	ct := &model.CompoundTransformation{
		Ref:           t.Ref(),
		Requires:      append([]string(nil), t.Requires...),
		Notifications: t.Notifications(),
	}
	for _, req := range t.Requires {
		ct.DependentFiles = append(ct.DependentFiles, model.PegasusFile{
			LFN:        req,
			Link:       model.LinkInput,
			Executable: true,
		})
	}
	return ct
}

type jobDoc struct {
	Type      string                       `yaml:"type"`
	Namespace string                       `yaml:"namespace"`
	Name      string                       `yaml:"name"`
	Version   string                       `yaml:"version"`
	ID        string                       `yaml:"id"`
	NodeLabel string                       `yaml:"nodeLabel"`
	File      string                       `yaml:"file"`
	Arguments []string                     `yaml:"arguments"`
	Uses      []useDoc                     `yaml:"uses"`
	Profiles  catalog.ProfilesDoc          `yaml:"profiles"`
	Stdin     string                       `yaml:"stdin"`
	Stdout    string                       `yaml:"stdout"`
	Stderr    string                       `yaml:"stderr"`
	Hooks     map[string][]catalog.HookDoc `yaml:"hooks"`
	Metadata  map[string]string            `yaml:"metadata"`
}

type useDoc struct {
	LFN             string            `yaml:"lfn"`
	Type            string            `yaml:"type"`
	StageOut        *bool             `yaml:"stageOut"`
	RegisterReplica *bool             `yaml:"registerReplica"`
	Optional        bool              `yaml:"optional"`
	Metadata        map[string]string `yaml:"metadata"`
}

func (p *Parser) emitJobs(node *yaml.Node, cb Callback) error {
	if node.Kind != yaml.SequenceNode {
		return fieldError("/jobs", "must be a sequence", node)
	}
	for i, item := range node.Content {
		var d jobDoc
		if err := item.Decode(&d); err != nil {
			return fmt.Errorf("jobs[%d]: %w", i, err)
		}
		job, err := p.toJob(d, i, item)
		if err != nil {
			return err
		}
		if err := cb.OnJob(job); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) toJob(d jobDoc, i int, node *yaml.Node) (*model.Job, error) {
	if d.ID == "" {
		return nil, fieldError(fmt.Sprintf("/jobs/%d/id", i), "id is required", node)
	}

	var typ model.JobType
	switch d.Type {
	case "", "job":
		typ = model.JobTypeCompute
		if d.Name == "" {
			return nil, fieldError(fmt.Sprintf("/jobs/%d/name", i), "name is required", node)
		}
	case "pegasusWorkflow":
		typ = model.JobTypeSubWorkflow
	case "condorWorkflow":
		typ = model.JobTypeDAG
	default:
		return nil, fieldError(fmt.Sprintf("/jobs/%d/type", i), fmt.Sprintf("unknown job type %q", d.Type), node)
	}

	job := model.NewJob("", typ)
	job.LogicalID = d.ID
	job.NodeLabel = d.NodeLabel
	job.Transformation = model.TransformationRef{Namespace: d.Namespace, Name: d.Name, Version: d.Version}
	if typ.IsWorkflow() && job.Transformation.Name == "" {
		job.Transformation.Name = d.File
	}
	job.Arguments = strings.Join(d.Arguments, " ")
	job.Stdin, job.Stdout, job.Stderr = d.Stdin, d.Stdout, d.Stderr
	job.Notifications = catalog.HooksToNotifications(d.Hooks)
	for k, v := range d.Metadata {
		job.Metadata[k] = v
	}

	for ns, prof := range d.Profiles.Namespaces() {
		target := job.Profiles(ns)
		if target == nil {
			p.logger.Debug("ignoring profile namespace", "job", d.ID, "namespace", ns)
			continue
		}
		target.Merge(prof)
	}

	if typ.IsWorkflow() && d.File != "" {
		job.AddUse(model.PegasusFile{LFN: d.File, Link: model.LinkInput})
	}
	for k, u := range d.Uses {
		f, err := toFile(u)
		if err != nil {
			return nil, fieldError(fmt.Sprintf("/jobs/%d/uses/%d", i, k), err.Error(), node)
		}
		job.AddUse(f)
	}
	return job, nil
}

func toFile(u useDoc) (model.PegasusFile, error) {
	if u.LFN == "" {
		return model.PegasusFile{}, errors.New("lfn is required")
	}
	link := model.LinkType(strings.ToLower(u.Type))
	switch link {
	case model.LinkInput, model.LinkOutput, model.LinkInOut, model.LinkCheckpoint:
	default:
		return model.PegasusFile{}, fmt.Errorf("unknown use type %q", u.Type)
	}
	f := model.PegasusFile{
		LFN:             u.LFN,
		Link:            link,
		Optional:        u.Optional,
		StageOut:        link != model.LinkInput,
		RegisterReplica: link != model.LinkInput,
	}
	if u.StageOut != nil {
		f.StageOut = *u.StageOut
	}
	if u.RegisterReplica != nil {
		f.RegisterReplica = *u.RegisterReplica
	}
	return f, nil
}

type dependencyDoc struct {
	ID       string   `yaml:"id"`
	Children []string `yaml:"children"`
}

// emitDependencies inverts the parent to children lists of the document
// into one OnEdge call per child, in order of first appearance.
func (p *Parser) emitDependencies(node *yaml.Node, cb Callback) error {
	var deps []dependencyDoc
	if err := node.Decode(&deps); err != nil {
		return fmt.Errorf("jobDependencies: %w", err)
	}
	var order []string
	parents := make(map[string][]string)
	for i, d := range deps {
		if d.ID == "" {
			return fieldError(fmt.Sprintf("/jobDependencies/%d/id", i), "id is required", node)
		}
		for _, c := range d.Children {
			if _, ok := parents[c]; !ok {
				order = append(order, c)
			}
			parents[c] = append(parents[c], d.ID)
		}
	}
	for _, child := range order {
		if err := cb.OnEdge(child, parents[child]); err != nil {
			return err
		}
	}
	return nil
}

func fieldError(path, msg string, node *yaml.Node) error {
	if node != nil && node.Line > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, node.Line)
	}
	return model.NewValidationError("invalid workflow document", model.FieldError{Path: path, Message: msg})
}
