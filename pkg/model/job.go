package model

import (
	"fmt"
	"sort"
	"strings"
)

// TransformationRef identifies a transformation by namespace, name and version.
type TransformationRef struct {
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
}

// LogicalName renders the reference as ns::name:version, omitting empty parts.
func (t TransformationRef) LogicalName() string {
	var sb strings.Builder
	if t.Namespace != "" {
		sb.WriteString(t.Namespace)
		sb.WriteString("::")
	}
	sb.WriteString(t.Name)
	if t.Version != "" {
		sb.WriteByte(':')
		sb.WriteString(t.Version)
	}
	return sb.String()
}

// Notification is a shell hook invoked on a job or workflow event.
type Notification struct {
	When   string `json:"when" yaml:"when"`
	Invoke string `json:"invoke" yaml:"invoke"`
}

// CredentialRef is a credential a job needs for a given site.
type CredentialRef struct {
	Site string         `json:"site" yaml:"site"`
	Type CredentialType `json:"type" yaml:"type"`
}

// Job is a node of the workflow graph. Compute jobs come from the workflow
// document; transfer, registration and set-xbit jobs are added during
// refinement.
type Job struct {
	Name              string            `json:"name" yaml:"name"`
	LogicalID         string            `json:"logical_id,omitempty" yaml:"logical_id,omitempty"`
	NodeLabel         string            `json:"node_label,omitempty" yaml:"node_label,omitempty"`
	Transformation    TransformationRef `json:"transformation" yaml:"transformation"`
	Type              JobType           `json:"type" yaml:"type"`
	SiteHandle        string            `json:"site,omitempty" yaml:"site,omitempty"`
	StagingSiteHandle string            `json:"staging_site,omitempty" yaml:"staging_site,omitempty"`
	Directory         string            `json:"directory,omitempty" yaml:"directory,omitempty"`
	Arguments         string            `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Stdin             string            `json:"stdin,omitempty" yaml:"stdin,omitempty"`
	Stdout            string            `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr            string            `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Executable        string            `json:"executable,omitempty" yaml:"executable,omitempty"`

	Condor  *Profiles `json:"-" yaml:"condor,omitempty"`
	Env     *Profiles `json:"-" yaml:"env,omitempty"`
	Pegasus *Profiles `json:"-" yaml:"pegasus,omitempty"`
	Globus  *Profiles `json:"-" yaml:"globus,omitempty"`
	DAGMan  *Profiles `json:"-" yaml:"dagman,omitempty"`
	Hints   *Profiles `json:"-" yaml:"hints,omitempty"`

	Inputs  FileSet `json:"-" yaml:"-"`
	Outputs FileSet `json:"-" yaml:"-"`

	// SubmissionCredential is the credential the scheduler uses to submit
	// the job, as opposed to credentials the job itself needs.
	SubmissionCredential CredentialType `json:"submission_credential,omitempty" yaml:"submission_credential,omitempty"`

	Level         int                 `json:"level" yaml:"level"`
	Aggregated    bool                `json:"aggregated,omitempty" yaml:"aggregated,omitempty"`
	Notifications []Notification      `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Metadata      map[string]string   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	// DataEndpoints lists per-site URL prefixes the job reads or writes.
	DataEndpoints map[string][]string `json:"-" yaml:"-"`
	Style         StyleKind           `json:"style,omitempty" yaml:"style,omitempty"`
	// Transfers holds the file transfers of a refinement job.
	Transfers []*FileTransfer `json:"-" yaml:"transfers,omitempty"`

	credentials map[CredentialRef]bool
}

// NewJob creates a job with every namespace and set initialised.
func NewJob(name string, typ JobType) *Job {
	return &Job{
		Name:          name,
		Type:          typ,
		Condor:        NewProfiles(),
		Env:           NewProfiles(),
		Pegasus:       NewProfiles(),
		Globus:        NewProfiles(),
		DAGMan:        NewProfiles(),
		Hints:         NewProfiles(),
		Inputs:        make(FileSet),
		Outputs:       make(FileSet),
		Metadata:      make(map[string]string),
		DataEndpoints: make(map[string][]string),
		credentials:   make(map[CredentialRef]bool),
	}
}

// Profiles returns the job namespace ns, or nil for an unknown namespace.
func (j *Job) Profiles(ns Namespace) *Profiles {
	switch ns {
	case NamespaceCondor:
		return j.Condor
	case NamespaceEnv:
		return j.Env
	case NamespacePegasus:
		return j.Pegasus
	case NamespaceGlobus:
		return j.Globus
	case NamespaceDAGMan:
		return j.DAGMan
	case NamespaceHints:
		return j.Hints
	}
	return nil
}

// AddUse records a file use from the workflow document. A checkpoint file is
// an output that may also be read back on restart, so it is recorded as an
// optional input as well.
func (j *Job) AddUse(f PegasusFile) {
	switch f.Link {
	case LinkInput:
		in := f
		j.Inputs.Add(&in)
	case LinkOutput:
		out := f
		j.Outputs.Add(&out)
	case LinkInOut:
		in, out := f, f
		j.Inputs.Add(&in)
		j.Outputs.Add(&out)
	case LinkCheckpoint:
		out := f
		out.Link = LinkOutput
		out.Checkpoint = true
		j.Outputs.Add(&out)
		in := f
		in.Link = LinkInput
		in.Checkpoint = true
		in.Optional = true
		j.Inputs.Add(&in)
	}
}

// CheckIOConflict returns an io-conflict StructuralError when a file is both
// a strict input and a strict output of the job.
func (j *Job) CheckIOConflict() error {
	for _, lfn := range j.Inputs.LFNs() {
		in := j.Inputs[lfn]
		out, ok := j.Outputs[lfn]
		if !ok || in.Checkpoint || out.Checkpoint {
			continue
		}
		if in.Link == LinkInput && out.Link == LinkOutput {
			return &StructuralError{
				Kind: KindIOConflict,
				Ref:  j.LogicalID,
				Msg:  fmt.Sprintf("file %q is both input and output of job %s", lfn, j.Name),
			}
		}
	}
	return nil
}

// AddCredential records that the job needs a credential of type t for site.
func (j *Job) AddCredential(site string, t CredentialType) {
	if j.credentials == nil {
		j.credentials = make(map[CredentialRef]bool)
	}
	j.credentials[CredentialRef{Site: site, Type: t}] = true
}

// HasCredential reports whether the job needs credential t for site.
func (j *Job) HasCredential(site string, t CredentialType) bool {
	return j.credentials[CredentialRef{Site: site, Type: t}]
}

// Credentials returns the credentials ordered by site and type.
func (j *Job) Credentials() []CredentialRef {
	out := make([]CredentialRef, 0, len(j.credentials))
	for c := range j.credentials {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Site != out[b].Site {
			return out[a].Site < out[b].Site
		}
		return out[a].Type < out[b].Type
	})
	return out
}

// AddDataEndpoint records a URL prefix the job touches on site.
func (j *Job) AddDataEndpoint(site, prefix string) {
	if j.DataEndpoints == nil {
		j.DataEndpoints = make(map[string][]string)
	}
	for _, p := range j.DataEndpoints[site] {
		if p == prefix {
			return
		}
	}
	j.DataEndpoints[site] = append(j.DataEndpoints[site], prefix)
}

// Universe returns the universe set in the condor namespace.
func (j *Job) Universe() Universe {
	return Universe(j.Condor.Value(CondorUniverse))
}

// IsLocalExecution reports whether the job runs on the submit host.
func (j *Job) IsLocalExecution() bool {
	return j.SiteHandle == LocalSite || j.Universe().IsLocal()
}

// Label returns the logical id when the job has one, otherwise its name.
func (j *Job) Label() string {
	if j.LogicalID != "" {
		return j.LogicalID
	}
	return j.Name
}
