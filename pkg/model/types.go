package model

// JobType classifies a node of the plan.
type JobType string

const (
	JobTypeCompute      JobType = "compute"
	JobTypeStageIn      JobType = "stage-in"
	JobTypeStageOut     JobType = "stage-out"
	JobTypeInterSite    JobType = "inter-site"
	JobTypeRegistration JobType = "registration"
	JobTypeSubWorkflow  JobType = "sub-workflow"
	JobTypeDAG          JobType = "dag"
	JobTypeCreateDir    JobType = "create-dir"
	JobTypeCleanup      JobType = "cleanup"
	JobTypeSetXBit      JobType = "set-xbit"
)

// String returns the string representation of the job type.
func (t JobType) String() string {
	return string(t)
}

// IsTransfer returns true for the job types that move data.
func (t JobType) IsTransfer() bool {
	switch t {
	case JobTypeStageIn, JobTypeStageOut, JobTypeInterSite:
		return true
	}
	return false
}

// IsWorkflow returns true for nested workflow jobs.
func (t JobType) IsWorkflow() bool {
	return t == JobTypeSubWorkflow || t == JobTypeDAG
}

// GatewayJobType maps a job type to the gateway class used to submit it.
func (t JobType) GatewayJobType() GatewayJobType {
	switch t {
	case JobTypeCompute, JobTypeSubWorkflow, JobTypeDAG:
		return GatewayCompute
	case JobTypeStageIn, JobTypeStageOut, JobTypeInterSite:
		return GatewayTransfer
	case JobTypeRegistration:
		return GatewayRegister
	case JobTypeCleanup:
		return GatewayCleanup
	}
	return GatewayAuxillary
}

// GatewayJobType is the class of jobs a grid gateway accepts.
type GatewayJobType string

const (
	GatewayCompute   GatewayJobType = "compute"
	GatewayAuxillary GatewayJobType = "auxillary"
	GatewayTransfer  GatewayJobType = "transfer"
	GatewayRegister  GatewayJobType = "register"
	GatewayCleanup   GatewayJobType = "cleanup"
)

// Namespace names a profile namespace.
type Namespace string

const (
	NamespaceCondor  Namespace = "condor"
	NamespaceEnv     Namespace = "env"
	NamespacePegasus Namespace = "pegasus"
	NamespaceGlobus  Namespace = "globus"
	NamespaceDAGMan  Namespace = "dagman"
	NamespaceHints   Namespace = "hints"
)

// LinkType is the direction in which a job uses a file.
type LinkType string

const (
	LinkInput      LinkType = "input"
	LinkOutput     LinkType = "output"
	LinkInOut      LinkType = "inout"
	LinkCheckpoint LinkType = "checkpoint"
)

// CredentialType names a kind of credential a job may need at runtime.
type CredentialType string

const (
	CredentialX509        CredentialType = "x509"
	CredentialSSH         CredentialType = "ssh"
	CredentialIRODS       CredentialType = "irods"
	CredentialS3          CredentialType = "s3"
	CredentialBoto        CredentialType = "boto"
	CredentialGoogleP12   CredentialType = "googlep12"
	CredentialHTTP        CredentialType = "http"
	CredentialCredentials CredentialType = "credentials"
)

// CredentialTypes lists every known credential type in resolution order.
var CredentialTypes = []CredentialType{
	CredentialX509, CredentialSSH, CredentialIRODS, CredentialS3,
	CredentialBoto, CredentialGoogleP12, CredentialHTTP, CredentialCredentials,
}

// StyleKind tags the submission style that renders a job.
type StyleKind string

const (
	StyleCondor     StyleKind = "condor"
	StyleCondorC    StyleKind = "condorc"
	StyleGlobus     StyleKind = "globus"
	StyleGlideIn    StyleKind = "glidein"
	StyleGlideinWMS StyleKind = "glideinwms"
	StyleCream      StyleKind = "cream"
	StyleGLite      StyleKind = "glite"
	StyleSSH        StyleKind = "ssh"
	StylePanda      StyleKind = "panda"
)

// Universe is a scheduler execution environment.
type Universe string

const (
	UniverseVanilla   Universe = "vanilla"
	UniverseStandard  Universe = "standard"
	UniverseParallel  Universe = "parallel"
	UniverseScheduler Universe = "scheduler"
	UniverseLocal     Universe = "local"
	UniverseGrid      Universe = "grid"
)

// IsLocal returns true for universes that run on the submit host.
func (u Universe) IsLocal() bool {
	return u == UniverseLocal || u == UniverseScheduler
}

// TransformationType says whether an executable is pre-installed on a site
// or must be staged there.
type TransformationType string

const (
	TransformationInstalled TransformationType = "installed"
	TransformationStageable TransformationType = "stageable"
)

// LocalSite is the reserved handle of the submit host.
const LocalSite = "local"
