package style

import (
	"strings"

	"github.com/me/wfplan/pkg/model"
)

// Environment the local helper reads in place of the scheduler's own file
// transfer, which the local universe does not perform.
const (
	EnvTransferInputFiles  = "_PEGASUS_TRANSFER_INPUT_FILES"
	EnvTransferOutputFiles = "_PEGASUS_TRANSFER_OUTPUT_FILES"
	EnvInitialDir          = "_PEGASUS_INITIAL_DIR"
	EnvConnectStdin        = "_PEGASUS_CONNECT_STDIN"
	EnvScratchDir          = "_PEGASUS_SCRATCH_DIR"
)

// Condor submits directly to the pool of the submit host.
type Condor struct {
	*base
}

// Kind returns model.StyleCondor.
func (s *Condor) Kind() model.StyleKind { return model.StyleCondor }

// Apply sets the universe and working directory and, for jobs running on
// the submit host, routes execution through the local helper.
func (s *Condor) Apply(job *model.Job) error {
	u := s.universe(job)
	switch u {
	case model.UniverseVanilla, model.UniverseStandard, model.UniverseParallel:
		job.Condor.Construct(model.CondorUniverse, string(u))
		if job.Directory != "" {
			job.Condor.Construct(model.CondorRemoteInitialDir, job.Directory)
		}
	case model.UniverseLocal, model.UniverseScheduler:
		job.Condor.Construct(model.CondorUniverse, string(u))
		if job.Directory != "" {
			job.Condor.Construct(model.CondorInitialDir, job.Directory)
		}
		if !job.Type.IsWorkflow() {
			s.wrapLocal(job)
		}
	default:
		return &model.MismatchError{Style: s.Kind(), Universe: u, Site: job.SiteHandle, JobID: job.Label()}
	}
	return s.applyCredentials(job, u.IsLocal() || job.SiteHandle == model.LocalSite)
}

// wrapLocal makes the local helper the executable. The transfer lists move
// into its environment and the original command line becomes its arguments.
func (s *Condor) wrapLocal(job *model.Job) {
	if in := job.Condor.RemoveInputFilesForTransfer(); len(in) > 0 {
		job.Env.Construct(EnvTransferInputFiles, strings.Join(in, ","))
	}
	if out := job.Condor.RemoveOutputFilesForTransfer(); len(out) > 0 {
		job.Env.Construct(EnvTransferOutputFiles, strings.Join(out, ","))
	}
	if !job.Condor.Contains(model.CondorTransferExecutable) {
		job.Condor.Remove(model.CondorShouldTransferFiles)
		job.Condor.Remove(model.CondorWhenToTransferOutput)
	}
	if job.Directory != "" {
		job.Env.Construct(EnvInitialDir, job.Directory)
		job.Env.Construct(EnvScratchDir, job.Directory)
	}
	if job.Stdin != "" {
		job.Env.Construct(EnvConnectStdin, "True")
	}

	args := job.Executable
	if job.Arguments != "" {
		args = strings.TrimSpace(args + " " + job.Arguments)
	}
	job.Arguments = args
	job.Executable = s.localHelper
	job.Condor.Construct(model.CondorExecutable, s.localHelper)
	job.Condor.Construct(model.CondorArguments, args)
	s.logger.Debug("job wrapped with local helper", "job", job.Name, "helper", s.localHelper)
}

// GlideIn submits to worker nodes attached to the local pool on demand.
// Outputs always come back through the scheduler.
type GlideIn struct {
	*base
}

// Kind returns model.StyleGlideIn.
func (s *GlideIn) Kind() model.StyleKind { return model.StyleGlideIn }

// Apply forces output transfer and sets the remote directory for jobs that
// do not move data.
func (s *GlideIn) Apply(job *model.Job) error {
	u := s.universe(job)
	if u == model.UniverseLocal && job.SiteHandle != model.LocalSite && !job.Type.IsWorkflow() {
		u = model.UniverseVanilla
	}
	switch u {
	case model.UniverseVanilla, model.UniverseStandard, model.UniverseParallel:
	default:
		return &model.MismatchError{Style: s.Kind(), Universe: u, Site: job.SiteHandle, JobID: job.Label()}
	}
	job.Condor.Construct(model.CondorUniverse, string(u))
	job.Condor.Construct(model.CondorShouldTransferFiles, model.CondorShouldTransferYes)
	if !job.Condor.Contains(model.CondorWhenToTransferOutput) {
		job.Condor.Construct(model.CondorWhenToTransferOutput, model.CondorWhenToTransferOnExit)
	}
	if !job.Type.IsTransfer() && job.Directory != "" {
		job.Condor.Construct(model.CondorRemoteInitialDir, job.Directory)
	}
	return s.applyCredentials(job, false)
}

// Matched resources for glidein WMS pools.
const (
	GlideinWMSRequirements = `(IS_MONITOR_VM == False) && (Arch != "") && (OpSys != "") && (Disk != -42) && (Memory > 1) && (FileSystemDomain != "")`
	GlideinWMSRank         = "DaemonStartTime"
)

// GlideinWMS renders jobs as the direct style does and restricts them to
// glideins matched by the WMS frontend.
type GlideinWMS struct {
	*base
	direct *Condor
}

// Kind returns model.StyleGlideinWMS.
func (s *GlideinWMS) Kind() model.StyleKind { return model.StyleGlideinWMS }

// Apply applies the direct style and adds the matching expressions. A user
// requirements expression is kept and combined with the WMS one.
func (s *GlideinWMS) Apply(job *model.Job) error {
	if err := s.direct.Apply(job); err != nil {
		return err
	}
	if req := job.Condor.Value(model.CondorRequirements); req != "" && req != GlideinWMSRequirements {
		job.Condor.Construct(model.CondorRequirements, "("+req+") && "+GlideinWMSRequirements)
	} else {
		job.Condor.Construct(model.CondorRequirements, GlideinWMSRequirements)
	}
	job.Condor.Construct(model.CondorRank, GlideinWMSRank)
	return nil
}
