package style

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

// Globus RSL keys derived from pegasus profiles.
const (
	RSLMaxWallTime = "maxwalltime"
	RSLCount       = "count"
	RSLHostCount   = "hostcount"
	RSLProject     = "project"
	RSLMaxMemory   = "maxmemory"
	RSLQueue       = "queue"
	RSLJobType     = "jobtype"
)

// CondorG submits through a remote grid gateway.
type CondorG struct {
	*base
}

// Kind returns model.StyleGlobus.
func (s *CondorG) Kind() model.StyleKind { return model.StyleGlobus }

// Apply turns the job into a grid universe job against the site's gateway
// for its job class. Resource profiles become RSL keys unless the job sets
// them in the globus namespace already.
func (s *CondorG) Apply(job *model.Job) error {
	site, err := s.site(job)
	if err != nil {
		return err
	}
	gw, err := s.gateway(job, site)
	if err != nil {
		return err
	}

	u := s.universe(job)
	var jobType string
	switch u {
	case model.UniverseVanilla, model.UniverseStandard, model.UniverseGrid:
		jobType = "single"
	case model.UniverseParallel:
		jobType = "mpi"
	default:
		return &model.MismatchError{Style: s.Kind(), Universe: u, Site: job.SiteHandle, JobID: job.Label()}
	}

	job.Condor.Construct(model.CondorUniverse, string(model.UniverseGrid))
	job.Condor.Construct(model.CondorGridResource, gridResource(gw))
	if job.Directory != "" {
		job.Condor.Construct(model.CondorRemoteInitialDir, job.Directory)
	}

	if !job.Globus.Contains(RSLJobType) {
		job.Globus.Construct(RSLJobType, jobType)
	}
	if err := translateRSL(job, site); err != nil {
		return err
	}
	if rsl := renderRSL(job.Globus); rsl != "" {
		job.Condor.Construct(model.CondorGlobusRSL, rsl)
	}

	job.SubmissionCredential = model.CredentialX509
	if err := s.applySubmission(job); err != nil {
		return err
	}
	return s.applyCredentials(job, false)
}

// gridResource renders "<type> <contact>". GRAM contacts without a job
// manager get the one for the gateway's scheduler.
func gridResource(gw catalog.Gateway) string {
	contact := gw.Contact
	if (gw.Type == "gt2" || gw.Type == "gt5") && !strings.Contains(contact, "/jobmanager") {
		scheduler := gw.Scheduler
		if scheduler == "" || scheduler == catalog.SchedulerUnknown {
			scheduler = catalog.SchedulerFork
		}
		contact += "/jobmanager-" + scheduler
	}
	return strings.TrimSpace(gw.Type + " " + contact)
}

func translateRSL(job *model.Job, site *catalog.SiteEntry) error {
	set := func(key, value string) {
		if value != "" && !job.Globus.Contains(key) {
			job.Globus.Construct(key, value)
		}
	}
	runtime, err := intProfile(job, site, model.PegasusRuntime)
	if err != nil {
		return err
	}
	if runtime > 0 {
		set(RSLMaxWallTime, strconv.Itoa((runtime+59)/60))
	}
	set(RSLCount, profile(job, site, model.PegasusCores))
	set(RSLHostCount, profile(job, site, model.PegasusNodes))
	set(RSLProject, profile(job, site, model.PegasusProject))
	set(RSLMaxMemory, profile(job, site, model.PegasusMemory))
	set(RSLQueue, profile(job, site, model.PegasusQueue))
	return nil
}

// renderRSL concatenates (key=value) clauses in namespace order.
func renderRSL(p *model.Profiles) string {
	var sb strings.Builder
	for _, kv := range p.Pairs() {
		fmt.Fprintf(&sb, "(%s=%s)", kv.Key, kv.Value)
	}
	return sb.String()
}

// CondorC forwards the job to the schedd of another pool, where it runs as
// the direct style would have rendered it.
type CondorC struct {
	*base
	direct *Condor
}

// Kind returns model.StyleCondorC.
func (s *CondorC) Kind() model.StyleKind { return model.StyleCondorC }

// Apply renders the job for the remote pool, then wraps it in a grid
// universe job addressed to that pool's schedd and collector. Transfer
// control keys are re-homed so they apply on the remote side.
func (s *CondorC) Apply(job *model.Job) error {
	site, err := s.site(job)
	if err != nil {
		return err
	}
	gw, err := s.gateway(job, site)
	if err != nil {
		return err
	}
	if err := s.direct.Apply(job); err != nil {
		return err
	}

	remote := job.Universe()
	job.Condor.Construct(model.CondorRemoteUniverse, string(remote))
	job.Condor.Construct(model.CondorUniverse, string(model.UniverseGrid))

	collector := job.Condor.Value(model.CondorCollector)
	if collector == "" {
		collector, _ = site.Profile(model.NamespaceCondor, model.CondorCollector)
	}
	if collector == "" {
		collector = gw.Contact
	}
	job.Condor.Remove(model.CondorCollector)
	job.Condor.Construct(model.CondorGridResource, fmt.Sprintf("condor %s %s", gw.Contact, collector))

	for _, k := range [][2]string{
		{model.CondorShouldTransferFiles, model.CondorRemoteShouldTransfer},
		{model.CondorWhenToTransferOutput, model.CondorRemoteWhenToTransfer},
	} {
		if v, ok := job.Condor.Remove(k[0]); ok {
			job.Condor.Construct(k[1], strconv.Quote(v))
		}
	}
	return nil
}
