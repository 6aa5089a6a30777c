package style

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

// Environment exported to jobs behind a CE so the remote wrapper knows the
// resources it was granted.
const (
	EnvCores  = "PEGASUS_CORES"
	EnvMemory = "PEGASUS_MEMORY"
)

// defaultBatchSystem is used for a gateway scheduler the CE styles do not
// know how to address.
const defaultBatchSystem = catalog.SchedulerPBS

var batchSystems = map[string]bool{
	catalog.SchedulerPBS:    true,
	catalog.SchedulerSGE:    true,
	catalog.SchedulerSLURM:  true,
	catalog.SchedulerLSF:    true,
	catalog.SchedulerMoab:   true,
	catalog.SchedulerCobalt: true,
	catalog.SchedulerCondor: true,
}

// CEAdapter submits through a compute element front end to a batch system
// behind it. The variants differ in how the grid resource is addressed.
type CEAdapter struct {
	*base
	kind model.StyleKind
	// resource renders grid_resource for the batch system, gateway and queue.
	resource func(lrms string, gw catalog.Gateway, queue string) string
	// requireQueue makes a missing queue a configuration error.
	requireQueue bool
	// submission is the credential the scheduler needs to reach the CE.
	submission model.CredentialType
}

func newGLite(b *base) *CEAdapter {
	return &CEAdapter{
		base: b,
		kind: model.StyleGLite,
		resource: func(lrms string, _ catalog.Gateway, _ string) string {
			return "batch " + lrms
		},
	}
}

func newSSH(b *base) *CEAdapter {
	return &CEAdapter{
		base: b,
		kind: model.StyleSSH,
		resource: func(lrms string, gw catalog.Gateway, _ string) string {
			return fmt.Sprintf("batch %s %s", lrms, gw.Contact)
		},
		submission: model.CredentialSSH,
	}
}

func newPanda(b *base) *CEAdapter {
	return &CEAdapter{
		base: b,
		kind: model.StylePanda,
		resource: func(lrms string, gw catalog.Gateway, _ string) string {
			return fmt.Sprintf("batch %s %s", lrms, gw.Contact)
		},
		requireQueue: true,
	}
}

func newCream(b *base) *CEAdapter {
	return &CEAdapter{
		base: b,
		kind: model.StyleCream,
		resource: func(lrms string, gw catalog.Gateway, queue string) string {
			return fmt.Sprintf("cream %s %s %s", gw.Contact, lrms, queue)
		},
		requireQueue: true,
		submission:   model.CredentialX509,
	}
}

// Kind returns the style kind of the variant.
func (s *CEAdapter) Kind() model.StyleKind { return s.kind }

// Apply renders the job as a grid universe job for the CE, with the
// resource request in +remote_cerequirements. The job environment is
// serialized into +remote_environment last, after credentials have added
// their variables.
func (s *CEAdapter) Apply(job *model.Job) error {
	site, err := s.site(job)
	if err != nil {
		return err
	}
	gw, err := s.gateway(job, site)
	if err != nil {
		return err
	}
	u := s.universe(job)
	switch u {
	case model.UniverseVanilla, model.UniverseGrid:
	default:
		return &model.MismatchError{Style: s.kind, Universe: u, Site: job.SiteHandle, JobID: job.Label()}
	}
	lrms, err := s.batchSystem(job, gw)
	if err != nil {
		return err
	}

	queue := profile(job, site, model.PegasusQueue)
	if queue == "" {
		queue = job.Globus.Value(RSLQueue)
	}
	if queue == "" && s.requireQueue {
		return &model.ConfigError{JobID: job.Label(), Key: "pegasus." + model.PegasusQueue, Site: site.Handle,
			Msg: fmt.Sprintf("%s submission needs a queue", s.kind)}
	}

	job.Condor.Construct(model.CondorUniverse, string(model.UniverseGrid))
	job.Condor.Construct(model.CondorGridResource, s.resource(lrms, gw, queue))
	if job.Directory != "" {
		job.Condor.Construct(model.CondorRemoteInitialDir, job.Directory)
	}
	if queue != "" && !job.Condor.Contains(model.CondorBatchQueue) {
		job.Condor.Construct(model.CondorBatchQueue, queue)
	}

	req, err := s.requirements(job, site, lrms, queue)
	if err != nil {
		return err
	}
	job.Condor.Construct(model.CondorRemoteCERequirements, req)

	if s.submission != "" {
		job.SubmissionCredential = s.submission
		if err := s.applySubmission(job); err != nil {
			return err
		}
	}
	if err := s.applyCredentials(job, false); err != nil {
		return err
	}
	if job.Env.Len() > 0 {
		job.Condor.Construct(model.CondorRemoteEnvironment, EscapeEnvironment(job.Env))
	}
	return nil
}

// batchSystem returns the batch system behind the gateway. Fork and unknown
// schedulers cannot take a batch request. Other unrecognized names fall back
// to pbs with a warning.
func (s *CEAdapter) batchSystem(job *model.Job, gw catalog.Gateway) (string, error) {
	lrms := strings.ToLower(gw.Scheduler)
	switch {
	case lrms == "" || lrms == catalog.SchedulerFork || lrms == catalog.SchedulerUnknown:
		return "", &model.ConfigError{JobID: job.Label(), Key: "gateway.scheduler", Site: job.SiteHandle,
			Msg: fmt.Sprintf("%s submission needs a batch scheduler, gateway %s has %q", s.kind, gw.Contact, gw.Scheduler)}
	case batchSystems[lrms]:
		return lrms, nil
	}
	s.logger.Warn("unknown batch system, assuming pbs", "job", job.Name, "site", job.SiteHandle, "scheduler", gw.Scheduler)
	return defaultBatchSystem, nil
}

// requirements builds the CE requirements expression from the job's
// resource profiles.
func (s *CEAdapter) requirements(job *model.Job, site *catalog.SiteEntry, lrms, queue string) (string, error) {
	cores, err := intProfile(job, site, model.PegasusCores)
	if err != nil {
		return "", err
	}
	nodes, err := intProfile(job, site, model.PegasusNodes)
	if err != nil {
		return "", err
	}
	ppn, err := intProfile(job, site, model.PegasusPPN)
	if err != nil {
		return "", err
	}
	res, err := reconcile(cores, nodes, ppn)
	if err != nil {
		return "", &model.ConfigError{JobID: job.Label(), Key: "pegasus." + model.PegasusCores, Site: job.SiteHandle, Msg: err.Error()}
	}
	if res.rounded {
		s.logger.Warn("cores not divisible, rounding up", "job", job.Name, "cores", res.cores, "nodes", res.nodes, "ppn", res.ppn)
	}

	walltime, err := wallTimeSeconds(job, site)
	if err != nil {
		return "", err
	}
	memory, err := intProfile(job, site, model.PegasusMemory)
	if err != nil {
		return "", err
	}

	var e expr
	e.str("JOBNAME", job.Name)
	e.raw("PASSENV", "1")
	e.str("QUEUE", queue)
	if lrms != catalog.SchedulerSGE && lrms != catalog.SchedulerLSF {
		e.num("NODES", res.nodes)
		e.num("PPN", res.ppn)
	}
	e.num("CORES", res.cores)
	if walltime > 0 {
		e.str("WALLTIME", FormatWallTime(lrms, walltime))
	}
	e.num("PER_PROCESS_MEMORY", memory)
	e.str("PROJECT", profile(job, site, model.PegasusProject))
	if p := job.Condor.Value(model.CondorPriority); p != "" {
		if _, err := strconv.Atoi(p); err != nil {
			return "", &model.ConfigError{JobID: job.Label(), Key: "condor." + model.CondorPriority, Site: job.SiteHandle,
				Msg: fmt.Sprintf("priority %q is not an integer", p)}
		}
		e.raw("PRIORITY", p)
	}
	e.str("EXTRA_ARGUMENTS", profile(job, site, model.PegasusGLiteArguments))

	if res.cores > 0 && !job.Env.Contains(EnvCores) {
		job.Env.Construct(EnvCores, strconv.Itoa(res.cores))
	}
	if memory > 0 && !job.Env.Contains(EnvMemory) {
		job.Env.Construct(EnvMemory, strconv.Itoa(memory))
	}
	return e.String(), nil
}

type resources struct {
	cores, nodes, ppn int
	rounded           bool
}

// reconcile fills in the third of cores, nodes and ppn when two are given.
// A derived nodes or ppn is rounded up when cores does not divide evenly.
func reconcile(cores, nodes, ppn int) (resources, error) {
	r := resources{cores: cores, nodes: nodes, ppn: ppn}
	switch {
	case cores > 0 && nodes > 0 && ppn > 0:
		if nodes*ppn != cores {
			return r, fmt.Errorf("inconsistent resources: cores %d != nodes %d * ppn %d", cores, nodes, ppn)
		}
	case cores > 0 && nodes > 0:
		r.ppn = (cores + nodes - 1) / nodes
		r.rounded = cores%nodes != 0
	case cores > 0 && ppn > 0:
		r.nodes = (cores + ppn - 1) / ppn
		r.rounded = cores%ppn != 0
	case nodes > 0 && ppn > 0:
		r.cores = nodes * ppn
	}
	return r, nil
}

// wallTimeSeconds reads the pegasus runtime (seconds), falling back to the
// globus maxwalltime (minutes).
func wallTimeSeconds(job *model.Job, site *catalog.SiteEntry) (int, error) {
	runtime, err := intProfile(job, site, model.PegasusRuntime)
	if err != nil || runtime > 0 {
		return runtime, err
	}
	if v := job.Globus.Value(RSLMaxWallTime); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 0 {
			return 0, &model.ConfigError{JobID: job.Label(), Key: "globus." + RSLMaxWallTime, Site: job.SiteHandle,
				Msg: fmt.Sprintf("value %q is not a non-negative integer", v)}
		}
		return m * 60, nil
	}
	return 0, nil
}

// FormatWallTime renders seconds in the time syntax of a batch system.
// LSF takes hours and minutes, Cobalt plain minutes and the others
// hours, minutes and seconds. Partial minutes round up where seconds are
// not expressible.
func FormatWallTime(lrms string, seconds int) string {
	minutes := (seconds + 59) / 60
	switch lrms {
	case catalog.SchedulerLSF:
		return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
	case catalog.SchedulerCobalt:
		return strconv.Itoa(minutes)
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}

// expr accumulates a conjunction of KEY==value terms, skipping empty ones.
type expr struct {
	terms []string
}

func (e *expr) raw(key, value string) {
	e.terms = append(e.terms, key+"=="+value)
}

func (e *expr) str(key, value string) {
	if value != "" {
		e.raw(key, strconv.Quote(value))
	}
}

func (e *expr) num(key string, n int) {
	if n > 0 {
		e.raw(key, strconv.Itoa(n))
	}
}

func (e *expr) String() string {
	return strings.Join(e.terms, " && ")
}

// EscapeEnvironment serializes env in the scheduler's quoted environment
// syntax. Values with whitespace or single quotes are single quoted with
// embedded single quotes doubled; double quotes are always doubled.
func EscapeEnvironment(env *model.Profiles) string {
	parts := make([]string, 0, env.Len())
	for _, kv := range env.Pairs() {
		v := strings.ReplaceAll(kv.Value, `"`, `""`)
		if v == "" || strings.ContainsAny(v, " \t'") {
			v = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		parts = append(parts, kv.Key+"="+v)
	}
	return `"` + strings.Join(parts, " ") + `"`
}
