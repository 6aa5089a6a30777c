package style

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-test/deep"

	"github.com/me/wfplan/internal/credential"
	"github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSites() *catalog.SiteStore {
	return catalog.NewSiteStore(
		&catalog.SiteEntry{Handle: model.LocalSite},
		&catalog.SiteEntry{
			Handle: "cluster",
			Gateways: []catalog.Gateway{
				{Type: "gt5", Contact: "cluster.example.org", Scheduler: catalog.SchedulerPBS, JobType: model.GatewayCompute},
				{Type: "gt5", Contact: "cluster.example.org/jobmanager-fork", Scheduler: catalog.SchedulerFork, JobType: model.GatewayAuxillary},
			},
		},
		&catalog.SiteEntry{
			Handle: "pool",
			Gateways: []catalog.Gateway{
				{Type: "condor", Contact: "schedd.example.org", Scheduler: catalog.SchedulerCondor, JobType: model.GatewayCompute},
			},
			Profiles: model.Namespaces{
				model.NamespaceCondor: model.ProfilesFromMap(map[string]string{model.CondorCollector: "cm.example.org"}),
			},
		},
		&catalog.SiteEntry{
			Handle: "hpc",
			Gateways: []catalog.Gateway{
				{Type: "batch", Contact: "user@hpc.example.org", Scheduler: catalog.SchedulerSLURM, JobType: model.GatewayCompute},
			},
			Profiles: model.Namespaces{
				model.NamespacePegasus: model.ProfilesFromMap(map[string]string{
					model.PegasusStyle: string(model.StyleGLite),
					model.PegasusQueue: "normal",
				}),
			},
		},
		&catalog.SiteEntry{
			Handle:   "forkonly",
			Gateways: []catalog.Gateway{{Type: "batch", Contact: "login.example.org", Scheduler: catalog.SchedulerFork, JobType: model.GatewayCompute}},
		},
		&catalog.SiteEntry{
			Handle:   "torque",
			Gateways: []catalog.Gateway{{Type: "batch", Contact: "login.example.org", Scheduler: "torque", JobType: model.GatewayCompute}},
		},
	)
}

// testDispatcher resolves credentials from env, which stands in for the
// planner process environment.
func testDispatcher(t *testing.T, env map[string]string) *Dispatcher {
	t.Helper()
	sites := testSites()
	f := credential.NewFactory(sites, testLogger(), credential.WithGetenv(func(k string) string { return env[k] }))
	return NewDispatcher(sites, credential.NewApplier(f, false, testLogger()), testLogger(), Options{BinDir: "/opt/wfplan/bin"})
}

func newJob(name, site string, typ model.JobType) *model.Job {
	j := model.NewJob(name, typ)
	j.LogicalID = strings.ToUpper(name)
	j.SiteHandle = site
	j.Directory = "/scratch/run0001"
	j.Executable = "/usr/bin/" + name
	j.Arguments = "-v"
	return j
}

func TestCondor_UniverseCorrection(t *testing.T) {
	d := testDispatcher(t, nil)

	aggregated := newJob("merge", "cluster", model.JobTypeCompute)
	aggregated.Aggregated = true
	aggregated.Style = model.StyleCondor
	aggregated.Condor.Construct(model.CondorUniverse, string(model.UniverseStandard))

	stageIn := newJob("stage_in", "cluster", model.JobTypeStageIn)
	stageIn.Style = model.StyleCondor
	stageIn.Condor.Construct(model.CondorUniverse, string(model.UniverseStandard))

	plain := newJob("sim", "cluster", model.JobTypeCompute)
	plain.Style = model.StyleCondor
	plain.Condor.Construct(model.CondorUniverse, string(model.UniverseStandard))

	for _, j := range []*model.Job{aggregated, stageIn, plain} {
		if err := d.Apply(j); err != nil {
			t.Fatalf("Apply(%s): %v", j.Name, err)
		}
	}
	for _, j := range []*model.Job{aggregated, stageIn} {
		if u := j.Universe(); u != model.UniverseVanilla {
			t.Errorf("%s universe = %s, want vanilla", j.Name, u)
		}
		if got := j.Condor.Value(model.CondorRemoteInitialDir); got != "/scratch/run0001" {
			t.Errorf("%s remote_initialdir = %q", j.Name, got)
		}
		if j.Condor.Contains(model.CondorInitialDir) {
			t.Errorf("%s has initialdir", j.Name)
		}
	}
	if u := plain.Universe(); u != model.UniverseStandard {
		t.Errorf("plain compute universe = %s, want standard kept", u)
	}
}

func TestCondor_LocalWrap(t *testing.T) {
	d := testDispatcher(t, nil)
	j := newJob("analyze", model.LocalSite, model.JobTypeCompute)
	j.Stdin = "params.txt"
	j.Condor.AddInputFilesForTransfer("f.c1", "f.c2")
	j.Condor.AddOutputFilesForTransfer("f.d")

	if err := d.Apply(j); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if u := j.Universe(); u != model.UniverseLocal {
		t.Fatalf("universe = %s, want local", u)
	}
	if got := j.Condor.Value(model.CondorInitialDir); got != "/scratch/run0001" {
		t.Errorf("initialdir = %q", got)
	}
	helper := filepath.Join("/opt/wfplan/bin", LocalHelper)
	if j.Executable != helper || j.Condor.Value(model.CondorExecutable) != helper {
		t.Errorf("executable = %q", j.Executable)
	}
	if j.Arguments != "/usr/bin/analyze -v" {
		t.Errorf("arguments = %q", j.Arguments)
	}
	want := map[string]string{
		EnvTransferInputFiles:  "f.c1,f.c2",
		EnvTransferOutputFiles: "f.d",
		EnvInitialDir:          "/scratch/run0001",
		EnvScratchDir:          "/scratch/run0001",
		EnvConnectStdin:        "True",
	}
	if diff := deep.Equal(j.Env.Map(), want); diff != nil {
		t.Error(diff)
	}
	for _, k := range []string{model.CondorTransferInputFiles, model.CondorTransferOutputFiles, model.CondorShouldTransferFiles} {
		if j.Condor.Contains(k) {
			t.Errorf("%s left on local job", k)
		}
	}
}

func TestCondor_WorkflowJobNotWrapped(t *testing.T) {
	d := testDispatcher(t, nil)
	j := newJob("subwf", model.LocalSite, model.JobTypeSubWorkflow)
	if err := d.Apply(j); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if j.Executable != "/usr/bin/subwf" {
		t.Errorf("workflow job wrapped: %q", j.Executable)
	}
}

func TestCondor_Mismatch(t *testing.T) {
	d := testDispatcher(t, nil)
	j := newJob("sim", "cluster", model.JobTypeCompute)
	j.Style = model.StyleCondor
	j.Condor.Construct(model.CondorUniverse, string(model.UniverseGrid))
	var me *model.MismatchError
	if err := d.Apply(j); !errors.As(err, &me) {
		t.Fatalf("err = %v, want MismatchError", err)
	}
	if me.Style != model.StyleCondor || me.Universe != model.UniverseGrid || me.Site != "cluster" {
		t.Errorf("MismatchError = %+v", me)
	}
}

func TestCondorG(t *testing.T) {
	proxy := filepath.Join(t.TempDir(), "x509up_u1000")
	if err := os.WriteFile(proxy, []byte("proxy"), 0o600); err != nil {
		t.Fatal(err)
	}
	d := testDispatcher(t, map[string]string{credential.EnvX509: proxy})

	j := newJob("sim", "cluster", model.JobTypeCompute)
	j.Style = model.StyleGlobus
	j.Pegasus.Construct(model.PegasusRuntime, "3601")
	j.Pegasus.Construct(model.PegasusQueue, "short")
	j.Globus.Construct(RSLQueue, "debug")

	if err := d.Apply(j); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if u := j.Universe(); u != model.UniverseGrid {
		t.Errorf("universe = %s", u)
	}
	if got := j.Condor.Value(model.CondorGridResource); got != "gt5 cluster.example.org/jobmanager-pbs" {
		t.Errorf("grid_resource = %q", got)
	}
	if got := j.Condor.Value(model.CondorGlobusRSL); got != "(queue=debug)(jobtype=single)(maxwalltime=61)" {
		t.Errorf("globusrsl = %q", got)
	}
	if got := j.Condor.Value(model.CondorX509UserProxy); got != proxy {
		t.Errorf("x509userproxy = %q", got)
	}

	aux := newJob("stage_in_remote_cluster_0", "cluster", model.JobTypeStageIn)
	aux.Style = model.StyleGlobus
	if err := d.Apply(aux); err != nil {
		t.Fatalf("Apply(aux): %v", err)
	}
	if got := aux.Condor.Value(model.CondorGridResource); got != "gt5 cluster.example.org/jobmanager-fork" {
		t.Errorf("aux grid_resource = %q", got)
	}
}

func TestCondorG_MissingSubmissionCredential(t *testing.T) {
	d := testDispatcher(t, map[string]string{credential.EnvX509: "/nonexistent/proxy"})
	j := newJob("sim", "cluster", model.JobTypeCompute)
	j.Style = model.StyleGlobus
	var ce *model.ConfigError
	if err := d.Apply(j); !errors.As(err, &ce) || ce.Key != credential.EnvX509 {
		t.Fatalf("err = %v, want ConfigError for %s", err, credential.EnvX509)
	}
}

func TestCondorC(t *testing.T) {
	d := testDispatcher(t, nil)
	j := newJob("sim", "pool", model.JobTypeCompute)
	j.Style = model.StyleCondorC
	j.Condor.AddInputFilesForTransfer("f.a")

	if err := d.Apply(j); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := map[string]string{
		model.CondorUniverse:             "grid",
		model.CondorRemoteUniverse:       "vanilla",
		model.CondorGridResource:         "condor schedd.example.org cm.example.org",
		model.CondorRemoteInitialDir:     "/scratch/run0001",
		model.CondorTransferInputFiles:   "f.a",
		model.CondorRemoteShouldTransfer: `"YES"`,
		model.CondorRemoteWhenToTransfer: `"ON_EXIT"`,
	}
	if diff := deep.Equal(j.Condor.Map(), want); diff != nil {
		t.Error(diff)
	}
}

func TestGlideIn(t *testing.T) {
	d := testDispatcher(t, nil)
	compute := newJob("sim", "cluster", model.JobTypeCompute)
	compute.Style = model.StyleGlideIn
	compute.Condor.Construct(model.CondorWhenToTransferOutput, "ON_EXIT_OR_EVICT")
	transfer := newJob("stage_out", "cluster", model.JobTypeStageOut)
	transfer.Style = model.StyleGlideIn

	for _, j := range []*model.Job{compute, transfer} {
		if err := d.Apply(j); err != nil {
			t.Fatalf("Apply(%s): %v", j.Name, err)
		}
		if j.Condor.Value(model.CondorShouldTransferFiles) != model.CondorShouldTransferYes {
			t.Errorf("%s should_transfer_files not forced", j.Name)
		}
	}
	if got := compute.Condor.Value(model.CondorWhenToTransferOutput); got != "ON_EXIT_OR_EVICT" {
		t.Errorf("user when_to_transfer_output overridden: %q", got)
	}
	if got := transfer.Condor.Value(model.CondorWhenToTransferOutput); got != model.CondorWhenToTransferOnExit {
		t.Errorf("default when_to_transfer_output = %q", got)
	}
	if !compute.Condor.Contains(model.CondorRemoteInitialDir) || transfer.Condor.Contains(model.CondorRemoteInitialDir) {
		t.Error("remote_initialdir must be set for compute jobs only")
	}
}

func TestGlideinWMS(t *testing.T) {
	d := testDispatcher(t, nil)
	j := newJob("sim", "cluster", model.JobTypeCompute)
	j.Style = model.StyleGlideinWMS
	j.Condor.Construct(model.CondorRequirements, `Arch == "X86_64"`)
	if err := d.Apply(j); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := j.Condor.Value(model.CondorRequirements); got != `(Arch == "X86_64") && `+GlideinWMSRequirements {
		t.Errorf("requirements = %q", got)
	}
	if j.Condor.Value(model.CondorRank) != GlideinWMSRank {
		t.Errorf("rank = %q", j.Condor.Value(model.CondorRank))
	}
	if j.Universe() != model.UniverseVanilla {
		t.Errorf("universe = %s", j.Universe())
	}
}

func TestGLite(t *testing.T) {
	d := testDispatcher(t, nil)
	j := newJob("sim", "hpc", model.JobTypeCompute)
	j.Pegasus.Construct(model.PegasusCores, "10")
	j.Pegasus.Construct(model.PegasusNodes, "4")
	j.Pegasus.Construct(model.PegasusRuntime, "5400")
	j.Pegasus.Construct(model.PegasusMemory, "2048")
	j.Pegasus.Construct(model.PegasusProject, "abc123")
	j.Condor.Construct(model.CondorPriority, "10")
	j.Env.Construct("LABEL", `it's "quoted"`)

	if err := d.Apply(j); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if j.Style != model.StyleGLite {
		t.Errorf("style = %s, want glite from site profile", j.Style)
	}
	want := `JOBNAME=="sim" && PASSENV==1 && QUEUE=="normal" && NODES==4 && PPN==3 && CORES==10 && ` +
		`WALLTIME=="01:30:00" && PER_PROCESS_MEMORY==2048 && PROJECT=="abc123" && PRIORITY==10`
	if got := j.Condor.Value(model.CondorRemoteCERequirements); got != want {
		t.Errorf("+remote_cerequirements =\n%s\nwant\n%s", got, want)
	}
	if got := j.Condor.Value(model.CondorGridResource); got != "batch slurm" {
		t.Errorf("grid_resource = %q", got)
	}
	if got := j.Condor.Value(model.CondorBatchQueue); got != "normal" {
		t.Errorf("batch_queue = %q", got)
	}
	wantEnv := `"LABEL='it''s ""quoted""' PEGASUS_CORES=10 PEGASUS_MEMORY=2048"`
	if got := j.Condor.Value(model.CondorRemoteEnvironment); got != wantEnv {
		t.Errorf("+remote_environment = %s, want %s", got, wantEnv)
	}
}

func TestGLite_InconsistentResources(t *testing.T) {
	d := testDispatcher(t, nil)
	j := newJob("sim", "hpc", model.JobTypeCompute)
	j.Pegasus.Construct(model.PegasusCores, "10")
	j.Pegasus.Construct(model.PegasusNodes, "2")
	j.Pegasus.Construct(model.PegasusPPN, "4")
	var ce *model.ConfigError
	if err := d.Apply(j); !errors.As(err, &ce) || ce.Site != "hpc" {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestCE_BatchSystem(t *testing.T) {
	d := testDispatcher(t, nil)

	j := newJob("sim", "forkonly", model.JobTypeCompute)
	j.Style = model.StyleGLite
	var ce *model.ConfigError
	if err := d.Apply(j); !errors.As(err, &ce) || ce.Key != "gateway.scheduler" {
		t.Errorf("fork scheduler err = %v, want ConfigError", err)
	}

	j = newJob("sim", "torque", model.JobTypeCompute)
	j.Style = model.StyleGLite
	if err := d.Apply(j); err != nil {
		t.Fatalf("unknown scheduler should fall back: %v", err)
	}
	if got := j.Condor.Value(model.CondorGridResource); got != "batch pbs" {
		t.Errorf("grid_resource = %q, want pbs fallback", got)
	}
}

func TestCE_CredentialsBeforeEnvironment(t *testing.T) {
	key := filepath.Join(t.TempDir(), "id_rsa")
	if err := os.WriteFile(key, []byte("key"), 0o600); err != nil {
		t.Fatal(err)
	}
	sites := testSites()
	hpc, _ := sites.Lookup("hpc")
	hpc.Profiles[model.NamespaceEnv] = model.ProfilesFromMap(map[string]string{credential.EnvSSH: key})
	f := credential.NewFactory(sites, testLogger(), credential.WithGetenv(func(string) string { return key }))
	d := NewDispatcher(sites, credential.NewApplier(f, false, testLogger()), testLogger(), Options{})

	j := newJob("sim", "hpc", model.JobTypeCompute)
	j.Style = model.StyleSSH
	j.AddCredential("hpc", model.CredentialSSH)
	if err := d.Apply(j); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := j.Condor.Value(model.CondorRemoteEnvironment); !strings.Contains(got, credential.EnvSSH+"=id_rsa") {
		t.Errorf("+remote_environment = %s, want credential variable", got)
	}
	if got := j.Condor.Value(model.CondorGridResource); got != "batch slurm user@hpc.example.org" {
		t.Errorf("grid_resource = %q", got)
	}
}

func TestPanda_RequiresQueue(t *testing.T) {
	d := testDispatcher(t, nil)
	j := newJob("sim", "torque", model.JobTypeCompute)
	j.Style = model.StylePanda
	var ce *model.ConfigError
	if err := d.Apply(j); !errors.As(err, &ce) || ce.Key != "pegasus.queue" {
		t.Fatalf("err = %v, want ConfigError for queue", err)
	}
}

func TestDispatcher_Resolve(t *testing.T) {
	d := testDispatcher(t, nil)
	tests := []struct {
		name  string
		setup func(j *model.Job)
		site  string
		want  model.StyleKind
	}{
		{"default", func(*model.Job) {}, "cluster", model.StyleCondor},
		{"site profile", func(*model.Job) {}, "hpc", model.StyleGLite},
		{"job profile beats site", func(j *model.Job) { j.Pegasus.Construct(model.PegasusStyle, "ssh") }, "hpc", model.StyleSSH},
		{"job tag beats profile", func(j *model.Job) {
			j.Style = model.StyleGlideIn
			j.Pegasus.Construct(model.PegasusStyle, "ssh")
		}, "hpc", model.StyleGlideIn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := newJob("sim", tt.site, model.JobTypeCompute)
			tt.setup(j)
			got, err := d.Resolve(j)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Resolve = %s, want %s", got, tt.want)
			}
		})
	}

	j := newJob("sim", "cluster", model.JobTypeCompute)
	j.Style = "carrier-pigeon"
	var ce *model.ConfigError
	if _, err := d.Resolve(j); !errors.As(err, &ce) || ce.Key != model.PegasusStyle {
		t.Errorf("unknown style err = %v", err)
	}
}

func TestDispatcher_MissingGateway(t *testing.T) {
	d := testDispatcher(t, nil)
	j := newJob("sim", model.LocalSite, model.JobTypeCompute)
	j.Style = model.StyleGlobus
	var ce *model.ConfigError
	if err := d.Apply(j); !errors.As(err, &ce) || ce.Key != "gateway.compute" {
		t.Fatalf("err = %v, want ConfigError for missing gateway", err)
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		cores, nodes, ppn int
		want              resources
		wantErr           bool
	}{
		{8, 2, 0, resources{cores: 8, nodes: 2, ppn: 4}, false},
		{9, 2, 0, resources{cores: 9, nodes: 2, ppn: 5, rounded: true}, false},
		{9, 0, 4, resources{cores: 9, nodes: 3, ppn: 4, rounded: true}, false},
		{0, 3, 4, resources{cores: 12, nodes: 3, ppn: 4}, false},
		{12, 3, 4, resources{cores: 12, nodes: 3, ppn: 4}, false},
		{10, 3, 4, resources{}, true},
		{6, 0, 0, resources{cores: 6}, false},
	}
	for _, tt := range tests {
		got, err := reconcile(tt.cores, tt.nodes, tt.ppn)
		if (err != nil) != tt.wantErr {
			t.Errorf("reconcile(%d,%d,%d) err = %v", tt.cores, tt.nodes, tt.ppn, err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("reconcile(%d,%d,%d) = %+v, want %+v", tt.cores, tt.nodes, tt.ppn, got, tt.want)
		}
	}
}

func TestFormatWallTime(t *testing.T) {
	tests := []struct {
		lrms    string
		seconds int
		want    string
	}{
		{catalog.SchedulerPBS, 5400, "01:30:00"},
		{catalog.SchedulerSLURM, 90061, "25:01:01"},
		{catalog.SchedulerLSF, 5401, "01:31"},
		{catalog.SchedulerCobalt, 61, "2"},
	}
	for _, tt := range tests {
		if got := FormatWallTime(tt.lrms, tt.seconds); got != tt.want {
			t.Errorf("FormatWallTime(%s, %d) = %q, want %q", tt.lrms, tt.seconds, got, tt.want)
		}
	}
}
