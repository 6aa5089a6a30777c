package transfer

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/go-test/deep"

	"github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func computeJob(t *testing.T, dag *model.DAG, name, site string, level int) *model.Job {
	t.Helper()
	j := model.NewJob(name, model.JobTypeCompute)
	j.SiteHandle = site
	j.StagingSiteHandle = site
	j.Level = level
	if err := dag.AddJob(j); err != nil {
		t.Fatalf("add job %s: %v", name, err)
	}
	return j
}

func stageIn(lfn string) *model.FileTransfer {
	ft := &model.FileTransfer{LFN: lfn}
	ft.AddSource(model.LocalSite, "file:///data/"+lfn)
	ft.AddDestination("cluster", "gsiftp://cluster.example.org/scratch/wf/"+lfn)
	return ft
}

func stageOut(job, lfn string, register bool) *model.FileTransfer {
	ft := &model.FileTransfer{LFN: lfn, JobName: job, TransientRegistration: !register}
	ft.AddSource("cluster", "gsiftp://cluster.example.org/scratch/wf/"+lfn)
	ft.AddDestination(model.LocalSite, "file:///var/output/"+lfn)
	return ft
}

func jobNames(dag *model.DAG) []string {
	var out []string
	for _, j := range dag.Jobs() {
		out = append(out, j.Name)
	}
	return out
}

func TestNew(t *testing.T) {
	dag := model.NewDAG("w")
	for kind, want := range map[string]string{
		"":        "*transfer.Bundle",
		"bundle":  "*transfer.Bundle",
		"Basic":   "*transfer.Basic",
		"condor":  "*transfer.Condor",
		"cluster": "*transfer.Cluster",
	} {
		r, err := New(kind, dag, DefaultOptions(), testLogger())
		if err != nil {
			t.Fatalf("New(%q): %v", kind, err)
		}
		if got := typeName(r); got != want {
			t.Errorf("New(%q) = %s, want %s", kind, got, want)
		}
	}

	_, err := New("balanced", dag, DefaultOptions(), testLogger())
	var ce *model.ConfigError
	if !errors.As(err, &ce) || ce.Key != "transfer.refiner" {
		t.Errorf("unknown refiner error = %v", err)
	}
}

func typeName(r Refiner) string {
	switch r.(type) {
	case *Cluster:
		return "*transfer.Cluster"
	case *Bundle:
		return "*transfer.Bundle"
	case *Basic:
		return "*transfer.Basic"
	case *Condor:
		return "*transfer.Condor"
	}
	return "unknown"
}

func TestBundle_StageInDedup(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", "cluster", 1)
	b := computeJob(t, dag, "b", "cluster", 1)

	r := NewBundle(dag, DefaultOptions(), testLogger())
	if err := r.AddStageIn(a, []*model.FileTransfer{stageIn("f.in")}); err != nil {
		t.Fatal(err)
	}
	if err := r.AddStageIn(b, []*model.FileTransfer{stageIn("f.in")}); err != nil {
		t.Fatal(err)
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}

	if diff := deep.Equal(jobNames(dag), []string{"a", "b", "stage_in_local_cluster_0"}); diff != nil {
		t.Error(diff)
	}
	si, _ := dag.Job("stage_in_local_cluster_0")
	if len(si.Transfers) != 1 {
		t.Errorf("transfers = %d, want 1", len(si.Transfers))
	}
	if si.SiteHandle != model.LocalSite || si.StagingSiteHandle != "cluster" {
		t.Errorf("site = %s, staging = %s", si.SiteHandle, si.StagingSiteHandle)
	}
	for _, child := range []string{"a", "b"} {
		if !dag.HasEdge("stage_in_local_cluster_0", child) {
			t.Errorf("missing edge stage_in_local_cluster_0 -> %s", child)
		}
	}
}

func TestBundle_StageInSpreadsOverSlots(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", "cluster", 1)

	opts := DefaultOptions()
	opts.LocalTransfers = false
	r := NewBundle(dag, opts, testLogger())
	files := []*model.FileTransfer{stageIn("1"), stageIn("2"), stageIn("3")}
	if err := r.AddStageIn(a, files); err != nil {
		t.Fatal(err)
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}

	want := []string{"a", "stage_in_remote_cluster_0", "stage_in_remote_cluster_1"}
	if diff := deep.Equal(jobNames(dag), want); diff != nil {
		t.Error(diff)
	}
	j, _ := dag.Job("stage_in_remote_cluster_0")
	if len(j.Transfers) != 2 || j.SiteHandle != "cluster" {
		t.Errorf("slot 0: %d transfers on %s", len(j.Transfers), j.SiteHandle)
	}
	if diff := deep.Equal(dag.Parents("a"), []string{"stage_in_remote_cluster_0", "stage_in_remote_cluster_1"}); diff != nil {
		t.Error(diff)
	}
}

func TestBundle_Factor(t *testing.T) {
	tc := model.NewTransformationStore()
	tc.Add(model.TransformationEntry{
		Ref:  TransferTransformation,
		Site: "cluster",
		PFN:  "/usr/bin/pegasus-transfer",
		Type: model.TransformationInstalled,
		Profiles: model.Namespaces{
			model.NamespacePegasus: model.ProfilesFromMap(map[string]string{model.PegasusStageInClusters: "5"}),
		},
	})
	siteProfiles := func() model.Namespaces {
		return model.Namespaces{
			model.NamespacePegasus: model.ProfilesFromMap(map[string]string{model.PegasusStageInClusters: "3"}),
		}
	}
	sites := catalog.NewSiteStore(
		&catalog.SiteEntry{Handle: "cluster", Profiles: siteProfiles()},
		&catalog.SiteEntry{Handle: "hpc", Profiles: siteProfiles()},
		&catalog.SiteEntry{Handle: "plain"},
	)

	tests := []struct {
		name string
		site string
		job  string
		want int
	}{
		{"job profile wins", "cluster", "7", 7},
		{"transformation catalog", "cluster", "", 5},
		{"site catalog", "hpc", "", 3},
		{"default", "plain", "", DefaultBundleFactor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Transformations = tc
			opts.Sites = sites
			r := NewBundle(model.NewDAG("w"), opts, testLogger())

			j := model.NewJob("j", model.JobTypeCompute)
			j.SiteHandle = tt.site
			if tt.job != "" {
				j.Pegasus.Construct(model.PegasusStageInClusters, tt.job)
			}
			got, err := r.bundleFactor(j, tt.site, model.PegasusStageInClusters, opts.StageInBundle)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("bundle factor = %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("invalid", func(t *testing.T) {
		r := NewBundle(model.NewDAG("w"), DefaultOptions(), testLogger())
		j := model.NewJob("j", model.JobTypeCompute)
		j.Pegasus.Construct(model.PegasusStageInClusters, "0")
		_, err := r.bundleFactor(j, "cluster", model.PegasusStageInClusters, 2)
		var ce *model.ConfigError
		if !errors.As(err, &ce) || ce.Key != "pegasus."+model.PegasusStageInClusters {
			t.Errorf("error = %v", err)
		}
	})
}

func TestBundle_ExecutableSetXBit(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", "cluster", 1)
	b := computeJob(t, dag, "b", "cluster", 1)

	exe := func() *model.FileTransfer {
		ft := stageIn("analyze")
		ft.Executable = true
		return ft
	}
	r := NewBundle(dag, DefaultOptions(), testLogger())
	if err := r.AddStageIn(a, []*model.FileTransfer{exe()}); err != nil {
		t.Fatal(err)
	}
	if err := r.AddStageIn(b, []*model.FileTransfer{exe()}); err != nil {
		t.Fatal(err)
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}

	x, ok := dag.Job("chmod_a_0")
	if !ok {
		t.Fatalf("no set-xbit job in %v", jobNames(dag))
	}
	if x.Type != model.JobTypeSetXBit || x.SiteHandle != "cluster" {
		t.Errorf("set-xbit job type %s on %s", x.Type, x.SiteHandle)
	}
	if x.Arguments != "+x /scratch/wf/analyze" {
		t.Errorf("arguments = %q", x.Arguments)
	}
	for _, e := range []model.Edge{
		{Parent: "stage_in_local_cluster_0", Child: "chmod_a_0"},
		{Parent: "chmod_a_0", Child: "a"},
		{Parent: "chmod_a_0", Child: "b"},
	} {
		if !dag.HasEdge(e.Parent, e.Child) {
			t.Errorf("missing edge %s -> %s", e.Parent, e.Child)
		}
	}
}

func TestBundle_StageOutPerLevel(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", "cluster", 1)
	b := computeJob(t, dag, "b", "cluster", 1)
	c := computeJob(t, dag, "c", "cluster", 2)
	d := computeJob(t, dag, "d", "cluster", 2)

	r := NewBundle(dag, DefaultOptions(), testLogger())
	regOnly := stageOut("d", "d.log", true)
	regOnly.TransientTransfer = true
	steps := []struct {
		job   *model.Job
		files []*model.FileTransfer
	}{
		{a, []*model.FileTransfer{stageOut("a", "a.out", false)}},
		{b, []*model.FileTransfer{stageOut("b", "b.out", true)}},
		{c, []*model.FileTransfer{stageOut("c", "c.out", false)}},
		{d, []*model.FileTransfer{regOnly}},
	}
	for _, s := range steps {
		if err := r.AddStageOut(s.job, s.files, false); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"a", "b", "c", "d",
		"stage_out_local_cluster_1_0",
		"stage_out_local_cluster_1_1",
		"register_cluster_1_1",
		"stage_out_local_cluster_2_0",
		"register_cluster_2_1",
	}
	if diff := deep.Equal(jobNames(dag), want); diff != nil {
		t.Error(diff)
	}
	wantEdges := []model.Edge{
		{Parent: "a", Child: "stage_out_local_cluster_1_0"},
		{Parent: "b", Child: "stage_out_local_cluster_1_1"},
		{Parent: "stage_out_local_cluster_1_1", Child: "register_cluster_1_1"},
		{Parent: "c", Child: "stage_out_local_cluster_2_0"},
		{Parent: "d", Child: "register_cluster_2_1"},
	}
	if diff := deep.Equal(dag.Edges(), wantEdges); diff != nil {
		t.Error(diff)
	}
	reg, _ := dag.Job("register_cluster_1_1")
	if reg.Type != model.JobTypeRegistration || reg.Level != 1 {
		t.Errorf("registration job type %s level %d", reg.Type, reg.Level)
	}
}

func TestBundle_StageOutDeletedLeaf(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", "cluster", 1)

	r := NewBundle(dag, DefaultOptions(), testLogger())
	if err := r.AddStageOut(a, []*model.FileTransfer{stageOut("a", "a.out", false)}, true); err != nil {
		t.Fatal(err)
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}
	if _, ok := dag.Job("stage_out_local_cluster_1_0"); !ok {
		t.Fatal("stage-out job missing")
	}
	if len(dag.Edges()) != 0 {
		t.Errorf("edges = %v, want none", dag.Edges())
	}
}

func TestCluster_StageInPerLevel(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", "cluster", 1)
	b := computeJob(t, dag, "b", "cluster", 1)
	c := computeJob(t, dag, "c", "cluster", 2)

	r := NewCluster(dag, DefaultOptions(), testLogger())
	steps := []struct {
		job   *model.Job
		files []*model.FileTransfer
	}{
		{a, []*model.FileTransfer{stageIn("1")}},
		{b, []*model.FileTransfer{stageIn("2"), stageIn("1")}},
		{c, []*model.FileTransfer{stageIn("3"), stageIn("2")}},
	}
	for _, s := range steps {
		if err := r.AddStageIn(s.job, s.files); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"a", "b", "c",
		"stage_in_local_cluster_1_0",
		"stage_in_local_cluster_1_1",
		"stage_in_local_cluster_2_0",
	}
	if diff := deep.Equal(jobNames(dag), want); diff != nil {
		t.Error(diff)
	}
	wantEdges := []model.Edge{
		{Parent: "stage_in_local_cluster_1_0", Child: "a"},
		{Parent: "stage_in_local_cluster_1_0", Child: "b"},
		{Parent: "stage_in_local_cluster_1_1", Child: "b"},
		{Parent: "stage_in_local_cluster_1_1", Child: "c"},
		{Parent: "stage_in_local_cluster_2_0", Child: "c"},
	}
	if diff := deep.Equal(dag.Edges(), wantEdges); diff != nil {
		t.Error(diff)
	}
	j, _ := dag.Job("stage_in_local_cluster_2_0")
	if j.Level != 2 || len(j.Transfers) != 1 || j.Transfers[0].LFN != "3" {
		t.Errorf("level 2 stage-in: level %d, %d transfers", j.Level, len(j.Transfers))
	}
}

func TestCluster_Factor(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", "cluster", 1)
	a.Pegasus.Construct(model.PegasusClusterStageIn, "1")
	a.Pegasus.Construct(model.PegasusStageInClusters, "3")

	r := NewCluster(dag, DefaultOptions(), testLogger())
	if err := r.AddStageIn(a, []*model.FileTransfer{stageIn("1"), stageIn("2")}); err != nil {
		t.Fatal(err)
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(jobNames(dag), []string{"a", "stage_in_local_cluster_1_0"}); diff != nil {
		t.Error(diff)
	}

	b := model.NewJob("b", model.JobTypeCompute)
	b.SiteHandle, b.StagingSiteHandle, b.Level = "cluster", "cluster", 1
	b.Pegasus.Construct(model.PegasusClusterStageIn, "none")
	err := NewCluster(model.NewDAG("w"), DefaultOptions(), testLogger()).
		AddStageIn(b, []*model.FileTransfer{stageIn("1")})
	var ce *model.ConfigError
	if !errors.As(err, &ce) || ce.Key != "pegasus."+model.PegasusClusterStageIn {
		t.Errorf("error = %v", err)
	}
}

func TestRefiner_InvalidPriority(t *testing.T) {
	for _, kind := range []string{KindBasic, KindBundle} {
		t.Run(kind, func(t *testing.T) {
			dag := model.NewDAG("w")
			a := computeJob(t, dag, "a", "cluster", 1)
			a.Condor.Construct(model.CondorPriority, "high")

			r, err := New(kind, dag, DefaultOptions(), testLogger())
			if err != nil {
				t.Fatal(err)
			}
			err = r.AddStageIn(a, []*model.FileTransfer{stageIn("f.in")})
			var ce *model.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want ConfigError", err)
			}
			if ce.Key != "condor.priority" || ce.JobID != "a" {
				t.Errorf("config error = %+v", ce)
			}
		})
	}
}

func TestRefiner_PriorityPropagates(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", "cluster", 1)
	a.Condor.Construct(model.CondorPriority, "10")

	r := NewBasic(dag, DefaultOptions(), testLogger())
	ft := stageIn("f.in")
	if err := r.AddStageIn(a, []*model.FileTransfer{ft}); err != nil {
		t.Fatal(err)
	}
	if ft.Priority != 10 {
		t.Errorf("file priority = %d", ft.Priority)
	}
	si, _ := dag.Job("stage_in_local_a_0")
	if got := si.Condor.Value(model.CondorPriority); got != "10" {
		t.Errorf("transfer job priority = %q", got)
	}
}

func TestBasic_StageIn(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", "cluster", 1)
	b := computeJob(t, dag, "b", "cluster", 2)

	r := NewBasic(dag, DefaultOptions(), testLogger())
	exe := stageIn("analyze")
	exe.Executable = true
	if err := r.AddStageIn(a, []*model.FileTransfer{stageIn("f.in"), exe}); err != nil {
		t.Fatal(err)
	}
	if err := r.AddStageIn(b, []*model.FileTransfer{stageIn("f.in"), stageIn("g.in")}); err != nil {
		t.Fatal(err)
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}

	want := []string{"a", "b", "stage_in_local_a_0", "chmod_a_0", "stage_in_local_b_0"}
	if diff := deep.Equal(jobNames(dag), want); diff != nil {
		t.Error(diff)
	}
	if diff := deep.Equal(dag.Parents("a"), []string{"chmod_a_0"}); diff != nil {
		t.Error(diff)
	}
	if diff := deep.Equal(dag.Parents("chmod_a_0"), []string{"stage_in_local_a_0"}); diff != nil {
		t.Error(diff)
	}
	if diff := deep.Equal(dag.Parents("b"), []string{"stage_in_local_a_0", "stage_in_local_b_0"}); diff != nil {
		t.Error(diff)
	}
	bj, _ := dag.Job("stage_in_local_b_0")
	if len(bj.Transfers) != 1 || bj.Transfers[0].LFN != "g.in" {
		t.Errorf("transfers of b = %+v", bj.Transfers)
	}
}

func TestBasic_InterSite(t *testing.T) {
	dag := model.NewDAG("w")
	computeJob(t, dag, "p", "hpc", 1)
	c := computeJob(t, dag, "c", "cluster", 2)

	r := NewBasic(dag, DefaultOptions(), testLogger())
	ft := &model.FileTransfer{LFN: "mid.dat", JobName: "p"}
	ft.AddSource("hpc", "scp://hpc.example.org/lustre/scratch/mid.dat")
	ft.AddDestination("cluster", "gsiftp://cluster.example.org/scratch/wf/mid.dat")
	if err := r.AddInterSite(c, []*model.FileTransfer{ft}); err != nil {
		t.Fatal(err)
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}

	inter, ok := dag.Job("stage_inter_local_c_0")
	if !ok {
		t.Fatalf("inter-site job missing from %v", jobNames(dag))
	}
	if inter.Type != model.JobTypeInterSite {
		t.Errorf("type = %s", inter.Type)
	}
	wantEdges := []model.Edge{
		{Parent: "p", Child: "stage_inter_local_c_0"},
		{Parent: "stage_inter_local_c_0", Child: "c"},
	}
	if diff := deep.Equal(dag.Edges(), wantEdges); diff != nil {
		t.Error(diff)
	}
}

func TestBasic_StageOut(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", "cluster", 1)

	opts := DefaultOptions()
	opts.Prefix = "run1_"
	r := NewBasic(dag, opts, testLogger())
	if err := r.AddStageOut(a, []*model.FileTransfer{stageOut("a", "a.out", true)}, false); err != nil {
		t.Fatal(err)
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}
	wantEdges := []model.Edge{
		{Parent: "a", Child: "stage_out_local_run1_a_0"},
		{Parent: "stage_out_local_run1_a_0", Child: "register_run1_a"},
	}
	if diff := deep.Equal(dag.Edges(), wantEdges); diff != nil {
		t.Error(diff)
	}

	t.Run("registration disabled", func(t *testing.T) {
		dag := model.NewDAG("w")
		a := computeJob(t, dag, "a", "cluster", 1)
		opts := DefaultOptions()
		opts.CreateRegistration = false
		r := NewBasic(dag, opts, testLogger())
		if err := r.AddStageOut(a, []*model.FileTransfer{stageOut("a", "a.out", true)}, false); err != nil {
			t.Fatal(err)
		}
		if err := r.Done(); err != nil {
			t.Fatal(err)
		}
		if diff := deep.Equal(jobNames(dag), []string{"a", "stage_out_local_a_0"}); diff != nil {
			t.Error(diff)
		}
	})
}

func TestCondor_StageIn(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", model.LocalSite, 1)

	r := NewCondor(dag, DefaultOptions(), testLogger())
	ft := &model.FileTransfer{LFN: "f.in"}
	ft.AddSource(model.LocalSite, "file:///data/f.in")
	if err := r.AddStageIn(a, []*model.FileTransfer{ft}); err != nil {
		t.Fatal(err)
	}
	if got := a.Condor.Value(model.CondorTransferInputFiles); got != "/data/f.in" {
		t.Errorf("transfer_input_files = %q", got)
	}
	if got := a.Condor.Value(model.CondorShouldTransferFiles); got != model.CondorShouldTransferYes {
		t.Errorf("should_transfer_files = %q", got)
	}
	if !a.Inputs.Contains("f.in") {
		t.Error("input not recorded on job")
	}

	remote := &model.FileTransfer{LFN: "g.in"}
	remote.AddSource("cluster", "gsiftp://cluster.example.org/g.in")
	err := r.AddStageIn(a, []*model.FileTransfer{remote})
	var ce *model.ConfigError
	if !errors.As(err, &ce) || ce.Key != "transfer.source" {
		t.Errorf("error = %v, want ConfigError for non-file source", err)
	}
}

func TestCondor_InterSiteUnsupported(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", model.LocalSite, 1)
	r := NewCondor(dag, DefaultOptions(), testLogger())

	err := r.AddInterSite(a, []*model.FileTransfer{{LFN: "f"}})
	if !errors.Is(err, model.ErrUnsupported) {
		t.Errorf("error = %v, want ErrUnsupported", err)
	}
}

func TestCondor_StageOut(t *testing.T) {
	dag := model.NewDAG("w")
	a := computeJob(t, dag, "a", model.LocalSite, 1)
	r := NewCondor(dag, DefaultOptions(), testLogger())

	ft := &model.FileTransfer{LFN: "a.out", TransientRegistration: true}
	ft.AddSource(model.LocalSite, "file:///var/scratch/a.out")
	ft.AddDestination(model.LocalSite, "file:///results/run1/a.out")
	if err := r.AddStageOut(a, []*model.FileTransfer{ft}, false); err != nil {
		t.Fatal(err)
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}

	so, ok := dag.Job("stage_out_local_a_0")
	if !ok {
		t.Fatalf("stage-out job missing from %v", jobNames(dag))
	}
	want := map[string]string{
		model.CondorUniverse:             "vanilla",
		model.CondorTransferInputFiles:   "/var/scratch/a.out",
		model.CondorShouldTransferFiles:  "YES",
		model.CondorWhenToTransferOutput: "ON_EXIT",
		model.CondorTransferOutputFiles:  "a.out",
		model.CondorInitialDir:           "/results/run1",
	}
	if diff := deep.Equal(so.Condor.Map(), want); diff != nil {
		t.Error(diff)
	}
	if so.SiteHandle != model.LocalSite || so.Executable != "/bin/true" {
		t.Errorf("site %s executable %s", so.SiteHandle, so.Executable)
	}
	if !dag.HasEdge("a", "stage_out_local_a_0") {
		t.Error("missing edge a -> stage_out_local_a_0")
	}
}
