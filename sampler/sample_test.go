package sampler

import (
	"context"
	"slices"
	"strings"
	"testing"

	"jobmonitor/capacity"
	"jobmonitor/rules"
)

// Two snapshots of one job with low efficiency and too much memory, on two nodes.
func twoSampleJob(t *testing.T) (*Sampler, *Job) {
	e := Entry{Id: "393684", User: "vsc20213", MasterHost: "r3c4cn02", State: StateRunning, Nodes: 2, Cores: 40, CpuSeconds: 400, WallSeconds: 100}
	d := &Detail{
		Nodes:                []NodeCores{{"r3c4cn02", 20}, {"r3c4cn03", 20}},
		MemUsedGB:            10,
		MemRequestedGB:       8,
		WallUsedSeconds:      100,
		WallRemainingSeconds: 3600,
		CoreLoad:             []string{"r3c4cn02 all 5.00 0.00"},
	}
	table := capacity.NewTable("test")
	table.Insert(&capacity.NodeRecord{Hostname: "r3c4cn02", CpuCores: 20, MemGB: 64})
	table.Insert(&capacity.NodeRecord{Hostname: "r3c4cn03", CpuCores: 20, MemGB: 64})
	s := newTestSampler(
		&Snapshot{Time: at(0), Entries: []Entry{e}},
		&Snapshot{Time: at(5), Entries: []Entry{e}},
	)
	s.Config().Capacity = table
	s.SetDetailSource(fakeDetails{"393684": d})
	s.SetScriptSource(&fakeScripts{})
	for range 2 {
		if _, err := s.Sample(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	return s, s.Job("393684")
}

func TestOverviewContinuation(t *testing.T) {
	_, job := twoSampleJob(t)
	js := job.LastSample()
	if len(js.Warnings) != 2 {
		t.Fatalf("Warnings: %v", js.Warnings)
	}
	o := js.ComposeOverview(job)
	lines := strings.Split(o, "\n")
	if len(lines) != 3 || lines[0] != "" {
		t.Fatalf("Lines: %q", lines)
	}
	if !strings.HasPrefix(lines[1], "393684 vsc20213 r3c4cn02 2|40   effic = 20.0% < 70%") ||
		!strings.HasSuffix(lines[1], "[intel foss]") || len(lines[1]) != 68+len("[intel foss]") {
		t.Fatalf("First line: %q", lines[1])
	}
	if lines[2] != strings.Repeat(" ", 32)+"mem used 10.000GB > requested 8.000GB" {
		t.Fatalf("Continuation: %q", lines[2])
	}
}

func TestMemoization(t *testing.T) {
	_, job := twoSampleJob(t)
	js := job.LastSample()
	o1 := js.ComposeOverview(job)
	d1 := js.ComposeDetails(job)
	js.Warnings = append(js.Warnings, "mutated")
	job.WarningCounts[0] += 100
	if js.ComposeOverview(job) != o1 || js.ComposeDetails(job) != d1 {
		t.Fatal("Memoized text changed")
	}
}

func TestNoWarningsNoText(t *testing.T) {
	s := newTestSampler(&Snapshot{Time: at(0), Entries: []Entry{entry("1", "u", "n01", 4, 99)}})
	ts, _ := s.Sample(context.Background())
	job := s.Job("1")
	if job.Sample(ts).ComposeOverview(job) != "" || job.Details(ts) != "" {
		t.Fatal("Text for sample without warnings")
	}
}

func TestDetails(t *testing.T) {
	_, job := twoSampleJob(t)
	d := job.Details("nonesuch")
	for _, want := range []string{
		"\n\n#samples with warnings : 2 / 2 = 100.00%",
		"\n  low efficiency           :     2",
		"\n  memory over request      :     2",
		"\nwalltime used/remaining: 00:01:40 / 01:00:00",
		"\nmem [GB] used/requested/available: 10.000 / 8.000 / 128",
		"\nnodes and cores used: r3c4cn02/20\n                      r3c4cn03/20",
		"\nother jobs on r3c4cn02: None.\n",
		"\n--- sar -P ALL 1 1 ",
		"r3c4cn02 all 5.00 0.00\n",
		"\n--- Script ---",
		"module load intel/2016a\n",
	} {
		if !strings.Contains(d, want) {
			t.Fatalf("Details lack %q:\n%s", want, d)
		}
	}
	if strings.Contains(d, "host overcommitted") {
		t.Fatal("Zero counters are not shown")
	}
}

func TestHistory(t *testing.T) {
	_, job := twoSampleJob(t)
	h := job.History()
	if !strings.HasPrefix(h, "vsc20213 393684\n### 2017.02.14.10h00m00 ####") {
		t.Fatalf("Head: %q", h[:60])
	}
	if strings.Count(h, "--- Script ---") != 1 {
		t.Fatalf("Script should appear once:\n%s", h)
	}
	if strings.Count(h, "\n### ") != 2 || !strings.HasSuffix(h, "\n"+strings.Repeat("#", 80)) {
		t.Fatalf("Separators:\n%s", h)
	}
	sum := job.Summary()
	if sum.Samples != 2 || sum.SamplesWithWarnings != 2 || sum.WarningCounts["low efficiency"] != 2 || sum.MaxMemUsedGB != 10 {
		t.Fatalf("Summary: %+v", sum)
	}
}

func TestAttach(t *testing.T) {
	_, job := twoSampleJob(t)
	job.WarningCounts = job.WarningCounts[:1]
	job.Attach(nil)
	if job.Sampler() != nil {
		t.Fatal("Attached to nothing")
	}
	if len(job.WarningCounts) != rules.Count() || job.WarningCounts[0] != 2 {
		t.Fatalf("Counters: %v", job.WarningCounts)
	}
	if job.Sample(job.Samples[1].Timestamp) != job.Samples[1] {
		t.Fatal("Index not rebuilt")
	}
}

func TestLoadedModules(t *testing.T) {
	job := &Job{Script: []string{
		"module load intel/2016a HDF5/1.8.16",
		"module purge",
		"ml -q",
		"ml intel netCDF",
		"# module load commented",
	}}
	if m := job.LoadedModules(); !slices.Equal(m, []string{"intel", "HDF5", "netCDF"}) {
		t.Fatalf("Modules: %v", m)
	}
}

func TestOutOfOrderSamplePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic")
		}
	}()
	job := &Job{Id: "1"}
	job.addSample(&JobSample{Timestamp: "2017.02.14.10h05m00"})
	job.addSample(&JobSample{Timestamp: "2017.02.14.10h00m00"})
}
