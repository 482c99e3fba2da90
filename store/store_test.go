package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jobmonitor/sampler"
)

type oneSnapshot struct {
	snap *sampler.Snapshot
}

func (o *oneSnapshot) FetchSnapshot(ctx context.Context) (*sampler.Snapshot, error) {
	return o.snap, nil
}

const testTimestamp = "2017.02.14.10h00m00"

// A sampled job; with low efficiency if idle is set, otherwise without warnings.
func sampledJob(t *testing.T, user string, idle bool) *sampler.Job {
	return sampledJobWithId(t, "393684", user, idle)
}

func sampledJobWithId(t *testing.T, id, user string, idle bool) *sampler.Job {
	cpu := 400.0
	if idle {
		cpu = 10
	}
	s := sampler.New(sampler.DefaultConfig(), &oneSnapshot{&sampler.Snapshot{
		Time: time.Date(2017, 2, 14, 10, 0, 0, 0, time.Local),
		Entries: []sampler.Entry{{
			Id: id, User: user, MasterHost: "r3c4cn02", State: sampler.StateRunning,
			Nodes: 1, Cores: 4, CpuSeconds: cpu, WallSeconds: 100,
		}},
	}})
	ts, err := s.Sample(context.Background())
	if err != nil || ts != testTimestamp {
		t.Fatalf("Sample: %s %v", ts, err)
	}
	return s.Job(id)
}

func TestPersistAndLoad(t *testing.T) {
	for _, compress := range []bool{false, true} {
		root := t.TempDir()
		g := NewGateway(root, compress)
		job := sampledJob(t, "vsc_20213", true)
		if err := g.Persist(job, "completed", true); err != nil {
			t.Fatal(err)
		}
		ext := plainExt
		if compress {
			ext = compressedExt
		}
		fn := filepath.Join(root, "completed", "vsc_20213_393684_"+testTimestamp+ext)
		if _, err := os.Stat(fn); err != nil {
			t.Fatalf("Record not written: %v", err)
		}

		loaded := Load(filepath.Join(root, "completed", "vsc_20213_393684_"+testTimestamp), nil)
		if loaded == nil {
			t.Fatal("Could not load")
		}
		if loaded.Sampler() != nil {
			t.Fatal("Loaded job should be detached")
		}
		if loaded.Id != job.Id || loaded.User != job.User || len(loaded.Samples) != 1 ||
			loaded.SamplesWithWarnings != 1 || loaded.WarningCounts[0] != 1 {
			t.Fatalf("Loaded job differs: %+v", loaded)
		}
		ts := loaded.Samples[0].Timestamp
		if loaded.Sample(ts) == nil {
			t.Fatal("Sample index")
		}
		if loaded.Details(ts) != job.Details(ts) {
			t.Fatalf("Details differ:\n%s\n%s", loaded.Details(ts), job.Details(ts))
		}

		s := sampler.New(sampler.DefaultConfig(), nil)
		if again := Load(fn, s); again == nil || again.Sampler() != s {
			t.Fatal("Load by exact name with sampler")
		}
	}
}

func TestPersistOnlyIfWarnings(t *testing.T) {
	root := t.TempDir()
	g := NewGateway(root, false)
	if err := g.Persist(sampledJob(t, "u", false), "completed", true); err != nil {
		t.Fatal(err)
	}
	records, err := ListRecords(filepath.Join(root, "completed"))
	if err != nil || len(records) != 0 {
		t.Fatalf("Records: %v %v", records, err)
	}
}

func TestRunningRecords(t *testing.T) {
	root := t.TempDir()
	job := sampledJob(t, "u", true)
	if err := NewGateway(root, false).Persist(job, RunningState, true); err != nil {
		t.Fatal(err)
	}
	// Switching compression replaces the record.
	g := NewGateway(root, true)
	if err := g.Persist(job, RunningState, true); err != nil {
		t.Fatal(err)
	}
	records, err := ListRecords(filepath.Join(root, RunningState))
	if err != nil || len(records) != 1 {
		t.Fatalf("Records: %v %v", records, err)
	}
	r := records[0]
	if r.Name != "u_393684" || r.User != "u" || r.JobId != "393684" || r.Timestamp != "" || !r.Compressed {
		t.Fatalf("Record: %+v", r)
	}
	if err := g.Remove(job, RunningState); err != nil {
		t.Fatal(err)
	}
	if err := g.Remove(job, RunningState); err != nil {
		t.Fatalf("Removing twice: %v", err)
	}
	if Load(filepath.Join(root, RunningState, "u_393684"), nil) != nil {
		t.Fatal("Record still there")
	}
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "u_1.cbor")
	os.WriteFile(fn, []byte("not cbor at all"), 0644)
	if Load(fn, nil) != nil {
		t.Fatal("Corrupt record loaded")
	}
	gz := filepath.Join(dir, "u_2.cbor.gz")
	os.WriteFile(gz, []byte("not gzip"), 0644)
	if Load(gz, nil) != nil {
		t.Fatal("Corrupt compressed record loaded")
	}
	if Load(filepath.Join(dir, "u_3"), nil) != nil {
		t.Fatal("Missing record loaded")
	}
}

func TestMarker(t *testing.T) {
	root := t.TempDir()
	g := NewGateway(root, false)
	dir := filepath.Join(root, RunningState)
	if _, err := ReadMarker(dir); !errors.Is(err, ErrNoMarker) {
		t.Fatalf("Expected no marker: %v", err)
	}
	if err := g.WriteMarker(RunningState, testTimestamp); err != nil {
		t.Fatal(err)
	}
	if ts, err := ReadMarker(dir); err != nil || ts != testTimestamp {
		t.Fatalf("Marker: %s %v", ts, err)
	}
	if err := g.ClearMarker(RunningState); err != nil {
		t.Fatal(err)
	}
	if err := g.ClearMarker(RunningState); err != nil {
		t.Fatalf("Clearing twice: %v", err)
	}
	if _, err := ReadMarker(dir); !errors.Is(err, ErrNoMarker) {
		t.Fatalf("Expected no marker: %v", err)
	}
	os.WriteFile(filepath.Join(dir, MarkerName), []byte("yesterday\n"), 0644)
	if _, err := ReadMarker(dir); err == nil || errors.Is(err, ErrNoMarker) {
		t.Fatalf("Garbage marker: %v", err)
	}
}

func TestParseRecordName(t *testing.T) {
	cases := []struct {
		name       string
		ok         bool
		user, job  string
		ts         string
		compressed bool
	}{
		{"vsc20213_393684", true, "vsc20213", "393684", "", false},
		{"/data/completed/a_b_12_2017.02.14.10h00m00.cbor.gz", true, "a_b", "12", "2017.02.14.10h00m00", true},
		{"a_b_12.cbor", true, "a_b", "12", "", false},
		{"timestamp", false, "", "", "", false},
		{"_12", false, "", "", "", false},
	}
	for _, c := range cases {
		rn, ok := ParseRecordName(c.name)
		if ok != c.ok {
			t.Fatalf("%s: ok=%v", c.name, ok)
		}
		if ok && (rn.User != c.user || rn.JobId != c.job || rn.Timestamp != c.ts || rn.Compressed != c.compressed) {
			t.Fatalf("%s: %+v", c.name, rn)
		}
	}
}

func TestListSkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, MarkerName), []byte(testTimestamp), 0644)
	os.WriteFile(filepath.Join(dir, ".jobmonitor-tmp123"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "b_2.cbor"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "a_1.cbor"), nil, 0644)
	records, err := ListRecords(dir)
	if err != nil || len(records) != 2 || records[0].Name != "a_1" || records[1].Name != "b_2" {
		t.Fatalf("Records: %+v %v", records, err)
	}
	if records, err := ListRecords(filepath.Join(dir, "nonesuch")); err != nil || len(records) != 0 {
		t.Fatalf("Missing dir: %v %v", records, err)
	}
}

func TestCatalog(t *testing.T) {
	root := t.TempDir()
	g := NewGateway(root, false)
	cat := NewMemCatalog()
	g.SetCatalog(cat)
	job := sampledJob(t, "u", true)
	g.Persist(job, RunningState, true)
	g.Persist(job, "completed", true)
	g.Persist(sampledJobWithId(t, "12", "a", true), "completed", true)

	all, _ := cat.List(context.Background(), "", "")
	if len(all) != 3 {
		t.Fatalf("Entries: %+v", all)
	}
	done, _ := cat.List(context.Background(), "completed", "")
	if len(done) != 2 || done[0].User != "a" || done[1].Timestamp != testTimestamp || done[1].Samples != 1 {
		t.Fatalf("Completed: %+v", done)
	}
	g.Remove(job, RunningState)
	if running, _ := cat.List(context.Background(), RunningState, "u"); len(running) != 0 {
		t.Fatalf("Running: %+v", running)
	}
}

func TestCatalogKeepsEveryCompletion(t *testing.T) {
	g := NewGateway(t.TempDir(), false)
	cat := NewMemCatalog()
	g.SetCatalog(cat)
	first := sampledJobWithId(t, "12", "a", true)
	s := sampler.New(sampler.DefaultConfig(), &oneSnapshot{&sampler.Snapshot{
		Time: time.Date(2017, 2, 14, 10, 5, 0, 0, time.Local),
		Entries: []sampler.Entry{{
			Id: "12", User: "a", MasterHost: "r3c4cn02", State: sampler.StateRunning,
			Nodes: 1, Cores: 4, CpuSeconds: 10, WallSeconds: 100,
		}},
	}})
	if _, err := s.Sample(context.Background()); err != nil {
		t.Fatal(err)
	}
	again := s.Job("12")

	for _, job := range []*sampler.Job{first, again, first} {
		if err := g.Persist(job, "completed", true); err != nil {
			t.Fatal(err)
		}
	}
	g.Persist(again, RunningState, true)

	records, _ := ListRecords(g.Dir("completed"))
	done, _ := cat.List(context.Background(), "completed", "a")
	if len(records) != 2 || len(done) != 2 {
		t.Fatalf("Records %d, entries %+v", len(records), done)
	}
	if done[0].Timestamp != testTimestamp || done[1].Timestamp != "2017.02.14.10h05m00" {
		t.Fatalf("Completed: %+v", done)
	}

	g.Persist(again, RunningState, true)
	if running, _ := cat.List(context.Background(), RunningState, ""); len(running) != 1 {
		t.Fatalf("Running: %+v", running)
	}
	g.Remove(again, RunningState)
	if running, _ := cat.List(context.Background(), RunningState, ""); len(running) != 0 {
		t.Fatalf("Running after remove: %+v", running)
	}
	if done, _ := cat.List(context.Background(), "completed", ""); len(done) != 2 {
		t.Fatalf("Completed after remove: %+v", done)
	}
}
