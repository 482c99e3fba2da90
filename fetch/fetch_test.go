package fetch

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jobmonitor/daemon"
	"jobmonitor/sampler"
	"jobmonitor/store"
)

type snapshots []*sampler.Snapshot

func (s *snapshots) FetchSnapshot(ctx context.Context) (*sampler.Snapshot, error) {
	snap := (*s)[0]
	*s = (*s)[1:]
	return snap, nil
}

var t0 = time.Date(2017, 2, 14, 10, 0, 0, 0, time.Local)

func entry(id, user string, cpu float64) sampler.Entry {
	return sampler.Entry{Id: id, User: user, MasterHost: "n01", State: sampler.StateRunning,
		Nodes: 1, Cores: 4, CpuSeconds: cpu, WallSeconds: 100}
}

// A monitor that has published two snapshots; jobs 1 and 3 are idle, 2 is busy.
func monitor(t *testing.T, compress bool) (*store.Gateway, *sampler.Sampler) {
	g := store.NewGateway(t.TempDir(), compress)
	src := snapshots{
		{Time: t0, Entries: []sampler.Entry{entry("1", "alice", 10), entry("2", "bob", 400)}},
		{Time: t0.Add(5 * time.Minute), Entries: []sampler.Entry{entry("1", "alice", 10), entry("2", "bob", 400), entry("3", "carol", 0)}},
	}
	s := sampler.New(sampler.DefaultConfig(), &src)
	s.Config().PublishRunning = true
	s.SetArchive(g)
	for range 2 {
		if _, err := s.Sample(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	return g, s
}

func noSleep(calls *int) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*calls++
		return nil
	}
}

func checkMerged(t *testing.T, local *sampler.Sampler, remote *sampler.Sampler, ts string) {
	if ts != remote.LastTimestamp() {
		t.Fatalf("Timestamp %s", ts)
	}
	if local.Job("2") != nil || local.Job("1") == nil || local.Job("3") == nil {
		t.Fatalf("Jobs: %v", local.JobIds())
	}
	if len(local.Timestamps()) != 2 || local.Timestamps()[1] != ts {
		t.Fatalf("Timestamps: %v", local.Timestamps())
	}
	want := remote.Overview(ts)
	want = strings.Replace(want, "1/3", "0/2", 1)
	if got := local.Overview(ts); got != want {
		t.Fatalf("Overview:\n%s\nwant\n%s", got, want)
	}
	if local.Job("1").Sampler() != local {
		t.Fatal("Not attached")
	}
}

func TestFetchFromDir(t *testing.T) {
	g, remote := monitor(t, true)
	local := sampler.New(sampler.DefaultConfig(), nil)
	var sleeps int
	f := New(NewDirRemote(g.Dir("running")), filepath.Join(t.TempDir(), "offline", "running"), local, Options{})
	f.sleep = noSleep(&sleeps)
	ts, changed, err := f.Fetch(context.Background())
	if err != nil || !changed || sleeps != 0 {
		t.Fatalf("Fetch: %s %v %v %d", ts, changed, err, sleeps)
	}
	checkMerged(t, local, remote, ts)

	ts2, changed, err := f.Fetch(context.Background())
	if err != nil || changed || ts2 != ts {
		t.Fatalf("Second fetch: %s %v %v", ts2, changed, err)
	}
}

func TestFetchOverHTTP(t *testing.T) {
	g, remote := monitor(t, false)
	srv := httptest.NewServer(daemon.New(g, daemon.Options{
		Version:      "test",
		RunningDir:   "running",
		CompletedDir: "completed",
	}).Handler())
	defer srv.Close()
	local := sampler.New(sampler.DefaultConfig(), nil)
	f := New(NewHTTPRemote(srv.URL+"/", "", ""), filepath.Join(t.TempDir(), "running"), local, Options{})
	ts, changed, err := f.Fetch(context.Background())
	if err != nil || !changed {
		t.Fatalf("Fetch: %s %v %v", ts, changed, err)
	}
	checkMerged(t, local, remote, ts)

	g.ClearMarker("running")
	var sleeps int
	f.sleep = noSleep(&sleeps)
	f.opts.MaxAttempts = 2
	if _, _, err := f.Fetch(context.Background()); !errors.Is(err, ErrGaveUp) || sleeps != 1 {
		t.Fatalf("While sampling: %v %d", err, sleeps)
	}
}

func TestGiveUp(t *testing.T) {
	dir := t.TempDir()
	var sleeps int
	f := New(NewDirRemote(dir), filepath.Join(dir, "local"), sampler.New(sampler.DefaultConfig(), nil), Options{MaxAttempts: 3})
	f.sleep = noSleep(&sleeps)
	if _, _, err := f.Fetch(context.Background()); !errors.Is(err, ErrGaveUp) || sleeps != 2 {
		t.Fatalf("Expected to give up: %v %d", err, sleeps)
	}
}

func TestCancelWhileWaiting(t *testing.T) {
	dir := t.TempDir()
	f := New(NewDirRemote(dir), filepath.Join(dir, "local"), sampler.New(sampler.DefaultConfig(), nil), Options{RetryInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := f.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected cancellation: %v", err)
	}
}

// The marker changes between the first read and the check after copying.
type movingRemote struct {
	*DirRemote
	markers []string
}

func (m *movingRemote) Marker(ctx context.Context) (string, error) {
	ts := m.markers[0]
	if len(m.markers) > 1 {
		m.markers = m.markers[1:]
	}
	if ts == "" {
		return "", store.ErrNoMarker
	}
	return ts, nil
}

func TestMonitorMovesOn(t *testing.T) {
	g, remote := monitor(t, false)
	last := remote.LastTimestamp()
	var sleeps int
	mr := &movingRemote{NewDirRemote(g.Dir("running")), []string{"", "2017.02.14.09h55m00", "", last, last}}
	local := sampler.New(sampler.DefaultConfig(), nil)
	f := New(mr, filepath.Join(t.TempDir(), "running"), local, Options{})
	f.sleep = noSleep(&sleeps)
	ts, changed, err := f.Fetch(context.Background())
	if err != nil || !changed || ts != last || sleeps != 2 {
		t.Fatalf("Fetch: %s %v %v %d", ts, changed, err, sleeps)
	}
	checkMerged(t, local, remote, ts)
}
