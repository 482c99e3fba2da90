package watchdog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jobmonitor/store"
)

type fakeMarker struct {
	ts  string
	err error
}

func (f *fakeMarker) Marker(_ context.Context) (string, error) {
	return f.ts, f.err
}

var t0 = time.Date(2017, 2, 14, 10, 0, 0, 0, time.Local)

func newWatchdog(t *testing.T, m *fakeMarker, clock *time.Time) *Watchdog {
	w := New(m, t.TempDir(), 30*time.Minute, 3*time.Hour)
	w.now = func() time.Time { return *clock }
	return w
}

func TestFreshMarker(t *testing.T) {
	clock := t0.Add(10 * time.Minute)
	w := newWatchdog(t, &fakeMarker{ts: "2017.02.14.10h00m00"}, &clock)
	if problem, report, err := w.Check(context.Background()); problem != "" || report || err != nil {
		t.Fatalf("Fresh: %q %v %v", problem, report, err)
	}
}

func TestStaleMarkerReportedOnce(t *testing.T) {
	clock := t0.Add(time.Hour)
	w := newWatchdog(t, &fakeMarker{ts: "2017.02.14.10h00m00"}, &clock)
	problem, report, err := w.Check(context.Background())
	if err != nil || !report || !strings.Contains(problem, "1h0m0s old") {
		t.Fatalf("Stale: %q %v %v", problem, report, err)
	}
	clock = clock.Add(time.Hour)
	if problem, report, _ := w.Check(context.Background()); problem == "" || report {
		t.Fatalf("Within limit: %q %v", problem, report)
	}
	clock = clock.Add(2 * time.Hour)
	if _, report, _ := w.Check(context.Background()); !report {
		t.Fatal("Not reported after the limit")
	}
}

func TestMissingMarker(t *testing.T) {
	clock := t0
	m := &fakeMarker{err: store.ErrNoMarker}
	w := newWatchdog(t, m, &clock)
	if problem, _, _ := w.Check(context.Background()); problem != "" {
		t.Fatalf("Sampling: %q", problem)
	}
	clock = clock.Add(20 * time.Minute)
	if problem, _, _ := w.Check(context.Background()); problem != "" {
		t.Fatalf("Still sampling: %q", problem)
	}
	clock = clock.Add(20 * time.Minute)
	problem, report, _ := w.Check(context.Background())
	if !report || !strings.Contains(problem, "40m0s") {
		t.Fatalf("Stuck: %q %v", problem, report)
	}

	// Back to normal, then missing again: the clock starts over.
	m.ts, m.err = "2017.02.14.10h40m00", nil
	w.Check(context.Background())
	m.err = store.ErrNoMarker
	clock = clock.Add(5 * time.Minute)
	if problem, _, _ := w.Check(context.Background()); problem != "" {
		t.Fatalf("Sampling again: %q", problem)
	}
}

func TestUnreachable(t *testing.T) {
	clock := t0
	w := newWatchdog(t, &fakeMarker{err: errors.New("connection refused")}, &clock)
	if problem, report, _ := w.Check(context.Background()); !report || !strings.Contains(problem, "connection refused") {
		t.Fatalf("Unreachable: %q %v", problem, report)
	}
}

func TestBadState(t *testing.T) {
	clock := t0.Add(time.Hour)
	w := newWatchdog(t, &fakeMarker{ts: "2017.02.14.10h00m00"}, &clock)
	os.WriteFile(filepath.Join(w.stateDir, StateFileName), []byte("{"), 0644)
	if _, report, err := w.Check(context.Background()); err != nil || !report {
		t.Fatalf("Bad state: %v %v", report, err)
	}
}
