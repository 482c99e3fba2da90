package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var t0 = time.Date(2017, 2, 14, 10, 0, 0, 0, time.Local)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

type fakeSnapshots struct {
	snaps []*Snapshot
	next  int
}

func (f *fakeSnapshots) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	if f.next >= len(f.snaps) {
		return nil, errors.New("No more snapshots")
	}
	s := f.snaps[f.next]
	f.next++
	return s, nil
}

type fakeDetails map[string]*Detail

func (f fakeDetails) FetchJobDetail(ctx context.Context, id string) (*Detail, error) {
	if d, found := f[id]; found {
		c := *d
		return &c, nil
	}
	return nil, fmt.Errorf("No detail for %s", id)
}

type fakeScripts struct {
	fetched []string
}

func (f *fakeScripts) FetchScript(ctx context.Context, id, host string) ([]string, error) {
	f.fetched = append(f.fetched, id)
	return []string{"#!/bin/bash", "#SBATCH -N 1", "module load intel/2016a", "ml foss/2018b", "./run"}, nil
}

type fakeArchive struct {
	calls []string
	fail  bool
}

func (a *fakeArchive) Persist(job *Job, dir string, onlyIfWarnings bool) error {
	if onlyIfWarnings && job.SamplesWithWarnings == 0 {
		return nil
	}
	if a.fail {
		return errors.New("Disk full")
	}
	a.calls = append(a.calls, "persist "+dir+" "+job.Id)
	return nil
}

func (a *fakeArchive) Remove(job *Job, dir string) error {
	a.calls = append(a.calls, "remove "+dir+" "+job.Id)
	return nil
}

func (a *fakeArchive) ClearMarker(dir string) error {
	a.calls = append(a.calls, "clear "+dir)
	return nil
}

func (a *fakeArchive) WriteMarker(dir, timestamp string) error {
	a.calls = append(a.calls, "marker "+dir+" "+timestamp)
	return nil
}

// A job on one node with the given efficiency.
func entry(id, user, host string, cores int, effic float64) Entry {
	return Entry{
		Id:          id,
		User:        user,
		MasterHost:  host,
		State:       StateRunning,
		Nodes:       1,
		Cores:       cores,
		CpuSeconds:  effic * float64(cores),
		WallSeconds: 100,
	}
}

func newTestSampler(snaps ...*Snapshot) *Sampler {
	cfg := DefaultConfig()
	s := New(cfg, &fakeSnapshots{snaps: snaps})
	s.now = func() time.Time { return t0 }
	return s
}
