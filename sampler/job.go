package sampler

import (
	"context"
	"strings"

	. "jobmonitor/common"
	"jobmonitor/rules"
)

type Job struct {
	Id         string
	User       string
	MasterHost string

	// Chronological, timestamps strictly increasing
	Samples []*JobSample

	SamplesWithWarnings int

	// Indexed by rule ordinal
	WarningCounts []int

	// Loaded on the first sample with warnings
	Script       []string
	ScriptLoaded bool

	// Transient, never serialized
	sampler *Sampler
	index   map[string]int
}

func newJob(e Entry, s *Sampler) *Job {
	return &Job{
		Id:            e.Id,
		User:          e.User,
		MasterHost:    e.MasterHost,
		WarningCounts: make([]int, rules.Count()),
		sampler:       s,
	}
}

// Attach the job to a sampler (or to none) and rebuild transient state.  Used after the job has
// been read from the archive.  Records written with fewer rules get their counters extended.
func (job *Job) Attach(s *Sampler) {
	job.sampler = s
	job.index = nil
	if n := rules.Count(); len(job.WarningCounts) < n {
		job.WarningCounts = append(job.WarningCounts, make([]int, n-len(job.WarningCounts))...)
	}
}

func (job *Job) Sampler() *Sampler {
	return job.sampler
}

func (job *Job) addSample(js *JobSample) {
	if n := len(job.Samples); n > 0 && job.Samples[n-1].Timestamp >= js.Timestamp {
		panic("Sample out of order for job " + job.Id)
	}
	job.Samples = append(job.Samples, js)
	if job.index != nil {
		job.index[js.Timestamp] = len(job.Samples) - 1
	}
}

// The sample at the timestamp, or nil.
func (job *Job) Sample(timestamp string) *JobSample {
	if job.index == nil {
		job.index = make(map[string]int, len(job.Samples))
		for i, js := range job.Samples {
			job.index[js.Timestamp] = i
		}
	}
	if i, found := job.index[timestamp]; found {
		return job.Samples[i]
	}
	return nil
}

func (job *Job) LastSample() *JobSample {
	if len(job.Samples) == 0 {
		return nil
	}
	return job.Samples[len(job.Samples)-1]
}

func (job *Job) Timestamps() []string {
	ts := make([]string, len(job.Samples))
	for i, js := range job.Samples {
		ts[i] = js.Timestamp
	}
	return ts
}

func (job *Job) countWarning(ordinal int) {
	for len(job.WarningCounts) <= ordinal {
		job.WarningCounts = append(job.WarningCounts, 0)
	}
	job.WarningCounts[ordinal]++
}

// Check the rules for the sample at the timestamp, which must exist.  Returns the overview line, or
// "" if the sample has no issues.  The first time there are issues the job script is loaded.
func (job *Job) CheckForIssues(ctx context.Context, timestamp string) string {
	js := job.Sample(timestamp)
	if js == nil {
		panic("No sample at " + timestamp + " for job " + job.Id)
	}
	s := job.sampler
	if s == nil {
		Log.Warningf("Job %s has no sampler, checking without neighbours", job.Id)
		s = detachedSampler
	}
	js.Neighbours = s.BuildNeighbourInfo(js)
	js.HostCoresInstalled = s.cfg.Capacity.CoresOnNode(js.Entry.MasterHost)
	js.MemAvailableGB = s.cfg.Capacity.MemAvailableGB(js.NodeNames())
	if !js.CheckForIssues(job, s.cfg.Limits, s.observer) {
		return ""
	}
	if !job.ScriptLoaded {
		job.loadScript(ctx, s)
	}
	return js.ComposeOverview(job)
}

func (job *Job) loadScript(ctx context.Context, s *Sampler) {
	job.ScriptLoaded = true
	if s.scripts == nil {
		return
	}
	lines, err := s.scripts.FetchScript(ctx, job.Id, job.MasterHost)
	if err != nil {
		Log.Warningf("Script for job %s: %v", job.Id, err)
		return
	}
	job.Script = lines
}

// Details for the timestamp, or for the last sample if there is no sample at the timestamp.
func (job *Job) Details(timestamp string) string {
	js := job.Sample(timestamp)
	if js == nil {
		js = job.LastSample()
	}
	if js == nil {
		return ""
	}
	return js.ComposeDetails(job)
}

// Largest memory use over all samples, GB.
func (job *Job) OverallMemUsedGB() float64 {
	var m float64
	for _, js := range job.Samples {
		m = max(m, js.Detail.MemUsedGB)
	}
	return m
}

// Modules loaded by the job script, short names (no version), in order of first appearance.
//
//   module load intel/2016a HDF5/1.8.16-intel-2016a
//   ml foss
func (job *Job) LoadedModules() []string {
	mods := make([]string, 0)
	seen := make(map[string]bool)
	for _, l := range job.Script {
		words := strings.Fields(l)
		var names []string
		switch {
		case len(words) >= 3 && words[0] == "module" && (words[1] == "load" || words[1] == "add"):
			names = words[2:]
		case len(words) >= 2 && words[0] == "ml" && !strings.HasPrefix(words[1], "-"):
			names = words[1:]
		}
		for _, n := range names {
			short, _, _ := strings.Cut(n, "/")
			if !seen[short] {
				seen[short] = true
				mods = append(mods, short)
			}
		}
	}
	return mods
}
