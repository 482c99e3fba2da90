package sampler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"jobmonitor/capacity"
	. "jobmonitor/common"
	"jobmonitor/nodelist"
	"jobmonitor/rules"
)

type Config struct {
	Limits *rules.Limits

	// Scale efficiency to the master host
	CorrectEffic bool

	// May be nil
	Capacity *capacity.Table

	// Where the archive puts records
	RunningDir   string
	CompletedDir string

	// Publish running jobs with warnings (and the marker) in RunningDir every snapshot
	PublishRunning bool

	// Overview order by user, descending unless this is set
	Ascending bool
}

func DefaultConfig() Config {
	return Config{
		Limits:       rules.DefaultLimits(),
		CorrectEffic: true,
		RunningDir:   "running",
		CompletedDir: "completed",
	}
}

// Per-timestamp overview state: lines by job id, and what the header needs.
type snapshotInfo struct {
	lines           map[string]string
	running         int
	nodesActive     int
	nodesConfigured int
}

type Sampler struct {
	cfg      Config
	observer Observer

	// Collaborators, any but snapshots may be nil
	snapshots SnapshotSource
	details   DetailSource
	scripts   ScriptSource
	archive   Archive

	// The arena
	jobs map[string]*Job

	// All snapshot timestamps, ascending
	timestamps []string

	// Job ids sampled at each timestamp
	timestampJobs map[string][]string

	overviews map[string]string
	infos     map[string]*snapshotInfo

	// host -> job ids, for the current snapshot only
	hostJobs map[string][]string

	// Ids present in the previous snapshot
	previous []string

	// Finished jobs whose completed records could not be written, retried every snapshot
	unpersisted []*Job

	// Time source, replaced by tests
	now func() time.Time
}

// MT: Constant after initialization; used for jobs that are not attached to any sampler.
var detachedSampler = New(DefaultConfig(), nil)

func New(cfg Config, snapshots SnapshotSource) *Sampler {
	if cfg.Limits == nil {
		cfg.Limits = rules.DefaultLimits()
	}
	return &Sampler{
		cfg:           cfg,
		observer:      nopObserver{},
		snapshots:     snapshots,
		jobs:          make(map[string]*Job),
		timestampJobs: make(map[string][]string),
		overviews:     make(map[string]string),
		infos:         make(map[string]*snapshotInfo),
		hostJobs:      make(map[string][]string),
		now:           time.Now,
	}
}

func (s *Sampler) SetDetailSource(d DetailSource) { s.details = d }
func (s *Sampler) SetScriptSource(sc ScriptSource) { s.scripts = sc }
func (s *Sampler) SetArchive(a Archive)            { s.archive = a }
func (s *Sampler) SetObserver(o Observer)          { s.observer = o }

func (s *Sampler) Config() *Config {
	return &s.cfg
}

func (s *Sampler) Job(id string) *Job {
	return s.jobs[id]
}

// Ids of tracked jobs, sorted.
func (s *Sampler) JobIds() []string {
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Sampler) Timestamps() []string {
	return s.timestamps
}

func (s *Sampler) LastTimestamp() string {
	if len(s.timestamps) == 0 {
		return ""
	}
	return s.timestamps[len(s.timestamps)-1]
}

func (s *Sampler) TimestampJobs(timestamp string) []string {
	return s.timestampJobs[timestamp]
}

func (s *Sampler) Overview(timestamp string) string {
	return s.overviews[timestamp]
}

// Finished jobs waiting for their completed records to be written.
func (s *Sampler) Unpersisted() []*Job {
	return s.unpersisted
}

func (s *Sampler) HostJobs(host string) []string {
	return s.hostJobs[host]
}

// Take one snapshot and process it, returning its timestamp.
//
// ErrNoRunningJobs means the snapshot had nothing in it; the caller should treat this as a failure
// of the monitoring, not as a quiet cluster.  An error wrapping ErrPersistence comes with a valid
// timestamp: the snapshot was processed, but some records were not written and the marker was not
// updated.  Completed records that were not written are retried on the next snapshot.  Other errors
// mean nothing changed.
func (s *Sampler) Sample(ctx context.Context) (string, error) {
	started := s.now()
	if s.archive != nil && s.cfg.PublishRunning {
		if err := s.archive.ClearMarker(s.cfg.RunningDir); err != nil {
			Log.Warningf("Could not clear marker: %v", err)
		}
	}

	snap, err := s.snapshots.FetchSnapshot(ctx)
	if err != nil {
		s.restoreMarker()
		return "", fmt.Errorf("Fetching snapshot: %w", err)
	}
	when := snap.Time
	if when.IsZero() {
		when = started
	}
	timestamp := FormatTimestamp(when)
	if last := s.LastTimestamp(); last != "" && timestamp <= last {
		s.restoreMarker()
		return "", fmt.Errorf("%w: %s after %s", ErrStaleSnapshot, timestamp, last)
	}

	entries := filterEntries(snap.Entries)
	running := 0
	for i := range entries {
		if entries[i].State == StateRunning {
			running++
		}
	}
	if running == 0 {
		return "", ErrNoRunningJobs
	}

	// Co-residency is per snapshot: the index is rebuilt from all entries, whatever their state.
	s.hostJobs = make(map[string][]string)
	current := make([]string, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		s.hostJobs[e.MasterHost] = append(s.hostJobs[e.MasterHost], e.Id)
		current = append(current, e.Id)
	}
	finished := difference(s.previous, current)
	s.previous = current

	// Jobs left over from a failed snapshot go first.  After a failure nothing more is written,
	// but the jobs are kept for the next snapshot.
	var persistErr error
	pending := s.unpersisted
	s.unpersisted = nil
	for _, id := range finished {
		job, found := s.jobs[id]
		if !found {
			continue
		}
		delete(s.jobs, id)
		s.observer.JobFinished()
		pending = append(pending, job)
	}
	for _, job := range pending {
		if persistErr == nil {
			if persistErr = s.persistFinished(job); persistErr == nil {
				continue
			}
		}
		s.unpersisted = append(s.unpersisted, job)
	}

	// Pass 1: create and extend jobs.  Must complete before pass 2, whose neighbour lookups need
	// every running job's sample for this timestamp.
	for i := range entries {
		e := &entries[i]
		if e.State != StateRunning {
			continue
		}
		s.timestampJobs[timestamp] = append(s.timestampJobs[timestamp], e.Id)
		js := newJobSample(*e, s.fetchDetail(ctx, e.Id), timestamp, s.cfg.CorrectEffic)
		job := s.jobs[e.Id]
		if job == nil {
			job = newJob(*e, s)
			s.jobs[e.Id] = job
		} else if job.sampler == nil {
			Log.Warningf("Job %s was tracked without a sampler, repaired", e.Id)
			job.sampler = s
		}
		job.addSample(js)
	}

	// Pass 2: check every tracked job.
	info := &snapshotInfo{
		lines:           make(map[string]string),
		running:         running,
		nodesActive:     snap.NodesActive,
		nodesConfigured: snap.NodesConfigured,
	}
	for _, id := range s.JobIds() {
		job := s.jobs[id]
		if job.Sample(timestamp) == nil {
			Log.Warningf("Job %s is tracked but has no sample at %s", id, timestamp)
			continue
		}
		line := job.CheckForIssues(ctx, timestamp)
		if line == "" {
			continue
		}
		info.lines[id] = line
		if s.archive != nil && s.cfg.PublishRunning && persistErr == nil {
			if err := s.archive.Persist(job, s.cfg.RunningDir, true); err != nil {
				persistErr = err
			}
		}
	}

	s.infos[timestamp] = info
	s.overviews[timestamp] = s.composeOverview(info)
	s.observer.SnapshotDone(running, len(info.lines), snap.NodesActive, s.now().Sub(started))

	if persistErr != nil {
		s.observer.PersistFailed()
		s.timestamps = append(s.timestamps, timestamp)
		return timestamp, fmt.Errorf("%w: %v", ErrPersistence, persistErr)
	}
	if s.archive != nil && s.cfg.PublishRunning {
		if err := s.archive.WriteMarker(s.cfg.RunningDir, timestamp); err != nil {
			s.timestamps = append(s.timestamps, timestamp)
			return timestamp, fmt.Errorf("%w: marker: %v", ErrPersistence, err)
		}
	}
	s.timestamps = append(s.timestamps, timestamp)
	return timestamp, nil
}

// Nothing changed after all, so the previous snapshot is still the committed one.
func (s *Sampler) restoreMarker() {
	last := s.LastTimestamp()
	if s.archive == nil || !s.cfg.PublishRunning || last == "" {
		return
	}
	if err := s.archive.WriteMarker(s.cfg.RunningDir, last); err != nil {
		Log.Warningf("Could not restore marker: %v", err)
	}
}

func (s *Sampler) persistFinished(job *Job) error {
	if s.archive == nil {
		return nil
	}
	if err := s.archive.Persist(job, s.cfg.CompletedDir, true); err != nil {
		return err
	}
	if s.cfg.PublishRunning {
		if err := s.archive.Remove(job, s.cfg.RunningDir); err != nil {
			Log.Warningf("Could not remove running record of job %s: %v", job.Id, err)
		}
	}
	return nil
}

func (s *Sampler) fetchDetail(ctx context.Context, id string) *Detail {
	if s.details == nil {
		return nil
	}
	d, err := s.details.FetchJobDetail(ctx, id)
	if err != nil {
		Log.Warningf("Detail for job %s: %v", id, err)
		return nil
	}
	return d
}

// Drop entries without a master host, array job elements and repeated ids, and shorten host names.
func filterEntries(entries []Entry) []Entry {
	result := make([]Entry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Id] {
			Log.Debugf("Ignoring %s (repeated)", e.Id)
			continue
		}
		seen[e.Id] = true
		if e.MasterHost == "" {
			Log.Debugf("Ignoring %s (master host unknown)", e.Id)
			continue
		}
		if strings.Contains(e.Id, "[") {
			Log.Debugf("Ignoring %s (array job element)", e.Id)
			continue
		}
		e.MasterHost = nodelist.Short(e.MasterHost)
		result = append(result, e)
	}
	return result
}

// Elements of xs not in ys, in the order of xs.
func difference(xs, ys []string) []string {
	in := make(map[string]bool, len(ys))
	for _, y := range ys {
		in[y] = true
	}
	result := make([]string, 0)
	for _, x := range xs {
		if !in[x] {
			result = append(result, x)
		}
	}
	return result
}

// Header, then the overview lines sorted by what follows the job id, which starts with the user
// name.
func (s *Sampler) composeOverview(info *snapshotInfo) string {
	ids := make([]string, 0, len(info.lines))
	for id := range info.lines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := overviewKey(info.lines[ids[i]]), overviewKey(info.lines[ids[j]])
		if a == b {
			return ids[i] < ids[j]
		}
		if s.cfg.Ascending {
			return a < b
		}
		return a > b
	})
	var b strings.Builder
	fmt.Fprintf(&b, "Jobs running well: %d/%d, efficiency threshold = %s%%",
		info.running-len(ids), info.running, strconv.FormatFloat(s.cfg.Limits.EfficThreshold, 'f', -1, 64))
	if info.nodesConfigured > 0 {
		fmt.Fprintf(&b, ", nodes in use: %d/%d", info.nodesActive, info.nodesConfigured)
	}
	for _, id := range ids {
		b.WriteString(info.lines[id])
	}
	return b.String()
}

func overviewKey(line string) string {
	_, rest, _ := strings.Cut(line, " ")
	return rest
}

// Merge a job loaded from another process's archive.  Its samples are indexed under their
// timestamps and their overview lines join the overviews of those timestamps.  The job replaces
// any job with the same id.  Call DoneAddingOfflineJobs after the last one.
func (s *Sampler) AddOfflineJob(job *Job) {
	job.Attach(s)
	s.jobs[job.Id] = job
	for _, js := range job.Samples {
		ts := js.Timestamp
		if !slices.Contains(s.timestampJobs[ts], job.Id) {
			s.timestampJobs[ts] = append(s.timestampJobs[ts], job.Id)
		}
		info := s.infos[ts]
		if info == nil {
			info = &snapshotInfo{lines: make(map[string]string)}
			s.infos[ts] = info
		}
		if line := js.ComposeOverview(job); line != "" {
			info.lines[job.Id] = line
		}
		if !slices.Contains(s.timestamps, ts) {
			s.timestamps = append(s.timestamps, ts)
		}
	}
}

// Sort the timestamps and per-timestamp job lists and recompose overviews.  Offline snapshots only
// know the jobs that were published, so their job count is that of the published jobs.
func (s *Sampler) DoneAddingOfflineJobs() {
	sort.Strings(s.timestamps)
	for ts, ids := range s.timestampJobs {
		sort.Strings(ids)
		if info := s.infos[ts]; info != nil {
			info.running = max(info.running, len(ids))
			s.overviews[ts] = s.composeOverview(info)
		}
	}
}

// Record that a snapshot with this timestamp exists even if no jobs were loaded for it.
func (s *Sampler) NoteOfflineTimestamp(ts string, nodesActive, nodesConfigured int) {
	info := s.infos[ts]
	if info == nil {
		info = &snapshotInfo{lines: make(map[string]string)}
		s.infos[ts] = info
	}
	info.nodesActive = nodesActive
	info.nodesConfigured = nodesConfigured
	if !slices.Contains(s.timestamps, ts) {
		s.timestamps = append(s.timestamps, ts)
	}
	s.overviews[ts] = s.composeOverview(info)
}

var errNoSource = errors.New("No snapshot source")

// Check that a sampler is usable for Sample.
func (s *Sampler) Validate() error {
	if s.snapshots == nil {
		return errNoSource
	}
	return nil
}
