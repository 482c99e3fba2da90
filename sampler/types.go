// The sampler takes periodic snapshots of the jobs running on the cluster, keeps the history of
// each job across snapshots, checks every job sample against the rules, and hands jobs to an
// archive when they finish.
//
// Data model:
//
//   Sampler  - the job table (the arena, keyed by job id), the list of snapshot timestamps, the
//              job ids sampled at each timestamp, the overview text for each timestamp, and the
//              host -> job ids index for the current snapshot only
//   Job      - one job: its samples in chronological order and its warning counters
//   JobSample - one job at one timestamp: raw scheduler data, derived figures, warnings, and
//              the memoized overview/details text
//
// A JobSample names its Job by id and a Job holds a transient handle to its Sampler that is never
// serialized, so there are no pointers to cut or restore when a job is written to the archive.
//
// MT: Nothing here is thread-safe.  A Sampler and its jobs are owned by one goroutine.

package sampler

import (
	"context"
	"errors"
	"time"
)

const StateRunning = "running"

// One job as reported by the snapshot source.
type Entry struct {
	Id   string
	User string

	// Empty if the scheduler does not know it
	MasterHost string

	// StateRunning, or anything else
	State string

	Name        string
	Nodes       int
	Cores       int
	CpuSeconds  float64
	WallSeconds float64
}

type Snapshot struct {
	Time    time.Time
	Entries []Entry

	// Zero if unknown
	NodesActive     int
	NodesConfigured int
}

type NodeCores struct {
	Node  string
	Cores int
}

// Per-job detail, from a source like `qstat -f`.
type Detail struct {
	Interactive bool

	// Master host first
	Nodes []NodeCores

	MemUsedGB      float64
	MemRequestedGB float64

	// Negative if unknown
	WallUsedSeconds      int64
	WallRemainingSeconds int64

	// Per-core utilization rows, "node text", optional
	CoreLoad []string
}

type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (*Snapshot, error)
}

type DetailSource interface {
	FetchJobDetail(ctx context.Context, jobId string) (*Detail, error)
}

// The cleaned script text, one line per element.
type ScriptSource interface {
	FetchScript(ctx context.Context, jobId, host string) ([]string, error)
}

// The archive is where jobs go when they finish, and where running jobs with warnings are published
// for viewers.  Records in the running directory are named without a timestamp and are replaced
// each snapshot.  The marker in the running directory holds the timestamp of the last snapshot for
// which everything has been written; it is removed while a snapshot is in progress.
type Archive interface {
	Persist(job *Job, dir string, onlyIfWarnings bool) error
	Remove(job *Job, dir string) error
	ClearMarker(dir string) error
	WriteMarker(dir, timestamp string) error
}

// Called by the sampler as things happen.  See metrics.Collector.
type Observer interface {
	SnapshotDone(running, withWarnings, nodesInUse int, elapsed time.Duration)
	RuleFired(ordinal int)
	JobFinished()
	PersistFailed()
}

var (
	ErrNoRunningJobs = errors.New("No running jobs")
	ErrStaleSnapshot = errors.New("Snapshot timestamp does not advance")
	ErrPersistence   = errors.New("Persistence failed")
)

type nopObserver struct{}

func (nopObserver) SnapshotDone(running, withWarnings, nodesInUse int, elapsed time.Duration) {}
func (nopObserver) RuleFired(ordinal int)                                                    {}
func (nopObserver) JobFinished()                                                             {}
func (nopObserver) PersistFailed()                                                           {}
