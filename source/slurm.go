// Conversion of sonar's Slurm job and cluster data to snapshots and job details.
//
// Units in the jobs data: memory is in KiB, the time limit is in minutes, elapsed and CPU times are
// in seconds.

package source

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NordicHPC/sonar/util/formats/newfmt"

	. "jobmonitor/common"
	"jobmonitor/nodelist"
	"jobmonitor/sampler"
)

const kibPerGB = 1024 * 1024

// Slurm holds the most recent jobs and cluster data seen and converts them on demand.  It is fed
// by File, Command or Kafka and is safe for concurrent use.
type Slurm struct {
	sync.Mutex

	// If not "", data for other clusters are ignored
	cluster string

	// From the latest jobs envelope
	time    time.Time
	entries []sampler.Entry
	details map[string]*sampler.Detail

	// Distinct nodes of running jobs in the latest jobs envelope
	nodesAllocated int

	// From the latest cluster envelope, if any
	haveCluster     bool
	nodesActive     int
	nodesConfigured int

	// Used when there are no cluster data, typically the size of the capacity table
	configuredFallback int
}

var _ = sampler.DetailSource((*Slurm)(nil))

func NewSlurm(cluster string) *Slurm {
	return &Slurm{
		cluster: cluster,
		details: make(map[string]*sampler.Detail),
	}
}

// Consume a stream of jobs envelopes.  Each good envelope replaces the data from the previous one.
// Error envelopes are counted and logged.
func (s *Slurm) ConsumeJobs(input io.Reader) error {
	softErrors := 0
	err := newfmt.ConsumeJSONJobs(input, false, func(r *newfmt.JobsEnvelope) {
		if r.Errors != nil || r.Data == nil {
			softErrors++
			return
		}
		if s.cluster != "" && string(r.Data.Attributes.Cluster) != s.cluster {
			Log.Debugf("Ignoring jobs data for cluster %s", r.Data.Attributes.Cluster)
			return
		}
		s.takeJobs(r)
	})
	if softErrors > 0 {
		Log.Infof("%d jobs error envelopes", softErrors)
	}
	return err
}

func (s *Slurm) takeJobs(r *newfmt.JobsEnvelope) {
	t, err := time.Parse(time.RFC3339, string(r.Data.Attributes.Time))
	if err != nil {
		Log.Warningf("Bad time %s in jobs data: %v", r.Data.Attributes.Time, err)
	}
	entries := make([]sampler.Entry, 0, len(r.Data.Attributes.SlurmJobs))
	details := make(map[string]*sampler.Detail, len(r.Data.Attributes.SlurmJobs))
	allocated := make(map[string]bool)
	for i := range r.Data.Attributes.SlurmJobs {
		e, d := convertJob(&r.Data.Attributes.SlurmJobs[i], t)
		entries = append(entries, e)
		details[e.Id] = d
		if e.State == sampler.StateRunning {
			for _, nc := range d.Nodes {
				allocated[nc.Node] = true
			}
		}
	}
	s.Lock()
	defer s.Unlock()
	s.time = t
	s.entries = entries
	s.details = details
	s.nodesAllocated = len(allocated)
}

// The number of configured nodes to report when no cluster data have been seen.
func (s *Slurm) SetNodesConfigured(n int) {
	s.Lock()
	defer s.Unlock()
	s.configuredFallback = n
}

func jobId(job *newfmt.SlurmJob) string {
	if uint64(job.ArrayJobID) != 0 {
		return fmt.Sprintf("%d[%d]", uint64(job.ArrayJobID), uint64(job.ArrayTaskID))
	}
	return strconv.FormatUint(uint64(job.JobID), 10)
}

func convertJob(job *newfmt.SlurmJob, now time.Time) (sampler.Entry, *sampler.Detail) {
	ranges := make([]string, 0, len(job.NodeList))
	for _, r := range job.NodeList {
		ranges = append(ranges, string(r))
	}
	nodes, err := nodelist.ExpandList(strings.Join(ranges, ","))
	if err != nil {
		Log.Warningf("Job %d: %v", uint64(job.JobID), err)
		nodes = nil
	}
	e := sampler.Entry{
		Id:    jobId(job),
		User:  job.UserName,
		State: strings.ToLower(string(job.JobState)),
		Name:  job.JobName,
		Nodes: len(nodes),
		Cores: int(uint64(job.ReqCPUS)),
	}
	if len(nodes) > 0 {
		e.MasterHost = nodes[0]
	}

	d := &sampler.Detail{
		Interactive:          isInteractive(job.JobName),
		Nodes:                spreadCores(nodes, e.Cores),
		MemRequestedGB:       float64(uint64(job.ReqMemoryPerNode)) * float64(max(len(nodes), 1)) / kibPerGB,
		WallRemainingSeconds: -1,
	}
	if job.Sacct != nil {
		e.CpuSeconds = float64(job.Sacct.UserCPU) + float64(job.Sacct.SystemCPU)
		e.WallSeconds = float64(job.Sacct.ElapsedRaw)
		d.MemUsedGB = float64(job.Sacct.MaxRSS) / kibPerGB
	} else if start, err := time.Parse(time.RFC3339, string(job.Start)); err == nil && !now.IsZero() {
		e.WallSeconds = max(now.Sub(start).Seconds(), 0)
	}
	d.WallUsedSeconds = int64(e.WallSeconds)

	timelimit := uint64(0)
	if job.Timelimit >= newfmt.ExtendedUintBase {
		timelimit, _ = job.Timelimit.ToUint()
	}
	if timelimit > 0 {
		d.WallRemainingSeconds = max(int64(timelimit)*60-d.WallUsedSeconds, 0)
	}
	return e, d
}

// Cores spread evenly over the nodes, any remainder going to the first nodes.
func spreadCores(nodes []string, cores int) []sampler.NodeCores {
	if len(nodes) == 0 {
		return nil
	}
	result := make([]sampler.NodeCores, len(nodes))
	per, extra := cores/len(nodes), cores%len(nodes)
	for i, n := range nodes {
		result[i] = sampler.NodeCores{Node: nodelist.Short(n), Cores: per}
		if i < extra {
			result[i].Cores++
		}
	}
	return result
}

var interactiveNames = map[string]bool{
	"interactive": true,
	"bash":        true,
	"sh":          true,
	"zsh":         true,
	"tcsh":        true,
	"csh":         true,
}

func isInteractive(name string) bool {
	return interactiveNames[name]
}

// Consume a stream of cluster envelopes, keeping the node counts from the last good one.  A node
// is in use if it is allocated in whole or in part.
func (s *Slurm) ConsumeCluster(input io.Reader) error {
	return newfmt.ConsumeJSONCluster(input, false, func(r *newfmt.ClusterEnvelope) {
		if r.Data == nil {
			return
		}
		if s.cluster != "" && string(r.Data.Attributes.Cluster) != s.cluster {
			return
		}
		active, configured := 0, 0
		for _, n := range r.Data.Attributes.Nodes {
			count := 0
			for _, name := range n.Names {
				hosts, err := nodelist.Expand(string(name))
				if err != nil {
					Log.Warningf("Cluster data: %v", err)
					continue
				}
				count += len(hosts)
			}
			configured += count
			if nodesInUse(n.States) {
				active += count
			}
		}
		s.Lock()
		defer s.Unlock()
		s.haveCluster = true
		s.nodesActive = active
		s.nodesConfigured = configured
	})
}

func nodesInUse(states []string) bool {
	for _, st := range states {
		st = strings.ToUpper(st)
		if strings.HasPrefix(st, "ALLOCATED") || strings.HasPrefix(st, "MIXED") {
			return true
		}
	}
	return false
}

// The snapshot for the latest jobs data.  Entries are shared with other callers and must not be
// modified.  Node counts come from the cluster data if there are any, otherwise the nodes in use
// are those allocated to running jobs.
func (s *Slurm) Snapshot() (*sampler.Snapshot, error) {
	s.Lock()
	defer s.Unlock()
	if s.entries == nil {
		return nil, ErrNoData
	}
	snap := &sampler.Snapshot{
		Time:            s.time,
		Entries:         s.entries,
		NodesActive:     s.nodesAllocated,
		NodesConfigured: s.configuredFallback,
	}
	if s.haveCluster {
		snap.NodesActive = s.nodesActive
		snap.NodesConfigured = s.nodesConfigured
	}
	return snap, nil
}

func (s *Slurm) FetchJobDetail(_ context.Context, id string) (*sampler.Detail, error) {
	s.Lock()
	defer s.Unlock()
	d, found := s.details[id]
	if !found {
		return nil, fmt.Errorf("No data for job %s", id)
	}
	c := *d
	return &c, nil
}
