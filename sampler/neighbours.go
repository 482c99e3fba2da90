package sampler

import (
	"fmt"
	"strings"
)

// One row of neighbour information.  A row with Nodes == 0 is a job for which there was no sample
// at the timestamp; its figures are all zero.
type NeighbourRow struct {
	JobId string
	Nodes int
	Cores int

	// Cores the job has on the host the info is for
	CoresOnHost int

	Effic float64
	MemGB float64
}

// The jobs on the master host of a sample, at the sample's timestamp: the sample's own job first,
// then the other jobs in host index order, then, if there is more than one job, a "total:" row with
// one node, the sum of cores, the core-weighted efficiency and the sum of memory.
type NeighbourInfo struct {
	Host string
	Rows []NeighbourRow

	// Number of jobs on the host, ie the rows without the total row
	Residents int
}

const totalRowId = "total:"

func rowFor(js *JobSample, host string) NeighbourRow {
	return NeighbourRow{
		JobId:       js.JobId,
		Nodes:       js.NNodes(),
		Cores:       js.NCores(),
		CoresOnHost: js.CoresOn(host),
		Effic:       js.Effic,
		MemGB:       js.Mem(),
	}
}

// Build the neighbour info for a sample from the current host index.  Requires that every running
// job has its sample for the timestamp, ie, that pass 1 of the snapshot has completed.
func (s *Sampler) BuildNeighbourInfo(js *JobSample) NeighbourInfo {
	host := js.Entry.MasterHost
	info := NeighbourInfo{
		Host: host,
		Rows: []NeighbourRow{rowFor(js, host)},
	}
	for _, id := range s.hostJobs[host] {
		if id == js.JobId {
			continue
		}
		var row NeighbourRow
		if job := s.jobs[id]; job != nil {
			if other := job.Sample(js.Timestamp); other != nil {
				row = rowFor(other, host)
			}
		}
		row.JobId = id
		info.Rows = append(info.Rows, row)
	}
	info.Residents = len(info.Rows)
	if info.Residents > 1 {
		total := NeighbourRow{JobId: totalRowId, Nodes: 1}
		var weighted float64
		for _, r := range info.Rows {
			total.Cores += r.Cores
			total.CoresOnHost += r.CoresOnHost
			total.MemGB += r.MemGB
			weighted += r.Effic * float64(r.Cores)
		}
		if total.Cores > 0 {
			total.Effic = weighted / float64(total.Cores)
		}
		info.Rows = append(info.Rows, total)
	}
	return info
}

// Cores in use on the host by all the jobs there.
func (ni *NeighbourInfo) CoresOnHost() int {
	if len(ni.Rows) == 0 {
		return 0
	}
	if ni.Residents > 1 {
		return ni.Rows[len(ni.Rows)-1].CoresOnHost
	}
	return ni.Rows[0].CoresOnHost
}

func (ni *NeighbourInfo) Total() *NeighbourRow {
	if ni.Residents > 1 && len(ni.Rows) > ni.Residents {
		return &ni.Rows[len(ni.Rows)-1]
	}
	return nil
}

// Text form, as it appears in the details:
//
//   other jobs on r1c1cn01: 2 (total=3).
//     **393684**  1|10  45.3%   8.000GB
//       393685    1| 8  99.1%   4.000GB
//       393686 (no info)
//       total:    1|18  68.9%  12.000GB
func (ni *NeighbourInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nother jobs on %s: ", ni.Host)
	if ni.Residents <= 1 {
		b.WriteString("None.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%d (total=%d).", ni.Residents-1, ni.Residents)
	for i, r := range ni.Rows {
		switch {
		case i == 0:
			fmt.Fprintf(&b, "\n  **%s**%3d|%2d %5.1f%% %7.3fGB", r.JobId, r.Nodes, r.Cores, r.Effic, r.MemGB)
		case r.Nodes == 0:
			fmt.Fprintf(&b, "\n    %s (no info)", r.JobId)
		default:
			fmt.Fprintf(&b, "\n    %s  %3d|%2d %5.1f%% %7.3fGB", r.JobId, r.Nodes, r.Cores, r.Effic, r.MemGB)
		}
	}
	b.WriteByte('\n')
	return b.String()
}
