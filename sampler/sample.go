package sampler

import (
	"fmt"
	"strconv"
	"strings"

	. "jobmonitor/common"
	"jobmonitor/effic"
	"jobmonitor/nodelist"
	"jobmonitor/rules"
)

// A memoization cell.  Once computed the text never changes, even if what it was computed from
// does.  Readers of old records rely on that; nobody should rely on it for fresh data.
type Memo struct {
	Text string
	Done bool
}

func (m *Memo) get(compose func() string) string {
	if !m.Done {
		m.Text = compose()
		m.Done = true
	}
	return m.Text
}

type JobSample struct {
	JobId     string
	Timestamp string

	Entry      Entry
	Detail     Detail
	HaveDetail bool

	// Percent; Corrected is true if scaled to the master host
	Effic          float64
	EfficCorrected bool

	// These are set when the rules are checked
	Neighbours         NeighbourInfo
	HostCoresInstalled int
	MemAvailableGB     float64
	Warnings           []string

	Overview Memo
	Details  Memo
}

// d may be nil if the detail could not be had.
func newJobSample(e Entry, d *Detail, timestamp string, correct bool) *JobSample {
	js := &JobSample{
		JobId:     e.Id,
		Timestamp: timestamp,
		Entry:     e,
	}
	if d != nil {
		js.Detail = *d
		js.HaveDetail = true
	} else {
		js.Detail = Detail{
			WallUsedSeconds:      int64(e.WallSeconds),
			WallRemainingSeconds: -1,
		}
	}
	if len(js.Detail.Nodes) == 0 {
		js.Detail.Nodes = []NodeCores{{Node: e.MasterHost, Cores: e.Cores}}
	}
	js.computeEffic(correct)
	return js
}

func (js *JobSample) computeEffic(correct bool) {
	in := effic.Input{
		CpuSeconds:    js.Entry.CpuSeconds,
		WallSeconds:   js.Entry.WallSeconds,
		Cores:         js.NCores(),
		CoresOnMaster: js.CoresOn(js.Entry.MasterHost),
	}
	var err error
	if correct {
		js.Effic, err = effic.EstimateCorrected(in)
		js.EfficCorrected = err == nil && js.NNodes() > 1
	} else {
		js.Effic, err = effic.Estimate(in)
	}
	if err != nil {
		Log.Warningf("Efficiency of job %s at %s: %v", js.JobId, js.Timestamp, err)
		js.Effic = 0
	}
}

func (js *JobSample) NNodes() int {
	return len(js.Detail.Nodes)
}

func (js *JobSample) NCores() int {
	n := 0
	for _, nc := range js.Detail.Nodes {
		n += nc.Cores
	}
	return n
}

func (js *JobSample) CoresOn(host string) int {
	n := 0
	for _, nc := range js.Detail.Nodes {
		if nodelist.Short(nc.Node) == host {
			n += nc.Cores
		}
	}
	return n
}

func (js *JobSample) NodeNames() []string {
	names := make([]string, len(js.Detail.Nodes))
	for i, nc := range js.Detail.Nodes {
		names[i] = nc.Node
	}
	return names
}

// The larger of memory used and requested.
func (js *JobSample) Mem() float64 {
	return max(js.Detail.MemUsedGB, js.Detail.MemRequestedGB)
}

// rules.Subject

func (js *JobSample) Efficiency() (float64, bool) { return js.Effic, js.EfficCorrected }
func (js *JobSample) CpuSeconds() float64         { return js.Entry.CpuSeconds }
func (js *JobSample) WallSeconds() float64        { return js.Entry.WallSeconds }
func (js *JobSample) MemUsedGB() float64          { return js.Detail.MemUsedGB }
func (js *JobSample) MemRequestedGB() float64     { return js.Detail.MemRequestedGB }
func (js *JobSample) HostCoresInUse() int         { return js.Neighbours.CoresOnHost() }
func (js *JobSample) HostCores() int              { return js.HostCoresInstalled }

// Evaluate the rules, recording warnings here and counting them in the job.  Interactive jobs are
// exempt.  Returns true iff there are warnings.
func (js *JobSample) CheckForIssues(job *Job, limits *rules.Limits, obs Observer) bool {
	js.Warnings = nil
	if js.Detail.Interactive {
		return false
	}
	for i, r := range rules.All() {
		if msg := r.Check(js, limits); msg != "" {
			js.Warnings = append(js.Warnings, msg)
			job.countWarning(i)
			obs.RuleFired(i)
		}
	}
	if len(js.Warnings) == 0 {
		return false
	}
	job.SamplesWithWarnings++
	return true
}

const (
	descWidth     = 32
	overviewWidth = 68
)

// The overview line is
//
//   \njobid user mhost nnodes|ncores   first-warning   [modules]
//
// followed by the first line of each further warning on its own line, indented.  Empty if there
// are no warnings.
func (js *JobSample) ComposeOverview(job *Job) string {
	if !js.Overview.Done && len(js.Warnings) == 0 {
		return ""
	}
	return js.Overview.get(func() string {
		desc := fmt.Sprintf("%s %s %s %d|%d", js.JobId, job.User, js.Entry.MasterHost, js.NNodes(), js.NCores())
		var b strings.Builder
		b.WriteByte('\n')
		b.WriteString(ljust(ljust(desc, descWidth)+firstLine(js.Warnings[0]), overviewWidth))
		b.WriteString("[" + strings.Join(job.LoadedModules(), " ") + "]")
		for _, w := range js.Warnings[1:] {
			b.WriteString("\n" + strings.Repeat(" ", descWidth) + firstLine(w))
		}
		return b.String()
	})
}

// The details block, empty if there are no warnings.  The counters shown are those of the job at
// the time of composition.
func (js *JobSample) ComposeDetails(job *Job) string {
	if !js.Details.Done && len(js.Warnings) == 0 {
		return ""
	}
	return js.Details.get(func() string {
		var b strings.Builder
		b.WriteString(js.ComposeOverview(job))

		n := len(job.Samples)
		pct := 0.0
		if n > 0 {
			pct = 100 * float64(job.SamplesWithWarnings) / float64(n)
		}
		fmt.Fprintf(&b, "\n\n#samples with warnings : %d / %d = %.2f%%", job.SamplesWithWarnings, n, pct)
		for i, count := range job.WarningCounts {
			if count > 0 {
				fmt.Fprintf(&b, "\n  %-25s: %5d", ruleName(i), count)
			}
		}

		fmt.Fprintf(&b, "\nwalltime used/remaining: %s / %s",
			FormatHHMMSS(js.Detail.WallUsedSeconds), FormatHHMMSS(js.Detail.WallRemainingSeconds))
		fmt.Fprintf(&b, "\nmem [GB] used/requested/available: %.3f / %.3f / %s",
			js.Detail.MemUsedGB, js.Detail.MemRequestedGB, strconv.FormatFloat(js.MemAvailableGB, 'f', -1, 64))

		const hdr = "nodes and cores used: "
		for i, nc := range js.Detail.Nodes {
			if i == 0 {
				b.WriteString("\n" + hdr)
			} else {
				b.WriteString("\n" + strings.Repeat(" ", len(hdr)))
			}
			fmt.Fprintf(&b, "%s/%d", nc.Node, nc.Cores)
		}

		b.WriteString(js.Neighbours.String())

		if len(js.Detail.CoreLoad) > 0 {
			b.WriteString(TitleLine("sar -P ALL 1 1", 100, '-'))
			for _, l := range js.Detail.CoreLoad {
				b.WriteString(l + "\n")
			}
		}

		b.WriteString(TitleLine(scriptTitle, 100, '-'))
		for _, l := range job.Script {
			b.WriteString(l + "\n")
		}
		b.WriteString(TitleLine("", 100, '-'))
		return b.String()
	})
}

const scriptTitle = "Script"

func ruleName(i int) string {
	if r := rules.ByOrdinal(i); r != nil {
		return r.Name()
	}
	return fmt.Sprintf("rule #%d", i)
}

func ljust(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func firstLine(s string) string {
	first, _, _ := strings.Cut(s, "\n")
	return first
}
