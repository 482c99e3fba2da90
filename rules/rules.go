// Rules for well-behaved jobs.
//
// A rule looks at one job sample and returns a warning, or "" if the sample is fine.  Rules are
// pure.  The rule list is ordered and its order is durable: the ordinal of a rule indexes the
// per-job warning counters that are persisted with each job record.  New rules go at the end, and
// rules are never removed or reordered.

package rules

import (
	"fmt"

	"jobmonitor/common"
)

// What a rule can see of a sample.
type Subject interface {
	// Efficiency in percent, and whether it has been corrected to the master host.
	Efficiency() (float64, bool)
	CpuSeconds() float64
	WallSeconds() float64
	MemUsedGB() float64
	MemRequestedGB() float64

	// Cores used on the master host by all jobs there, including this one.
	HostCoresInUse() int

	// Cores installed on the master host, zero if unknown.
	HostCores() int
}

type Limits struct {
	// Percent
	EfficThreshold float64

	// Seconds of walltime before a job without CPU time is flagged
	IdleGraceSeconds float64
}

func DefaultLimits() *Limits {
	return &Limits{
		EfficThreshold:   70,
		IdleGraceSeconds: 600,
	}
}

type Rule interface {
	// Short tag used in warning tallies
	Name() string
	Check(s Subject, lim *Limits) string
}

// MT: Constant after initialization; thread-safe
var all = []Rule{
	lowEfficiency{},
	memoryOverRequest{},
	hostOvercommitted{},
	noCpuProgress{},
}

func All() []Rule {
	return all
}

func Count() int {
	return len(all)
}

// Ordinal -> rule, nil if out of range.
func ByOrdinal(i int) Rule {
	if i < 0 || i >= len(all) {
		return nil
	}
	return all[i]
}

///////////////////////////////////////////////////////////////////////////////////////////////////

type lowEfficiency struct{}

func (lowEfficiency) Name() string {
	return "low efficiency"
}

func (lowEfficiency) Check(s Subject, lim *Limits) string {
	e, corrected := s.Efficiency()
	if e >= lim.EfficThreshold {
		return ""
	}
	msg := fmt.Sprintf("effic = %.1f%% < %.0f%%", e, lim.EfficThreshold)
	if corrected {
		msg += "\n  (master host only, scaled for worker nodes that report no cpu time)"
	}
	return msg
}

///////////////////////////////////////////////////////////////////////////////////////////////////

type memoryOverRequest struct{}

func (memoryOverRequest) Name() string {
	return "memory over request"
}

func (memoryOverRequest) Check(s Subject, lim *Limits) string {
	used, requested := s.MemUsedGB(), s.MemRequestedGB()
	if requested <= 0 || used <= requested {
		return ""
	}
	return fmt.Sprintf("mem used %.3fGB > requested %.3fGB", used, requested)
}

///////////////////////////////////////////////////////////////////////////////////////////////////

type hostOvercommitted struct{}

func (hostOvercommitted) Name() string {
	return "host overcommitted"
}

func (hostOvercommitted) Check(s Subject, lim *Limits) string {
	installed := s.HostCores()
	inUse := s.HostCoresInUse()
	if installed == 0 || inUse <= installed {
		return ""
	}
	return fmt.Sprintf("host overcommitted: %d cores in use > %d", inUse, installed)
}

///////////////////////////////////////////////////////////////////////////////////////////////////

type noCpuProgress struct{}

func (noCpuProgress) Name() string {
	return "no cpu progress"
}

func (noCpuProgress) Check(s Subject, lim *Limits) string {
	wall := s.WallSeconds()
	if s.CpuSeconds() > 0 || wall <= lim.IdleGraceSeconds {
		return ""
	}
	return fmt.Sprintf("no cpu time used after %s", common.FormatHHMMSS(int64(wall)))
}
