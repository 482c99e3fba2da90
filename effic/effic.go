// Efficiency of a job: the CPU time it consumed relative to the CPU time it had at its disposal,
// as a percentage.
//
//   effic = 100 * cpuSeconds / (cores * wallSeconds)
//
// The scheduler only accounts CPU time on the master host of a job; worker nodes report zero.  A
// job running perfectly on two full nodes thus appears to run at 50%.  The corrected efficiency
// scales the figure by cores / coresOnMaster, which makes it an estimate for the master host only.
// Anything that shows a corrected figure must say so; it says nothing about the worker nodes.

package effic

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNoCores    = errors.New("No cores")
	ErrNoWalltime = errors.New("No walltime")
)

type Input struct {
	CpuSeconds  float64
	WallSeconds float64

	// Cores allocated to the job on all nodes
	Cores int

	// Cores allocated to the job on the master host, only used for correction
	CoresOnMaster int
}

// Uncorrected efficiency.
func Estimate(in Input) (float64, error) {
	if in.Cores <= 0 {
		return 0, ErrNoCores
	}
	if in.WallSeconds <= 0 {
		return 0, ErrNoWalltime
	}
	if in.CpuSeconds < 0 || math.IsNaN(in.CpuSeconds) {
		return 0, fmt.Errorf("Bad cpu time %v", in.CpuSeconds)
	}
	return 100 * in.CpuSeconds / (float64(in.Cores) * in.WallSeconds), nil
}

// Efficiency scaled to the master host.
func EstimateCorrected(in Input) (float64, error) {
	e, err := Estimate(in)
	if err != nil {
		return 0, err
	}
	if in.CoresOnMaster <= 0 {
		return 0, fmt.Errorf("No cores on master: %w", ErrNoCores)
	}
	return e * float64(in.Cores) / float64(in.CoresOnMaster), nil
}
