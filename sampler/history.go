package sampler

import (
	"strings"

	. "jobmonitor/common"
)

// The history of a job as one text: the details of every sample, each under a separator line with
// its timestamp.  The script is shown with the first sample only.
func (job *Job) History() string {
	var b strings.Builder
	b.WriteString(job.User + " " + job.Id)
	scriptStart := TitleLine(scriptTitle, 100, '-')
	for i, js := range job.Samples {
		b.WriteString("\n### " + js.Timestamp + " " + strings.Repeat("#", 56))
		details := js.ComposeDetails(job) + "\n"
		if i > 0 {
			if pos := strings.Index(details, scriptStart); pos != -1 {
				details = details[:pos]
			}
		}
		b.WriteString(details)
	}
	b.WriteString("\n" + strings.Repeat("#", 80))
	return b.String()
}

// A one-line summary of a job, for listings.
type Summary struct {
	Id                  string
	User                string
	MasterHost          string
	First               string
	Last                string
	Samples             int
	SamplesWithWarnings int
	WarningCounts       map[string]int
	MaxMemUsedGB        float64
}

func (job *Job) Summary() Summary {
	sum := Summary{
		Id:                  job.Id,
		User:                job.User,
		MasterHost:          job.MasterHost,
		Samples:             len(job.Samples),
		SamplesWithWarnings: job.SamplesWithWarnings,
		WarningCounts:       make(map[string]int),
		MaxMemUsedGB:        job.OverallMemUsedGB(),
	}
	if len(job.Samples) > 0 {
		sum.First = job.Samples[0].Timestamp
		sum.Last = job.LastSample().Timestamp
	}
	for i, n := range job.WarningCounts {
		if n > 0 {
			sum.WarningCounts[ruleName(i)] = n
		}
	}
	return sum
}
