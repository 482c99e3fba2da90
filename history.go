package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"jobmonitor/sampler"
	"jobmonitor/store"
)

type HistoryCommand struct {
	VerboseArgs
	DataDirArgs

	args []string
}

func (hc *HistoryCommand) groups() []argGroup {
	return []argGroup{&hc.VerboseArgs, &hc.DataDirArgs}
}

func (hc *HistoryCommand) Summary() string {
	return "Print the history of jobs, given record files, record names or job ids"
}

func (hc *HistoryCommand) Add(fs *flag.FlagSet) {
	addGroups(fs, hc.groups()...)
}

func (hc *HistoryCommand) ApplyDefaults(given map[string]bool) {
	applyGroupDefaults(given, hc.groups()...)
}

func (hc *HistoryCommand) SetArgs(args []string) {
	hc.args = args
}

func (hc *HistoryCommand) Validate() error {
	var e1, e2 error
	e1 = validateGroups(hc.groups()...)
	if len(hc.args) == 0 {
		e2 = errors.New("At least one record is required")
	}
	return errors.Join(e1, e2)
}

func (hc *HistoryCommand) Perform(_ context.Context, out io.Writer) error {
	g := store.NewGateway(hc.DataDir, false)
	for _, arg := range hc.args {
		job, err := findRecord(g, arg)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, job.History()); err != nil {
			return err
		}
	}
	return nil
}

// The argument is a file, or the name of a record in the running or completed directory, or a job
// id.  For a job id the running record wins, otherwise the newest completed one.
func findRecord(g *store.Gateway, arg string) (*sampler.Job, error) {
	if info, err := os.Stat(arg); err == nil && info.Mode().IsRegular() {
		if job := store.Load(arg, nil); job != nil {
			return job, nil
		}
		return nil, fmt.Errorf("Not a record: %s", arg)
	}
	for _, state := range []string{"running", "completed"} {
		if job := store.Load(filepath.Join(g.Dir(state), arg), nil); job != nil {
			return job, nil
		}
	}
	for _, state := range []string{"running", "completed"} {
		records, err := store.ListRecords(g.Dir(state))
		if err != nil {
			return nil, err
		}
		var newest *store.RecordName
		for i := range records {
			r := &records[i]
			if r.JobId == arg && (newest == nil || r.Timestamp > newest.Timestamp) {
				newest = r
			}
		}
		if newest != nil {
			if job := store.Load(newest.Path, nil); job != nil {
				return job, nil
			}
		}
	}
	return nil, fmt.Errorf("No record for %s", arg)
}
