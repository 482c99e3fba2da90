package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"jobmonitor/fetch"
	"jobmonitor/options"
	"jobmonitor/watchdog"
)

var errProblemReported = errors.New("Problem reported")

type WatchdogCommand struct {
	VerboseArgs

	from     string
	authFile string
	stateDir string
	maxAge   uint
	limit    uint

	user, pass string
}

func (wc *WatchdogCommand) Summary() string {
	return "Check that a monitor is taking snapshots, and print a report if it is not (for cron)"
}

func (wc *WatchdogCommand) Add(fs *flag.FlagSet) {
	wc.VerboseArgs.Add(fs)
	fs.StringVar(&wc.from, "from", "",
		"Check the monitor's running `directory`, or its daemon at http(s)://host:port (required)")
	fs.StringVar(&wc.authFile, "auth-file", "", "Read username:password for the daemon from `filename`")
	fs.StringVar(&wc.stateDir, "state-dir", "", "Keep the watchdog's state in `directory` (required)")
	fs.UintVar(&wc.maxAge, "max-age", 30, "The last snapshot must be younger than `minutes`")
	fs.UintVar(&wc.limit, "limit", 180, "Minimum number of `minutes` between reports")
}

func (wc *WatchdogCommand) ApplyDefaults(given map[string]bool) {}

func (wc *WatchdogCommand) Validate() error {
	var e1, e2, e3, e4 error
	e1 = wc.VerboseArgs.Validate()
	if wc.from == "" {
		e2 = errors.New("Required argument: -from")
	} else if !isRemote(wc.from) {
		wc.from, e2 = options.RequireCleanPath(wc.from, "-from")
	}
	wc.stateDir, e3 = options.EnsureDirectory(wc.stateDir, "-state-dir")
	if wc.authFile != "" {
		wc.user, wc.pass, e4 = parseAuthFile(wc.authFile)
	}
	return errors.Join(e1, e2, e3, e4)
}

func (wc *WatchdogCommand) Perform(ctx context.Context, out io.Writer) error {
	var source watchdog.MarkerSource
	if isRemote(wc.from) {
		source = fetch.NewHTTPRemote(wc.from, wc.user, wc.pass)
	} else {
		source = fetch.NewDirRemote(wc.from)
	}
	w := watchdog.New(source, wc.stateDir, time.Duration(wc.maxAge)*time.Minute, time.Duration(wc.limit)*time.Minute)
	problem, report, err := w.Check(ctx)
	if err != nil {
		return err
	}
	if report {
		fmt.Fprintf(out, "jobmonitor at %s: %s\n", wc.from, problem)
		return errProblemReported
	}
	return nil
}
