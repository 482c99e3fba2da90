package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"jobmonitor/fetch"
	"jobmonitor/options"
	"jobmonitor/sampler"
)

type FetchCommand struct {
	VerboseArgs
	DataDirArgs

	from     string
	authFile string
	retry    uint
	attempts uint
	watch    bool

	user, pass string
}

func (fc *FetchCommand) groups() []argGroup {
	return []argGroup{&fc.VerboseArgs, &fc.DataDirArgs}
}

func (fc *FetchCommand) Summary() string {
	return "Copy the running records of a monitor elsewhere and print its latest overview"
}

func (fc *FetchCommand) Add(fs *flag.FlagSet) {
	addGroups(fs, fc.groups()...)
	fs.StringVar(&fc.from, "from", "",
		"Fetch from the monitor's running `directory`, or from its daemon at http(s)://host:port (required)")
	fs.StringVar(&fc.authFile, "auth-file", "", "Read username:password for the daemon from `filename`")
	fs.UintVar(&fc.retry, "retry", uint(fetch.DefaultRetryInterval/time.Second),
		"Wait `seconds` between attempts while the monitor is sampling")
	fs.UintVar(&fc.attempts, "attempts", 0, "Give up after `n` attempts [default: never]")
	fs.BoolVar(&fc.watch, "watch", false, "Keep fetching, printing each new overview")
}

func (fc *FetchCommand) ApplyDefaults(given map[string]bool) {
	applyGroupDefaults(given, fc.groups()...)
}

func (fc *FetchCommand) isRemote() bool {
	return isRemote(fc.from)
}

func (fc *FetchCommand) Validate() error {
	fc.DataDirArgs.create = true
	var e1, e2, e3 error
	e1 = validateGroups(fc.groups()...)
	if fc.from == "" {
		e2 = errors.New("Required argument: -from")
	} else if !fc.isRemote() {
		fc.from, e2 = options.RequireCleanPath(fc.from, "-from")
	}
	if fc.authFile != "" {
		if !fc.isRemote() {
			e3 = errors.New("-auth-file requires a daemon for -from")
		} else {
			fc.user, fc.pass, e3 = parseAuthFile(fc.authFile)
		}
	}
	return errors.Join(e1, e2, e3)
}

func (fc *FetchCommand) Perform(ctx context.Context, out io.Writer) error {
	var remote fetch.Remote
	if fc.isRemote() {
		remote = fetch.NewHTTPRemote(fc.from, fc.user, fc.pass)
	} else {
		remote = fetch.NewDirRemote(fc.from)
	}
	s := sampler.New(sampler.DefaultConfig(), nil)
	retry := time.Duration(fc.retry) * time.Second
	f := fetch.New(remote, filepath.Join(fc.DataDir, "offline", "running"), s, fetch.Options{
		RetryInterval: retry,
		MaxAttempts:   int(fc.attempts),
	})
	for {
		ts, changed, err := f.Fetch(ctx)
		if err != nil {
			if fc.watch && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
		if changed || !fc.watch {
			if _, err := fmt.Fprintln(out, s.Overview(ts)); err != nil {
				return err
			}
		}
		if !fc.watch {
			return nil
		}
		select {
		case <-time.After(retry):
		case <-ctx.Done():
			return nil
		}
	}
}
