package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobmonitor/auth"
	. "jobmonitor/common"
	"jobmonitor/daemon"
	"jobmonitor/options"
	"jobmonitor/process"
	"jobmonitor/status"
	"jobmonitor/store"
)

const (
	defaultListenPort = 8097
	daemonLogTag      = "jobmonitor/daemon"
)

type DaemonCommand struct {
	VerboseArgs
	DataDirArgs
	DatabaseArgs

	port         uint
	passwordFile string

	authenticator *auth.Authenticator
}

func (dc *DaemonCommand) groups() []argGroup {
	return []argGroup{&dc.VerboseArgs, &dc.DataDirArgs, &dc.DatabaseArgs}
}

func (dc *DaemonCommand) Summary() string {
	return "Serve the records read-only over HTTP, for viewers and for `fetch`"
}

func (dc *DaemonCommand) Add(fs *flag.FlagSet) {
	addGroups(fs, dc.groups()...)
	fs.UintVar(&dc.port, "port", defaultListenPort, "Listen for connections on `port`")
	fs.StringVar(&dc.passwordFile, "password-file", "",
		"Require basic authentication with the username:password lines in `filename`")
}

func (dc *DaemonCommand) ApplyDefaults(given map[string]bool) {
	applyGroupDefaults(given, dc.groups()...)
	ApplyUintDefault(&dc.port, given["port"], DaemonListenPort)
	ApplyDefault(&dc.passwordFile, DaemonPasswordFile)
}

func (dc *DaemonCommand) Validate() error {
	var e1, e2, e3 error
	e1 = validateGroups(dc.groups()...)
	if dc.port == 0 || dc.port > 65535 {
		e2 = errors.New("Bad -port")
	}
	if dc.passwordFile, e3 = options.OptionalFile(dc.passwordFile, "-password-file"); e3 == nil && dc.passwordFile != "" {
		dc.authenticator, e3 = auth.ReadPasswords(dc.passwordFile)
		if e3 != nil {
			e3 = fmt.Errorf("Failed to read password file %w", e3)
		}
	}
	return errors.Join(e1, e2, e3)
}

func (dc *DaemonCommand) Perform(ctx context.Context, _ io.Writer) error {
	z := status.Start(daemonLogTag)
	defer z.Sync()

	opts := daemon.Options{
		Version:      version,
		RunningDir:   "running",
		CompletedDir: "completed",
		Metrics:      promhttp.Handler(),
	}
	if dc.DatabaseURI != "" {
		catalog, err := store.OpenPgCatalog(ctx, dc.DatabaseURI)
		if err != nil {
			return err
		}
		defer catalog.Close(context.Background())
		opts.Catalog = catalog
	}
	if dc.authenticator != nil {
		opts.Authenticator = dc.authenticator
		go func() {
			for {
				process.WaitForSignal(syscall.SIGHUP)
				if err := dc.authenticator.Reread(); err != nil {
					Log.Warningf("Password file not reread: %v", err)
				} else {
					Log.Info("Password file reread")
				}
			}
		}()
	}
	return daemon.New(store.NewGateway(dc.DataDir, false), opts).Serve(ctx, int(dc.port))
}
