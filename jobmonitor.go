// Monitor the jobs on an HPC cluster and flag the ones that misbehave.
//
// Run `jobmonitor help` for help.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"jobmonitor/status"
)

const version = "0.4.0"

type command interface {
	Add(fs *flag.FlagSet)
	ApplyDefaults(given map[string]bool)
	Validate() error
	Summary() string
	Perform(ctx context.Context, out io.Writer) error
}

var commandSummary = "<verb> <option> ... [argument ...]"

var commands = map[string]func() command{
	"sample":   func() command { return new(SampleCommand) },
	"fetch":    func() command { return new(FetchCommand) },
	"daemon":   func() command { return new(DaemonCommand) },
	"overview": func() command { return new(OverviewCommand) },
	"history":  func() command { return new(HistoryCommand) },
	"watchdog": func() command { return new(WatchdogCommand) },
}

func main() {
	if len(os.Args) < 2 {
		usage(1)
	}
	verb := os.Args[1]
	switch verb {
	case "help", "-h", "--help":
		usage(0)
	case "version":
		fmt.Printf("jobmonitor version %s\n", version)
		return
	}
	mk, found := commands[verb]
	if !found {
		usage(1)
	}
	cmd := mk()
	if err := parseCommand(cmd, verb, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Bad arguments to %s\n%v\n\nTry `%s %s -h`\n", verb, err, os.Args[0], verb)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Perform(ctx, os.Stdout)
	stop()
	if errors.Is(err, errProblemReported) {
		os.Exit(1)
	}
	if err != nil {
		status.Fatalf("JOBMONITOR %s FAILED\n%v", verb, err)
	}
}

// Parse the arguments, then fill in defaults for flags that were not given, then validate.
func parseCommand(cmd command, verb string, args []string) error {
	fs := flag.NewFlagSet(verb, flag.ContinueOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage of %s %s:\n\n  %s\n\n", os.Args[0], verb, cmd.Summary())
		fs.PrintDefaults()
	}
	cmd.Add(fs)
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		return err
	}
	given := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		given[f.Name] = true
	})
	cmd.ApplyDefaults(given)
	if rest, ok := cmd.(interface{ SetArgs([]string) }); ok {
		rest.SetArgs(fs.Args())
	} else if fs.NArg() > 0 {
		return fmt.Errorf("Unexpected arguments %v", fs.Args())
	}
	return cmd.Validate()
}

func usage(code int) {
	out := os.Stdout
	if code != 0 {
		out = os.Stderr
	}
	fmt.Fprintf(out, "Usage of %s:\n\n  %s %s\n\n", os.Args[0], os.Args[0], commandSummary)
	fmt.Fprintf(out, "where <verb> is one of\n\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s\n    %s\n", name, commands[name]().Summary())
	}
	fmt.Fprintf(out, "  help\n    Print this message\n  version\n    Print the version\n")
	fmt.Fprintln(out, "\nAll verbs accept -h to print verb-specific help.")
	fmt.Fprintln(out, "Defaults for many options are read from ~/.jobmonitor.")
	os.Exit(code)
}
