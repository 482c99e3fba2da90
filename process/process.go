// Abstractions for running subprocesses and capturing their output, and for waiting on signals.

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
)

// Run the program with the arguments, collecting its output and returning it.  If there is an error
// in running the program or the program exits with a nonzero code then an error is returned along
// with stderr and stdout is empty, otherwise stdout and stderr are returned.
//
// The program is killed if ctx is cancelled before it completes.

func RunSubprocess(ctx context.Context, programPath string, arguments []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, programPath, arguments...)
	var stdout strings.Builder
	var stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	errs := stderr.String()
	if err != nil {
		return "", errs, errors.Join(fmt.Errorf("While running %s", programPath), err)
	}
	return stdout.String(), errs, nil
}

// Split a command line on blanks, the first word is the program.  There is no quoting.

func SplitCommand(command string) (string, []string, error) {
	words := strings.Fields(command)
	if len(words) == 0 {
		return "", nil, errors.New("Empty command")
	}
	return words[0], words[1:], nil
}

func WaitForSignal(signals ...syscall.Signal) os.Signal {
	stopSignal := make(chan os.Signal, 1)
	for _, x := range signals {
		signal.Notify(stopSignal, x)
	}
	return <-stopSignal
}
