// Snapshot sources.  Each feeds a Slurm converter and returns its latest snapshot.

package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"jobmonitor/process"
	"jobmonitor/sampler"
)

var ErrNoData = errors.New("No jobs data received")

// Jobs data read from a file, which is reread for every snapshot.
type File struct {
	path  string
	slurm *Slurm
}

var _ = sampler.SnapshotSource((*File)(nil))

func NewFile(path string, slurm *Slurm) *File {
	return &File{path: path, slurm: slurm}
}

func (f *File) FetchSnapshot(_ context.Context) (*sampler.Snapshot, error) {
	input, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer input.Close()
	if err := f.slurm.ConsumeJobs(input); err != nil {
		return nil, fmt.Errorf("Reading %s: %w", f.path, err)
	}
	return f.slurm.Snapshot()
}

// Jobs data printed by a command, typically `sonar slurm` or a wrapper around it.
type Command struct {
	program   string
	arguments []string
	slurm     *Slurm
}

var _ = sampler.SnapshotSource((*Command)(nil))

func NewCommand(command string, slurm *Slurm) (*Command, error) {
	program, arguments, err := process.SplitCommand(command)
	if err != nil {
		return nil, err
	}
	return &Command{program: program, arguments: arguments, slurm: slurm}, nil
}

func (c *Command) FetchSnapshot(ctx context.Context) (*sampler.Snapshot, error) {
	stdout, stderr, err := process.RunSubprocess(ctx, c.program, c.arguments)
	if err != nil {
		if stderr != "" {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
		}
		return nil, err
	}
	if err := c.slurm.ConsumeJobs(strings.NewReader(stdout)); err != nil {
		return nil, err
	}
	return c.slurm.Snapshot()
}
