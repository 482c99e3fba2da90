// Fetch the running records of a monitor that runs elsewhere and merge them into a local sampler,
// so that its overviews and details can be shown here.
//
// The monitor removes its marker while it is writing records and writes it again when it is done.
// A fetch waits for the marker, copies the records, and checks that the marker has not changed
// while it was copying; if it has, the fetch starts over.

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "jobmonitor/common"
	"jobmonitor/sampler"
	"jobmonitor/store"
)

const DefaultRetryInterval = 60 * time.Second

var ErrGaveUp = errors.New("Gave up waiting for the monitor")

type Options struct {
	// Time between attempts while the monitor is sampling
	RetryInterval time.Duration

	// Attempts before giving up, 0 for no limit
	MaxAttempts int
}

type Fetcher struct {
	remote   Remote
	localDir string
	sampler  *sampler.Sampler
	opts     Options

	// Marker of the last completed fetch
	last string

	// Replaced by tests
	sleep func(ctx context.Context, d time.Duration) error
}

// Records are copied to localDir, which is emptied before each copy, and merged into s.
func New(remote Remote, localDir string, s *sampler.Sampler, opts Options) *Fetcher {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	return &Fetcher{
		remote:   remote,
		localDir: localDir,
		sampler:  s,
		opts:     opts,
		sleep:    sleep,
	}
}

func (f *Fetcher) Last() string {
	return f.last
}

// Fetch once.  Returns the monitor's timestamp and whether anything new was merged.
func (f *Fetcher) Fetch(ctx context.Context) (string, bool, error) {
	for attempt := 1; ; attempt++ {
		ts, err := f.remote.Marker(ctx)
		if err == nil {
			if ts == f.last {
				return ts, false, nil
			}
			var done bool
			done, err = f.copyAndMerge(ctx, ts)
			if err != nil {
				return "", false, err
			}
			if done {
				f.sampler.NoteOfflineTimestamp(ts, 0, 0)
				f.sampler.DoneAddingOfflineJobs()
				f.last = ts
				return ts, true, nil
			}
			Log.Infof("Monitor moved on from %s while copying, starting over", ts)
		} else if !errors.Is(err, store.ErrNoMarker) {
			return "", false, err
		}
		if f.opts.MaxAttempts > 0 && attempt >= f.opts.MaxAttempts {
			return "", false, ErrGaveUp
		}
		if err := f.sleep(ctx, f.opts.RetryInterval); err != nil {
			return "", false, err
		}
	}
}

// Returns false if the marker changed while copying.
func (f *Fetcher) copyAndMerge(ctx context.Context, ts string) (bool, error) {
	if err := os.RemoveAll(f.localDir); err != nil {
		return false, err
	}
	if err := os.MkdirAll(f.localDir, 0755); err != nil {
		return false, err
	}
	names, err := f.remote.Records(ctx)
	if err != nil {
		return false, err
	}
	jobs := make([]*sampler.Job, 0, len(names))
	for _, name := range names {
		var buf bytes.Buffer
		compressed, err := f.remote.Copy(ctx, name, &buf)
		if err != nil {
			Log.Warningf("Copying %s: %v", name, err)
			continue
		}
		fn := filepath.Join(f.localDir, name+recordExt(compressed))
		if err := os.WriteFile(fn, buf.Bytes(), 0644); err != nil {
			return false, fmt.Errorf("Writing %s: %w", fn, err)
		}
		if job := store.Load(fn, f.sampler); job != nil {
			jobs = append(jobs, job)
		}
	}
	again, err := f.remote.Marker(ctx)
	if err != nil && !errors.Is(err, store.ErrNoMarker) {
		return false, err
	}
	if again != ts {
		return false, nil
	}
	for _, job := range jobs {
		f.sampler.AddOfflineJob(job)
	}
	return true, nil
}

func recordExt(compressed bool) string {
	if compressed {
		return ".cbor.gz"
	}
	return ".cbor"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
