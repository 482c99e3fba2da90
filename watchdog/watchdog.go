// Check that a monitor is alive, for running from cron on another host.
//
// The monitor is alive if its marker is present and recent.  The marker is absent while a snapshot
// is being taken, so an absent marker is a problem only when it has been absent for longer than
// the maximum age.  A problem is reported at most once per limit period; the time of the last
// report and the time the marker was first seen missing are kept in a state file.

package watchdog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	. "jobmonitor/common"
	"jobmonitor/store"
)

const StateFileName = "jobmonitor-watchdog.json"

type MarkerSource interface {
	Marker(ctx context.Context) (string, error)
}

type state struct {
	LastReport    int64 `json:"last-report"`
	NoMarkerSince int64 `json:"no-marker-since,omitempty"`
}

type Watchdog struct {
	source   MarkerSource
	stateDir string

	// The marker must be younger than this
	maxAge time.Duration

	// Minimum time between reports
	limit time.Duration

	now func() time.Time
}

func New(source MarkerSource, stateDir string, maxAge, limit time.Duration) *Watchdog {
	return &Watchdog{
		source:   source,
		stateDir: stateDir,
		maxAge:   maxAge,
		limit:    limit,
		now:      time.Now,
	}
}

// Returns the problem found, "" if there is none, and whether it should be reported now.  An error
// is returned only if the state file cannot be read or written.
func (w *Watchdog) Check(ctx context.Context) (string, bool, error) {
	st, err := w.readState()
	if err != nil {
		return "", false, err
	}
	now := w.now()
	problem := ""
	ts, err := w.source.Marker(ctx)
	switch {
	case errors.Is(err, store.ErrNoMarker):
		if st.NoMarkerSince == 0 {
			st.NoMarkerSince = now.Unix()
		}
		if missing := now.Sub(time.Unix(st.NoMarkerSince, 0)); missing > w.maxAge {
			problem = fmt.Sprintf("No snapshot has been completed for %s", missing.Round(time.Minute))
		}
	case err != nil:
		problem = fmt.Sprintf("Monitor unreachable: %v", err)
	default:
		st.NoMarkerSince = 0
		t, err := ParseTimestamp(ts)
		if err != nil {
			problem = fmt.Sprintf("Bad marker %q", ts)
		} else if age := now.Sub(t); age > w.maxAge {
			problem = fmt.Sprintf("Last snapshot %s is %s old", ts, age.Round(time.Minute))
		}
	}

	report := false
	if problem != "" {
		Log.Info(problem)
		if now.Sub(time.Unix(st.LastReport, 0)) >= w.limit {
			report = true
			st.LastReport = now.Unix()
		}
	}
	if err := w.writeState(st); err != nil {
		return "", false, err
	}
	return problem, report, nil
}

func (w *Watchdog) statePath() string {
	return filepath.Join(w.stateDir, StateFileName)
}

func (w *Watchdog) readState() (*state, error) {
	st := new(state)
	bs, err := os.ReadFile(w.statePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(bs, st); err != nil {
		Log.Warningf("Ignoring bad watchdog state in %s: %v", w.statePath(), err)
		return new(state), nil
	}
	return st, nil
}

func (w *Watchdog) writeState(st *state) error {
	bs, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(w.statePath(), bs, 0644)
}
