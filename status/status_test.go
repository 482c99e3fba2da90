package status

import (
	"strings"
	"testing"
)

type recorder struct {
	lines []string
}

func (r *recorder) Debug(m string) error   { r.lines = append(r.lines, "D "+m); return nil }
func (r *recorder) Info(m string) error    { r.lines = append(r.lines, "I "+m); return nil }
func (r *recorder) Warning(m string) error { r.lines = append(r.lines, "W "+m); return nil }
func (r *recorder) Err(m string) error     { r.lines = append(r.lines, "E "+m); return nil }
func (r *recorder) Crit(m string) error    { r.lines = append(r.lines, "C "+m); return nil }

func TestLevels(t *testing.T) {
	var out strings.Builder
	l := NewStandardLogger(&out)
	rec := &recorder{}
	l.SetUnderlying(rec)

	l.Info("hidden")
	l.Warningf("shown %d", 1)
	l.Error("shown 2")
	if out.String() != "shown 1\nshown 2\n" {
		t.Fatalf("Stderr: %q", out.String())
	}
	if len(rec.lines) != 2 || rec.lines[0] != "W shown 1" || rec.lines[1] != "E shown 2" {
		t.Fatalf("Underlying: %v", rec.lines)
	}

	l.LowerLevelTo(LogLevelDebug)
	l.Debug("now")
	if rec.lines[2] != "D now" {
		t.Fatalf("Lowered: %v", rec.lines)
	}

	// LowerLevelTo never raises the level
	l.LowerLevelTo(LogLevelError)
	l.Info("still")
	if rec.lines[3] != "I still" {
		t.Fatalf("Not lowered: %v", rec.lines)
	}

	l.SetLevel(LogLevelCritical)
	l.Error("gone")
	l.Criticalf("bad %s", "thing")
	if len(rec.lines) != 5 || rec.lines[4] != "C bad thing" {
		t.Fatalf("Critical: %v", rec.lines)
	}
}

func TestNoStderr(t *testing.T) {
	l := NewStandardLogger(nil)
	rec := &recorder{}
	l.SetUnderlying(rec)
	l.Warning("x", 1)
	if len(rec.lines) != 1 || rec.lines[0] != "W x1" {
		t.Fatalf("Underlying only: %v", rec.lines)
	}
}
