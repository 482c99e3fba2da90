package common

import (
	"strings"
	"testing"
	"time"
)

func TestTimestamp(t *testing.T) {
	tm := time.Date(2017, 2, 14, 9, 5, 33, 0, time.Local)
	s := FormatTimestamp(tm)
	if s != "2017.02.14.09h05m33" {
		t.Fatalf("Format: %s", s)
	}
	back, err := ParseTimestamp(s)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(tm) {
		t.Fatalf("Parse: %v", back)
	}
	for _, d := range []time.Duration{time.Second, 30 * time.Second, time.Hour} {
		if FormatTimestamp(tm.Add(d)) <= s {
			t.Fatalf("Timestamps must sort in time order: %v", d)
		}
	}
	if _, err := ParseTimestamp("2017.02.14.09h05"); err == nil {
		t.Fatal("Timestamp without seconds accepted")
	}
}

func TestHHMMSS(t *testing.T) {
	if s := FormatHHMMSS(100*3600 + 61); s != "100:01:01" {
		t.Fatalf("Format: %s", s)
	}
	if s := FormatHHMMSS(-1); s != "??:??:??" {
		t.Fatalf("Unknown: %s", s)
	}
	n, err := ParseHHMMSS("01:02:03")
	if err != nil || n != 3723 {
		t.Fatalf("Parse: %d %v", n, err)
	}
	if _, err := ParseHHMMSS("1:2"); err == nil {
		t.Fatal("Should fail")
	}
}

func TestTitleLine(t *testing.T) {
	if s := TitleLine("Script", 20, '-'); s != "\n--- Script ---------\n" {
		t.Fatalf("Title: %q", s)
	}
	if s := TitleLine("", 5, '#'); s != "\n#####\n" {
		t.Fatalf("Rule: %q", s)
	}
}

func TestDefaults(t *testing.T) {
	err := LoadDefaults(strings.NewReader(`
[sampler]
data-dir = /tmp/x
threshold = 55
correct-effic = true
`))
	if err != nil {
		t.Fatal(err)
	}
	dir := ""
	if !ApplyDefault(&dir, SamplerDataDir) || dir != "/tmp/x" {
		t.Fatalf("Data dir: %s", dir)
	}
	given := "/given"
	if ApplyDefault(&given, SamplerDataDir) || given != "/given" {
		t.Fatalf("Command line must win: %s", given)
	}
	var th uint = 70
	if !ApplyUintDefault(&th, false, SamplerThreshold) || th != 55 {
		t.Fatalf("Threshold: %d", th)
	}
	var correct bool
	if !ApplyBoolDefault(&correct, false, SamplerCorrectEffic) || !correct {
		t.Fatal("Correct effic")
	}
	cluster := ""
	if ApplyDefault(&cluster, SamplerCluster) {
		t.Fatal("No cluster default")
	}
}
