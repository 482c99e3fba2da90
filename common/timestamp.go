package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Snapshot timestamps are strings with second resolution in local time, eg "2017.02.14.10h25m07".
// They sort lexicographically in time order, which everything relies on.

const TimestampFormat = "2006.01.02.15h04m05"

func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampFormat)
}

func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampFormat, s, time.Local)
}

// Durations in seconds are shown as HH:MM:SS, with hours unbounded.  Negative durations are
// unknown.

func FormatHHMMSS(secs int64) string {
	if secs < 0 {
		return "??:??:??"
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

func ParseHHMMSS(s string) (int64, error) {
	words := strings.Split(s, ":")
	if len(words) != 3 {
		return 0, fmt.Errorf("Bad duration %s", s)
	}
	var secs int64
	for _, w := range words {
		n, err := strconv.ParseInt(w, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("Bad duration %s", s)
		}
		secs = secs*60 + n
	}
	return secs, nil
}
