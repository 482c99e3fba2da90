// Record file names and directory listings.
//
// A record for a running job is named <user>_<jobid>, one for a completed job
// <user>_<jobid>_<timestamp> where the timestamp is that of the last sample.  The extension is
// .cbor, or .cbor.gz if the record is compressed.  User names may contain underscores, job ids and
// timestamps may not, so names are parsed from the right.

package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	. "jobmonitor/common"
)

const (
	plainExt      = ".cbor"
	compressedExt = ".cbor.gz"
)

type RecordName struct {
	// Without directory and extension
	Name string

	// Full path of the file, with extension
	Path string

	User       string
	JobId      string
	Timestamp  string // "" for running records
	Compressed bool
	ModTime    time.Time
}

func recordBase(user, jobId, timestamp string) string {
	if timestamp == "" {
		return user + "_" + jobId
	}
	return user + "_" + jobId + "_" + timestamp
}

// Strip the record extension.  The second value is false if the name has neither extension.
func stripExt(name string) (base string, compressed, ok bool) {
	if b, found := strings.CutSuffix(name, compressedExt); found {
		return b, true, true
	}
	if b, found := strings.CutSuffix(name, plainExt); found {
		return b, false, true
	}
	return name, false, false
}

// Parse a file name (with or without directory and extension) as a record name.
func ParseRecordName(name string) (RecordName, bool) {
	base, compressed, _ := stripExt(filepath.Base(name))
	rn := RecordName{Name: base, Compressed: compressed}
	fields := strings.Split(base, "_")
	if len(fields) >= 3 {
		if _, err := ParseTimestamp(fields[len(fields)-1]); err == nil {
			rn.Timestamp = fields[len(fields)-1]
			fields = fields[:len(fields)-1]
		}
	}
	if len(fields) < 2 {
		return RecordName{}, false
	}
	rn.JobId = fields[len(fields)-1]
	rn.User = strings.Join(fields[:len(fields)-1], "_")
	if rn.JobId == "" || rn.User == "" {
		return RecordName{}, false
	}
	return rn, true
}

// The records in the directory, sorted by name.  A missing directory has no records.  Files that
// are not records (the marker, temporaries) are skipped.
func ListRecords(dir string) ([]RecordName, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []RecordName{}, nil
		}
		return nil, err
	}
	records := make([]RecordName, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, _, isRecord := stripExt(e.Name()); !isRecord {
			continue
		}
		rn, ok := ParseRecordName(e.Name())
		if !ok {
			Log.Infof("Skipping %s in %s", e.Name(), dir)
			continue
		}
		rn.Path = filepath.Join(dir, e.Name())
		if info, err := e.Info(); err == nil {
			rn.ModTime = info.ModTime()
		}
		records = append(records, rn)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records, nil
}
