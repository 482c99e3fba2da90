package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	. "jobmonitor/common"
)

// The marker file holds the timestamp of the last snapshot whose records are all written.  While a
// snapshot is being processed it is absent.
const MarkerName = "timestamp"

var ErrNoMarker = errors.New("No marker: sampling in progress or never run")

func WriteMarker(dir, timestamp string) error {
	return writeAtomically(filepath.Join(dir, MarkerName), []byte(timestamp+"\n"))
}

func ClearMarker(dir string) error {
	err := os.Remove(filepath.Join(dir, MarkerName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func ReadMarker(dir string) (string, error) {
	bs, err := os.ReadFile(filepath.Join(dir, MarkerName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoMarker
		}
		return "", err
	}
	ts := strings.TrimSpace(string(bs))
	if _, err := ParseTimestamp(ts); err != nil {
		return "", err
	}
	return ts, nil
}
