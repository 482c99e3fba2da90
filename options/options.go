// Checks on option values that name files and directories.

package options

import (
	"fmt"
	"io/fs"
	"os"
	"path"
)

// Require a non-empty value that names an existing directory.

func RequireDirectory(optval, optname string) (string, error) {
	if optval == "" {
		return "", fmt.Errorf("Required argument: %s", optname)
	}

	optval = path.Clean(optval)
	info, err := os.DirFS(optval).(fs.StatFS).Stat(".")
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("Bad %s directory %s", optname, optval)
	}

	return optval, nil
}

// Like RequireDirectory, but the directory is created if it does not exist.  The monitor owns its
// data directory and may be the first to use it.

func EnsureDirectory(optval, optname string) (string, error) {
	if optval == "" {
		return "", fmt.Errorf("Required argument: %s", optname)
	}
	optval = path.Clean(optval)
	if err := os.MkdirAll(optval, 0755); err != nil {
		return "", fmt.Errorf("Bad %s directory %s: %w", optname, optval, err)
	}
	return RequireDirectory(optval, optname)
}

// Require a value that names an existing regular file, if the value is not empty.

func OptionalFile(optval, optname string) (string, error) {
	if optval == "" {
		return "", nil
	}
	optval = path.Clean(optval)
	info, err := os.Stat(optval)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("Bad %s file %s", optname, optval)
	}
	return optval, nil
}

// Clean a required path and make it absolute

func RequireCleanPath(optval, optname string) (string, error) {
	if optval == "" {
		return "", fmt.Errorf("%s requires a value", optname)
	}

	optval = path.Clean(optval)
	if path.IsAbs(optval) {
		return optval, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	return path.Join(wd, optval), nil
}
