package options

import (
	"os"
	"path"
	"strings"
	"testing"
)

func TestRequireDirectory(t *testing.T) {
	dir := t.TempDir()
	if d, err := RequireDirectory(dir+"/", "-data-dir"); err != nil || d != path.Clean(dir) {
		t.Fatalf("Directory: %s %v", d, err)
	}
	if _, err := RequireDirectory("", "-data-dir"); err == nil || !strings.Contains(err.Error(), "-data-dir") {
		t.Fatalf("Empty: %v", err)
	}
	if _, err := RequireDirectory(path.Join(dir, "nonesuch"), "-data-dir"); err == nil {
		t.Fatal("Missing directory accepted")
	}
}

func TestEnsureDirectory(t *testing.T) {
	dir := path.Join(t.TempDir(), "a", "b")
	if d, err := EnsureDirectory(dir, "-data-dir"); err != nil || d != dir {
		t.Fatalf("Ensure: %s %v", d, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("Not created: %v", err)
	}
}

func TestOptionalFile(t *testing.T) {
	dir := t.TempDir()
	fn := path.Join(dir, "passwords")
	os.WriteFile(fn, []byte("a:b\n"), 0600)
	if f, err := OptionalFile(fn, "-password-file"); err != nil || f != fn {
		t.Fatalf("File: %s %v", f, err)
	}
	if f, err := OptionalFile("", "-password-file"); err != nil || f != "" {
		t.Fatalf("Empty: %s %v", f, err)
	}
	if _, err := OptionalFile(dir, "-password-file"); err == nil {
		t.Fatal("Directory accepted as file")
	}
}

func TestRequireCleanPath(t *testing.T) {
	if p, err := RequireCleanPath("/a/b/../c", "-x"); err != nil || p != "/a/c" {
		t.Fatalf("Absolute: %s %v", p, err)
	}
	wd, _ := os.Getwd()
	if p, err := RequireCleanPath("x/./y", "-x"); err != nil || p != path.Join(wd, "x/y") {
		t.Fatalf("Relative: %s %v", p, err)
	}
	if _, err := RequireCleanPath("", "-x"); err == nil {
		t.Fatal("Empty accepted")
	}
}
