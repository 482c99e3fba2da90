package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, contents string) string {
	fn := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(fn, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestParseAuth(t *testing.T) {
	u, p, err := ParseAuth(writeFile(t, "new", "frobnitz:fizzbuzz\n"))
	if err != nil || u != "frobnitz" || p != "fizzbuzz" {
		t.Fatalf("Bad user or password: %s %s %v", u, p, err)
	}
	u, p, err = ParseAuth(writeFile(t, "old", "  grunge/dirge "))
	if err != nil || u != "grunge" || p != "dirge" {
		t.Fatalf("Bad user or password: %s %s %v", u, p, err)
	}
	if _, _, err := ParseAuth(writeFile(t, "bad", "nothing here")); err == nil {
		t.Fatal("Accepted bad file")
	}
}

func TestPasswords(t *testing.T) {
	fn := writeFile(t, "passwd", "grunge:dirge\n\nfuzz:fizz\n")
	oracle, err := ReadPasswords(fn)
	if err != nil {
		t.Fatal(err)
	}
	if !oracle.Authenticate("grunge", "dirge") || oracle.Authenticate("grunge", "blapp") ||
		!oracle.Authenticate("fuzz", "fizz") || oracle.Authenticate("blum", "fuzz") {
		t.Fatal("Authentication")
	}

	os.WriteFile(fn, []byte("grunge:dirge\nbletch:blum\n"), 0600)
	if err := oracle.Reread(); err != nil {
		t.Fatal(err)
	}
	if !oracle.Authenticate("bletch", "blum") || oracle.Authenticate("fuzz", "fizz") {
		t.Fatal("Authentication after reread")
	}

	os.WriteFile(fn, []byte("grunge:dirge\ngrunge:other\n"), 0600)
	if err := oracle.Reread(); err == nil {
		t.Fatal("Duplicate user accepted")
	}
	if !oracle.Authenticate("bletch", "blum") {
		t.Fatal("Failed reread changed the authenticator")
	}
}
