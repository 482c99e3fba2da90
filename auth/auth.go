// Credentials for the viewer API.
//
// A password file has lines of the form username:password, empty lines are ignored.  The daemon
// reads it with ReadPasswords and rereads it on SIGHUP.  A credentials file has a single such line
// (or the old form username/password) and is read by clients with ParseAuth.

package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

func ParseAuth(filename string) (string, string, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return "", "", err
	}
	// In the old style ":" was never legal in the username.
	s := strings.TrimSpace(string(bs))
	user, pass, found := strings.Cut(s, "/")
	if !found || strings.Contains(user, ":") {
		user, pass, found = strings.Cut(s, ":")
	}
	if !found || user == "" || strings.ContainsAny(pass, ":\n") {
		return "", "", fmt.Errorf("Credentials file %s has the wrong format", filename)
	}
	return user, pass, nil
}

// MT: Locked
type Authenticator struct {
	lock       sync.RWMutex
	filepath   string
	identities map[string]string
}

func ReadPasswords(filename string) (*Authenticator, error) {
	m, err := readPasswords(filename)
	if err != nil {
		return nil, err
	}
	return &Authenticator{
		filepath:   filename,
		identities: m,
	}, nil
}

func readPasswords(filename string) (map[string]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for lineno := 1; scanner.Scan(); lineno++ {
		s := strings.TrimSpace(scanner.Text())
		if s == "" {
			continue
		}
		user, pass, found := strings.Cut(s, ":")
		if !found || user == "" || strings.Contains(pass, ":") {
			return nil, fmt.Errorf("Password file has the wrong format (line %d)", lineno)
		}
		if _, found := m[user]; found {
			return nil, fmt.Errorf("Password file has duplicated user name (line %d)", lineno)
		}
		m[user] = pass
	}
	return m, scanner.Err()
}

func (a *Authenticator) Authenticate(user, pass string) bool {
	a.lock.RLock()
	defer a.lock.RUnlock()
	probe, found := a.identities[user]
	return found && probe == pass
}

// Read the file again.  If that fails the authenticator is unchanged.
func (a *Authenticator) Reread() error {
	m, err := readPasswords(a.filepath)
	if err != nil {
		return err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	a.identities = m
	return nil
}
