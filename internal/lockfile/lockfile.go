// Package lockfile guards the gateway database against concurrent processes.
// The store opens SQLite with a single writer, so a second gateway instance
// pointed at the same database would silently split the conversation state.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrAlreadyLocked indicates another gateway process holds the database.
	ErrAlreadyLocked = errors.New("database locked by another process")
)

type Guard struct {
	path string
	f    *os.File
}

// GuardDatabase takes an exclusive advisory lock on a sibling of the database
// file. Returns ErrAlreadyLocked when another process already holds it.
func GuardDatabase(dbPath string) (*Guard, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	path := dbPath + ".lock"
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	// Best-effort: write pid for troubleshooting.
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()

	return &Guard{path: path, f: f}, nil
}

func (g *Guard) Path() string {
	if g == nil {
		return ""
	}
	return g.path
}

func (g *Guard) Release() error {
	if g == nil || g.f == nil {
		return nil
	}
	// Unlock first; close always.
	unlockErr := unlockFile(g.f)
	closeErr := g.f.Close()
	g.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
