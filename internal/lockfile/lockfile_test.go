package lockfile

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestGuardDatabase(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "gateway.sqlite")

	g, err := GuardDatabase(dbPath)
	if err != nil {
		t.Fatalf("GuardDatabase: %v", err)
	}
	if got, want := g.Path(), dbPath+".lock"; got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}

	// A second acquisition in the same process must fail while held.
	if _, err := GuardDatabase(dbPath); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("second GuardDatabase err = %v, want ErrAlreadyLocked", err)
	}

	if err := g.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Released lock can be re-acquired.
	g2, err := GuardDatabase(dbPath)
	if err != nil {
		t.Fatalf("GuardDatabase after release: %v", err)
	}
	if err := g2.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestGuardDatabase_EmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := GuardDatabase(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
