package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	lockFilePermissions = 0o600
	lockDirPermissions  = 0o700
)

// errLocked is returned when another syncroot process holds the database.
var errLocked = errors.New("metadata database is in use by another syncroot process")

// lockPath returns the lock file guarding the database at dbPath.
func lockPath(dbPath string) string {
	return dbPath + ".lock"
}

// lockDatabase takes an exclusive flock next to the database so that two
// writers (an init and an app change, say) never interleave. The lock file
// holds the owner's PID. The returned release function drops the lock and
// removes the file.
func lockDatabase(dbPath string) (release func(), err error) {
	path := lockPath(dbPath)

	if err := os.MkdirAll(filepath.Dir(path), lockDirPermissions); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	// Non-blocking: a held lock fails immediately.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, readErr := readLockOwner(path); readErr == nil {
			return nil, fmt.Errorf("%w (PID %d)", errLocked, pid)
		}

		return nil, errLocked
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readLockOwner returns the PID recorded in a lock file.
func readLockOwner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
