// Package lock guards the data directory so only one qadoc process mutates
// the dataset, journal and checkpoints at a time.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("data directory is locked by another qadoc process")

// DataDirLock is an exclusive advisory lock held through an open file.
// The file contains the holder's PID.
type DataDirLock struct {
	path string
	f    *os.File
}

// Acquire takes the lock at lockPath without blocking. When another process
// holds it the error wraps ErrLocked and names the holder's PID if known.
func Acquire(lockPath string) (*DataDirLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errWouldBlock) {
			if pid, ok := Holder(lockPath); ok {
				return nil, fmt.Errorf("%w (pid %d)", ErrLocked, pid)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	fail := func(step string, err error) (*DataDirLock, error) {
		_ = unlockFile(f)
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate lock file", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fail("write pid", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync lock file", err)
	}

	return &DataDirLock{path: lockPath, f: f}, nil
}

func (l *DataDirLock) Path() string { return l.path }

// Release drops the lock. The file stays; its PID is stale from here on.
func (l *DataDirLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unlockFile(l.f)
	err := l.f.Close()
	l.f = nil
	return err
}

// Holder reads the PID recorded in the lock file. It does not check whether
// the lock is currently held.
func Holder(lockPath string) (int, bool) {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Held reports whether some process currently holds the lock at lockPath.
// It never creates or rewrites the file.
func Held(lockPath string) bool {
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer f.Close()
	if err := lockFile(f); err != nil {
		return errors.Is(err, errWouldBlock)
	}
	_ = unlockFile(f)
	return false
}
