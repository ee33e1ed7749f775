// Package workspace manages per-run scratch directories the trainer writes
// its finished model into before it is published.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Workspace is one run's scratch directory.
type Workspace struct {
	RunID string
	Dir   string
}

// CleanupReport summarizes a Cleanup call.
type CleanupReport struct {
	DeletedDirs int
}

// Manager creates and removes run scratch directories under a base dir.
type Manager struct {
	baseDir string
	now     func() time.Time
}

// NewManager returns a Manager rooted at baseDir. The directory is created
// lazily by Create.
func NewManager(baseDir string) (*Manager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("scratch base directory is empty")
	}
	return &Manager{baseDir: filepath.Clean(trimmed), now: time.Now}, nil
}

// BaseDir returns the directory holding all run workspaces.
func (m *Manager) BaseDir() string { return m.baseDir }

// Create makes an empty workspace for runID. A leftover directory from an
// earlier attempt with the same id is replaced.
func (m *Manager) Create(ctx context.Context, runID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	path, err := m.path(runID)
	if err != nil {
		return Workspace{}, err
	}
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create scratch base directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return Workspace{}, fmt.Errorf("clear stale workspace for run %q: %w", runID, err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for run %q: %w", runID, err)
	}
	return Workspace{RunID: runID, Dir: path}, nil
}

// Remove deletes the workspace for runID. A missing workspace is not an error.
func (m *Manager) Remove(runID string) error {
	path, err := m.path(runID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace for run %q: %w", runID, err)
	}
	return nil
}

// Cleanup removes workspaces whose modification time is older than
// olderThan. A zero olderThan removes every workspace; callers use that only
// while no run can be active.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan < 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must not be negative")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read scratch base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if olderThan > 0 && info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.baseDir, entry.Name())); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}
	return report, nil
}

func (m *Manager) path(runID string) (string, error) {
	if err := validateRunID(runID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, runID), nil
}

func validateRunID(runID string) error {
	trimmed := strings.TrimSpace(runID)
	if trimmed == "" {
		return fmt.Errorf("run id is empty")
	}
	if trimmed != runID || trimmed == "." || trimmed == ".." {
		return fmt.Errorf("run id %q is invalid", runID)
	}
	if strings.ContainsAny(runID, `/\`) {
		return fmt.Errorf("run id %q must not contain path separators", runID)
	}
	return nil
}
