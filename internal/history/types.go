package history

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a recorded training run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusStopped     Status = "stopped"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
	// StatusNotExported means training finished but the model was not
	// published.
	StatusNotExported Status = "completed_no_artifact_export"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusFailed, StatusInterrupted, StatusNotExported:
		return true
	}
	return false
}

// Run is one row of the training_runs table.
type Run struct {
	ID             string     `json:"id"`
	Trigger        string     `json:"trigger"`
	Status         Status     `json:"status"`
	Forced         bool       `json:"forced"`
	Fingerprint    string     `json:"fingerprint"`
	Examples       int        `json:"examples"`
	ResumeFrom     *string    `json:"resume_from,omitempty"`
	LastCheckpoint *string    `json:"last_checkpoint,omitempty"`
	LastStep       *int       `json:"last_step,omitempty"`
	LastEpoch      *float64   `json:"last_epoch,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Error          *string    `json:"error,omitempty"`
	ArtifactDir    *string    `json:"artifact_dir,omitempty"`
}

// BeginRequest opens a run row.
type BeginRequest struct {
	// ID is generated when empty.
	ID          string
	Trigger     string
	Forced      bool
	Fingerprint string
	Examples    int
	ResumeFrom  string
}

// FinishRequest closes a run row.
type FinishRequest struct {
	Status      Status
	Error       string
	ArtifactDir string
}

var ErrRunNotFound = errors.New("run not found")
