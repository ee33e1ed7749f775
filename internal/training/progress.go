package training

import "time"

// Phase is the coarse progress state shown to callers.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseStarting    Phase = "starting"
	PhasePreparing   Phase = "preparing"
	PhaseTokenizing  Phase = "tokenizing"
	PhaseRunning     Phase = "running"
	PhaseInterrupted Phase = "interrupted"
	PhaseCompleted   Phase = "completed"
	PhaseError       Phase = "error"
)

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseInterrupted || p == PhaseCompleted || p == PhaseError
}

// Progress is an immutable snapshot. A new value is published for every
// change, so readers on other goroutines never see a partial update.
type Progress struct {
	Phase     Phase     `json:"status"`
	Message   string    `json:"message"`
	RunID     string    `json:"run_id,omitempty"`
	Step      int       `json:"step,omitempty"`
	Epoch     float64   `json:"epoch,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressFunc receives every progress snapshot of one run, in order, on
// the worker goroutine. It must not block.
type ProgressFunc func(Progress)

// Status is the externally visible orchestrator state.
type Status struct {
	IsTraining         bool     `json:"is_training"`
	Progress           Progress `json:"progress"`
	WorkerAlive        bool     `json:"worker_alive"`
	RecoveryPending    bool     `json:"recovery_pending"`
	RecoveryCheckpoint string   `json:"recovery_checkpoint,omitempty"`
	RunID              string   `json:"run_id,omitempty"`
}

// StopOutcome reports how StopGracefully ended. Every outcome is a success.
type StopOutcome string

const (
	// StopNotRunning means there was nothing to stop.
	StopNotRunning StopOutcome = "not_running"
	// StopConfirmed means the worker exited within the timeout.
	StopConfirmed StopOutcome = "stopped"
	// StopForced means the timeout expired; the run was marked interrupted
	// locally while the worker may still be winding down.
	StopForced StopOutcome = "forced"
)
