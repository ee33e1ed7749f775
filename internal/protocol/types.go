// Package protocol defines the newline-delimited JSON exchanged with an
// external trainer process over stdin and stdout.
//
// The orchestrator writes one "run" request, and later possibly one "stop"
// control line. The trainer writes any number of "progress", "checkpoint" and
// "log" messages followed by exactly one "result".
package protocol

// Version is the only protocol version spoken.
const Version = 1

// Request types written to the trainer.
const (
	TypeRun  = "run"
	TypeStop = "stop"
)

// Message types read from the trainer.
const (
	TypeProgress   = "progress"
	TypeCheckpoint = "checkpoint"
	TypeLog        = "log"
	TypeResult     = "result"
)

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusError     = "error"
)

// Sample is one labeled text in a run request.
type Sample struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// Request starts a training run.
type Request struct {
	Protocol        int               `json:"protocol"`
	Type            string            `json:"type"`
	RunID           string            `json:"run_id"`
	Samples         []Sample          `json:"samples"`
	LabelMap        map[string]string `json:"label_map"`
	ResumeFrom      string            `json:"resume_from,omitempty"`
	CheckpointDir   string            `json:"checkpoint_dir"`
	OutputDir       string            `json:"output_dir"`
	Epochs          float64           `json:"epochs"`
	BatchSize       int               `json:"batch_size,omitempty"`
	CheckpointEvery int               `json:"checkpoint_every,omitempty"`
}

// Control is a request written after the run request, e.g. stop.
type Control struct {
	Protocol int    `json:"protocol"`
	Type     string `json:"type"`
}

// Message is one line emitted by the trainer. Which fields are set depends
// on Type.
type Message struct {
	Type string `json:"type"`

	// progress, checkpoint
	Step  int     `json:"step,omitempty"`
	Epoch float64 `json:"epoch,omitempty"`

	// checkpoint
	Checkpoint string `json:"checkpoint,omitempty"`

	// log
	Level   string `json:"level,omitempty"` // debug | info | warn | error
	Message string `json:"message,omitempty"`

	// result
	Status      string             `json:"status,omitempty"`
	ArtifactDir string             `json:"artifact_dir,omitempty"`
	Error       string             `json:"error,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}
