package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/history"
)

// Guard failures returned synchronously by Start. None of them change state.
var (
	ErrTrainerUnavailable = errors.New("trainer unavailable")
	ErrAlreadyRunning     = errors.New("training already running")
	ErrNothingToDo        = errors.New("dataset unchanged since last successful training")
	ErrInsufficientData   = errors.New("insufficient training data")
)

// LabelMap assigns each model output index a role. It is produced once per
// run, passed to the trainer, and published with the artifact.
type LabelMap map[int]dataset.Role

// NewLabelMap numbers roles in sorted name order.
func NewLabelMap(roles []dataset.Role) LabelMap {
	sorted := append([]dataset.Role(nil), roles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	m := make(LabelMap, len(sorted))
	for i, r := range sorted {
		m[i] = r
	}
	return m
}

// Index returns the output index of role.
func (m LabelMap) Index(role dataset.Role) (int, bool) {
	for i, r := range m {
		if r == role {
			return i, true
		}
	}
	return 0, false
}

// Strings converts the map to the string-keyed form used on the wire.
func (m LabelMap) Strings() map[string]string {
	out := make(map[string]string, len(m))
	for i, r := range m {
		out[strconv.Itoa(i)] = string(r)
	}
	return out
}

// ParseLabelMap decodes the JSON object form {"0": "answer", ...}.
func ParseLabelMap(data []byte) (LabelMap, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse label map: %w", err)
	}
	m := make(LabelMap, len(raw))
	for k, v := range raw {
		i, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("parse label map: index %q is not an integer", k)
		}
		role, err := dataset.ParseRole(v)
		if err != nil {
			return nil, fmt.Errorf("parse label map: %w", err)
		}
		m[i] = role
	}
	return m, nil
}

// Job is the input to a single trainer run.
type Job struct {
	RunID    string
	Samples  []dataset.Sample
	LabelMap LabelMap
	// ResumeFrom is a checkpoint handle; empty starts fresh.
	ResumeFrom string
	// CheckpointDir is where the trainer writes checkpoints.
	CheckpointDir string
	// OutputDir is scratch space the trainer may write the finished model to.
	OutputDir string
}

// Hooks are called by the trainer from the worker goroutine.
type Hooks struct {
	// OnCheckpoint is called after each checkpoint is durably written.
	OnCheckpoint func(step int, epoch float64, handle string)
	// OnProgress is called at every safe stopping point. Returning false
	// asks the trainer to stop at the next one and report Stopped.
	OnProgress func(step int, epoch float64) bool
	// OnLog relays free-form trainer output. May be nil.
	OnLog func(level, msg string)
}

// Outcome is a trainer run that did not fail.
type Outcome struct {
	// Stopped is set when the trainer honored a stop request. No artifact
	// is produced.
	Stopped     bool
	ArtifactDir string
	Metrics     map[string]float64
}

//go:generate mockgen -destination=mocks/mock_training.go -package=mocks github.com/dsj7419/qa-doc-convert/internal/training Trainer,Publisher,RunRecorder

// Trainer runs the opaque model-fitting step.
type Trainer interface {
	// Available returns nil when Run can be attempted.
	Available() error
	Run(ctx context.Context, job Job, hooks Hooks) (Outcome, error)
}

// Artifact is a finished model ready to publish.
type Artifact struct {
	RunID       string
	Dir         string
	LabelMap    LabelMap
	Fingerprint string
	Examples    int
	Metrics     map[string]float64
}

// Publication describes the model currently installed.
type Publication struct {
	RunID       string    `json:"run_id"`
	Dir         string    `json:"dir"`
	Fingerprint string    `json:"dataset_fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// Publisher installs finished artifacts. The previous artifact is replaced
// only after the new one is fully written.
type Publisher interface {
	Publish(ctx context.Context, a Artifact) (*Publication, error)
	// Current returns nil, nil when no artifact has been published.
	Current() (*Publication, error)
	// Remove deletes the installed artifact.
	Remove() error
}

// RunRecorder keeps the per-run history. Failures are logged by the
// orchestrator and never affect a run.
type RunRecorder interface {
	Begin(ctx context.Context, req history.BeginRequest) (string, error)
	SetResumeFrom(ctx context.Context, id, handle string) error
	UpdateCheckpoint(ctx context.Context, id, handle string, step int, epoch float64) error
	Finish(ctx context.Context, id string, req history.FinishRequest) error
}
