// Package journal keeps the single durable record describing the current or
// last training run. It is what crash recovery reads at startup.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dsj7419/qa-doc-convert/internal/atomicfile"
)

// Status is the recorded state of a training run.
type Status string

const (
	StatusIdle                      Status = "idle"
	StatusInProgress                Status = "in_progress"
	StatusInterrupted               Status = "interrupted"
	StatusCompleted                 Status = "completed"
	StatusCompletedNoArtifactExport Status = "completed_no_artifact_export"
	StatusFailed                    Status = "failed"
)

// Resumable reports whether a run in this state may be picked up on restart.
func (s Status) Resumable() bool {
	return s == StatusInProgress || s == StatusInterrupted
}

// Record is the on-disk journal entry. Exactly one exists at a time.
type Record struct {
	Status         Status    `json:"status"`
	LastCheckpoint string    `json:"last_checkpoint,omitempty"`
	Epoch          *float64  `json:"epoch,omitempty"`
	Step           *int      `json:"step,omitempty"`
	LastUpdate     time.Time `json:"last_update"`
}

// Option adds detail to a Write.
type Option func(*writeOpts)

type writeOpts struct {
	checkpoint    string
	hasCheckpoint bool
	epoch         *float64
	step          *int
}

// WithCheckpoint records handle as the resumption point.
func WithCheckpoint(handle string) Option {
	return func(o *writeOpts) {
		o.checkpoint = handle
		o.hasCheckpoint = true
	}
}

// WithProgress records the epoch and step reached.
func WithProgress(epoch float64, step int) Option {
	return func(o *writeOpts) {
		o.epoch = &epoch
		o.step = &step
	}
}

// Journal reads and writes the record file. Safe for concurrent use.
type Journal struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// New returns a Journal stored at path.
func New(path string) *Journal {
	return &Journal{path: path, now: time.Now}
}

// Path returns the journal file location.
func (j *Journal) Path() string { return j.path }

// Read returns the current record, or nil when there is none.
func (j *Journal) Read() (*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readLocked()
}

func (j *Journal) readLocked() (*Record, error) {
	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse journal %s: %w", j.path, err)
	}
	return &rec, nil
}

// Write replaces the record with status. When status is interrupted and no
// checkpoint is given, the previous record's checkpoint is carried over, along
// with its epoch and step unless new ones are given. An interruption handler
// without checkpoint context therefore never erases the resumption point.
func (j *Journal) Write(status Status, opts ...Option) (*Record, error) {
	var o writeOpts
	for _, opt := range opts {
		opt(&o)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rec := Record{
		Status:     status,
		Epoch:      o.epoch,
		Step:       o.step,
		LastUpdate: j.now().UTC(),
	}
	if o.hasCheckpoint {
		rec.LastCheckpoint = o.checkpoint
	}

	if status == StatusInterrupted && !o.hasCheckpoint {
		prev, err := j.readLocked()
		if err != nil {
			return nil, err
		}
		if prev != nil {
			rec.LastCheckpoint = prev.LastCheckpoint
			if rec.Epoch == nil {
				rec.Epoch = prev.Epoch
			}
			if rec.Step == nil {
				rec.Step = prev.Step
			}
		}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode journal: %w", err)
	}
	if err := atomicfile.Write(j.path, append(data, '\n'), atomicfile.Options{}); err != nil {
		return nil, fmt.Errorf("write journal: %w", err)
	}
	return &rec, nil
}

// Clear removes the journal. A missing journal is not an error.
func (j *Journal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear journal: %w", err)
	}
	return nil
}
