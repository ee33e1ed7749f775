package training

import (
	"errors"
	"fmt"

	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/events"
)

// AddExample records a single labeled text. It reports whether the dataset
// changed.
func (o *Orchestrator) AddExample(text string, role dataset.Role, source dataset.Source) (bool, error) {
	added, err := o.deps.Dataset.Add(text, role, source)
	if err != nil {
		return false, err
	}
	if added {
		o.publish(events.TypeDatasetChanged, o.deps.Dataset.Stats())
	}
	return added, nil
}

// Collect adds the classified items of a processed document. report
// receives human-readable progress lines and may be nil.
func (o *Orchestrator) Collect(items []dataset.LabeledItem, report func(string)) (dataset.CollectResult, error) {
	res, err := o.deps.Dataset.Collect(items, report)
	if err != nil {
		return res, err
	}
	if res.Added > 0 {
		o.publish(events.TypeDatasetChanged, o.deps.Dataset.Stats())
	}
	return res, nil
}

// Stats returns per-role counts.
func (o *Orchestrator) Stats() dataset.Stats {
	return o.deps.Dataset.Stats()
}

// HasEnoughData reports whether the dataset meets the training minimums.
func (o *Orchestrator) HasEnoughData() bool {
	return o.deps.Dataset.HasEnoughToTrain()
}

// Reset empties the dataset and removes the journal, the checkpoints and
// the published model. It refuses while a worker is alive.
func (o *Orchestrator) Reset() error {
	o.startMu.Lock()
	defer o.startMu.Unlock()
	if o.isTraining.Load() || o.alive.Load() > 0 {
		return ErrAlreadyRunning
	}

	var errs []error
	if err := o.deps.Dataset.Reset(); err != nil {
		return fmt.Errorf("reset dataset: %w", err)
	}
	if err := o.deps.Journal.Clear(); err != nil {
		errs = append(errs, err)
	}
	if _, err := o.deps.Checkpoints.Purge(); err != nil {
		errs = append(errs, fmt.Errorf("purge checkpoints: %w", err))
	}
	if err := o.deps.Publisher.Remove(); err != nil {
		errs = append(errs, err)
	}

	o.mu.Lock()
	o.recoveryPending = false
	o.recoveryCheckpoint = ""
	o.trainedFingerprint = ""
	o.mu.Unlock()
	o.progress.Store(&Progress{Phase: PhaseIdle, Message: "Training data reset", UpdatedAt: o.opts.Now().UTC()})
	o.publish(events.TypeDatasetChanged, o.deps.Dataset.Stats())
	o.logger.Info("training state reset")
	return errors.Join(errs...)
}
