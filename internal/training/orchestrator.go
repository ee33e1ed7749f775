package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dsj7419/qa-doc-convert/internal/checkpoint"
	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/events"
	"github.com/dsj7419/qa-doc-convert/internal/history"
	"github.com/dsj7419/qa-doc-convert/internal/journal"
	"github.com/dsj7419/qa-doc-convert/internal/log"
	"github.com/dsj7419/qa-doc-convert/internal/workspace"
	"github.com/google/uuid"
)

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("training orchestrator is shut down")

// Triggers recorded in run history.
const (
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
	TriggerRecovery = "recovery"
)

const (
	defaultStalenessWindow = 24 * time.Hour
	defaultCancelGrace     = 10 * time.Second
)

// Deps are the collaborators of an Orchestrator. History and Events may be
// nil.
type Deps struct {
	Dataset     *dataset.Store
	Journal     *journal.Journal
	Checkpoints *checkpoint.Repository
	Trainer     Trainer
	Publisher   Publisher
	History     RunRecorder
	Events      *events.Hub
}

// Options tunes an Orchestrator.
type Options struct {
	// StalenessWindow is how old a journal may be and still be resumed.
	StalenessWindow time.Duration
	// ContinueThreshold is the epoch at which a checkpoint counts as
	// finished. Resume checkpoints at or past it are patched below it.
	ContinueThreshold float64
	// AutoResume starts a recovered run from New when data allows.
	AutoResume bool
	// ScratchDir holds per-run trainer output. Empty uses a qadoc-runs
	// directory under the system temp dir. New removes workspaces there
	// older than StalenessWindow.
	ScratchDir string
	// CancelGrace bounds how long Shutdown waits for a cancelled worker.
	CancelGrace time.Duration
	Now         func() time.Time
}

// StartOptions configures one Start call.
type StartOptions struct {
	Force      bool
	Background bool
	Trigger    string
	Progress   ProgressFunc
}

// Orchestrator runs at most one training job at a time, journals its
// progress, and resumes interrupted runs after a restart.
type Orchestrator struct {
	deps    Deps
	opts    Options
	logger  *slog.Logger
	scratch *workspace.Manager

	// startMu serializes the start guards with worker spawn and Shutdown.
	startMu    sync.Mutex
	isTraining atomic.Bool
	shouldStop atomic.Bool
	progress   atomic.Pointer[Progress]
	alive      atomic.Int32
	workers    sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	mu                 sync.Mutex
	current            *run
	recoveryPending    bool
	recoveryCheckpoint string
	trainedFingerprint string
	closed             bool
}

// run is the state of one Start call.
type run struct {
	id       string
	trigger  string
	forced   bool
	callback ProgressFunc
	logger   *slog.Logger

	historyID string

	done      chan struct{}
	doneOnce  sync.Once
	abandoned atomic.Bool

	mu            sync.Mutex
	lastGood      string
	stopJournaled bool
}

func (r *run) signal() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *run) checkpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastGood
}

type result struct {
	status      history.Status
	err         error
	artifactDir string
}

// New builds an Orchestrator and runs crash recovery once: a recent
// in-progress or interrupted journal with a usable checkpoint marks recovery
// pending and, with AutoResume and enough data, restarts training in the
// background. Anything else clears the journal.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Dataset == nil || deps.Journal == nil || deps.Checkpoints == nil {
		return nil, errors.New("training: dataset, journal and checkpoint repository are required")
	}
	if deps.Trainer == nil || deps.Publisher == nil {
		return nil, errors.New("training: trainer and publisher are required")
	}
	if opts.StalenessWindow <= 0 {
		opts.StalenessWindow = defaultStalenessWindow
	}
	if opts.ContinueThreshold <= 0 {
		opts.ContinueThreshold = 1.0
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = defaultCancelGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = filepath.Join(os.TempDir(), "qadoc-runs")
	}
	scratch, err := workspace.NewManager(opts.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:    deps,
		opts:    opts,
		logger:  log.WithComponent("training"),
		scratch: scratch,
		baseCtx: ctx,
		cancel:  cancel,
	}
	if report, err := scratch.Cleanup(ctx, opts.StalenessWindow); err != nil {
		o.logger.Warn("could not clean stale run workspaces", "dir", opts.ScratchDir, "error", err)
	} else if report.DeletedDirs > 0 {
		o.logger.Info("removed stale run workspaces", "count", report.DeletedDirs)
	}
	o.progress.Store(&Progress{Phase: PhaseIdle, Message: "Idle", UpdatedAt: opts.Now().UTC()})

	if pub, err := deps.Publisher.Current(); err != nil {
		o.logger.Warn("could not read published model, dataset will count as untrained", "error", err)
	} else if pub != nil {
		o.trainedFingerprint = pub.Fingerprint
	}

	o.onInit()
	return o, nil
}

func (o *Orchestrator) onInit() {
	rec, err := o.deps.Journal.Read()
	if err != nil {
		o.logger.Warn("training journal unreadable, discarding it", "error", err)
		o.clearJournal()
		return
	}
	if rec == nil {
		return
	}

	handle, ok := o.recoverable(rec)
	if !ok {
		o.logger.Info("discarding training journal", "status", rec.Status, "last_update", rec.LastUpdate)
		o.clearJournal()
		return
	}

	o.mu.Lock()
	o.recoveryPending = true
	o.recoveryCheckpoint = handle
	o.mu.Unlock()
	o.logger.Info("interrupted training found", "status", rec.Status, "checkpoint", handle)

	if !o.opts.AutoResume {
		return
	}
	if !o.deps.Dataset.HasEnoughToTrain() {
		o.logger.Info("not enough data to resume training automatically")
		return
	}
	if _, err := o.Start(context.Background(), StartOptions{Force: true, Background: true, Trigger: TriggerRecovery}); err != nil {
		o.logger.Warn("automatic resume did not start", "error", err)
	}
}

// recoverable returns the checkpoint to resume from when rec describes a
// recent unfinished run.
func (o *Orchestrator) recoverable(rec *journal.Record) (string, bool) {
	if !rec.Status.Resumable() {
		return "", false
	}
	if o.opts.Now().Sub(rec.LastUpdate) > o.opts.StalenessWindow {
		return "", false
	}
	if rec.LastCheckpoint != "" && checkpoint.Exists(rec.LastCheckpoint) {
		return rec.LastCheckpoint, true
	}
	latest, ok, err := o.deps.Checkpoints.FindLatest()
	if err != nil {
		o.logger.Warn("checkpoint scan failed", "dir", o.deps.Checkpoints.Dir(), "error", err)
		return "", false
	}
	return latest, ok
}

func (o *Orchestrator) clearJournal() {
	if err := o.deps.Journal.Clear(); err != nil {
		o.logger.Error("failed to clear training journal", "error", err)
	}
}

// Start launches a training run. Guard failures are returned synchronously
// and leave all state untouched. In the background case Start returns true
// once the worker is spawned; otherwise it runs the job inline and reports
// whether it completed.
func (o *Orchestrator) Start(ctx context.Context, so StartOptions) (bool, error) {
	o.startMu.Lock()
	r, err := o.begin(so)
	o.startMu.Unlock()
	if err != nil {
		return false, err
	}

	if so.Background {
		go o.work(o.baseCtx, r)
		return true, nil
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	unlink := context.AfterFunc(o.baseCtx, stop)
	defer unlink()
	return o.work(ctx, r), nil
}

// begin checks the guards and marks a run as started. Caller holds startMu.
func (o *Orchestrator) begin(so StartOptions) (*run, error) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := o.deps.Trainer.Available(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainerUnavailable, err)
	}
	if o.isTraining.Load() {
		return nil, ErrAlreadyRunning
	}
	fp := o.deps.Dataset.Fingerprint()
	if !so.Force && fp == o.lastTrained() {
		return nil, ErrNothingToDo
	}
	if !o.deps.Dataset.HasEnoughToTrain() {
		return nil, fmt.Errorf("%w: %d examples", ErrInsufficientData, o.deps.Dataset.Stats().Total)
	}

	trigger := so.Trigger
	if trigger == "" {
		trigger = TriggerCLI
	}
	r := &run{
		id:       uuid.NewString(),
		trigger:  trigger,
		forced:   so.Force,
		callback: so.Progress,
		done:     make(chan struct{}),
	}
	r.logger = log.WithRun(r.id).With("component", "training")

	o.shouldStop.Store(false)
	o.mu.Lock()
	o.current = r
	pending, handle := o.recoveryPending, o.recoveryCheckpoint
	o.mu.Unlock()

	o.isTraining.Store(true)
	o.workers.Add(1)
	o.setProgress(r, Progress{Phase: PhaseStarting, Message: "Starting training..."})

	var jopts []journal.Option
	if pending && handle != "" {
		jopts = append(jopts, journal.WithCheckpoint(handle))
	}
	if _, err := o.deps.Journal.Write(journal.StatusInProgress, jopts...); err != nil {
		r.logger.Error("failed to journal training start", "error", err)
	}

	stats := o.deps.Dataset.Stats()
	if o.deps.History != nil {
		id, err := o.deps.History.Begin(context.Background(), history.BeginRequest{
			ID:          r.id,
			Trigger:     trigger,
			Forced:      so.Force,
			Fingerprint: fp,
			Examples:    stats.Total,
		})
		if err != nil {
			r.logger.Warn("failed to record run start", "error", err)
		}
		r.historyID = id
	}

	r.logger.Info("training started", "trigger", trigger, "forced", so.Force, "background", so.Background, "examples", stats.Total)
	o.publish(events.TypeStarted, map[string]any{"run_id": r.id, "trigger": trigger, "forced": so.Force})
	return r, nil
}

func (o *Orchestrator) work(ctx context.Context, r *run) (ok bool) {
	defer o.workers.Done()
	o.alive.Add(1)
	defer o.alive.Add(-1)

	res := result{status: history.StatusFailed}
	defer func() {
		if p := recover(); p != nil {
			res = o.fail(r, fmt.Errorf("panic in training worker: %v", p))
			ok = false
		}
		o.finish(r, res)
	}()

	res = o.execute(ctx, r)
	return res.status == history.StatusCompleted
}

func (o *Orchestrator) execute(ctx context.Context, r *run) result {
	o.setProgress(r, Progress{Phase: PhasePreparing, Message: "Preparing training data..."})
	samples, fp := o.deps.Dataset.Snapshot()
	labels := NewLabelMap(dataset.Roles)

	o.setProgress(r, Progress{Phase: PhaseTokenizing, Message: fmt.Sprintf("Tokenizing %d examples...", len(samples))})
	resume := o.resolveResume(r)

	ws, err := o.scratch.Create(context.WithoutCancel(ctx), r.id)
	if err != nil {
		return o.fail(r, fmt.Errorf("create scratch dir: %w", err))
	}
	defer func() {
		if err := o.scratch.Remove(r.id); err != nil {
			r.logger.Warn("failed to remove scratch dir", "path", ws.Dir, "error", err)
		}
	}()

	job := Job{
		RunID:         r.id,
		Samples:       samples,
		LabelMap:      labels,
		ResumeFrom:    resume,
		CheckpointDir: o.deps.Checkpoints.Dir(),
		OutputDir:     filepath.Join(ws.Dir, "model"),
	}
	out, err := o.deps.Trainer.Run(ctx, job, o.hooks(r))
	switch {
	case err != nil && ctx.Err() != nil:
		r.logger.Warn("training cancelled", "error", err)
		return o.interrupt(r, "Training cancelled; it will resume from the last checkpoint", history.StatusInterrupted)
	case err != nil:
		return o.fail(r, err)
	case out.Stopped:
		return o.interrupt(r, "Training stopped; it will resume from the last checkpoint", history.StatusStopped)
	}
	return o.complete(ctx, r, out, Artifact{
		RunID:       r.id,
		Dir:         out.ArtifactDir,
		LabelMap:    labels,
		Fingerprint: fp,
		Examples:    len(samples),
		Metrics:     out.Metrics,
	})
}

// resolveResume picks the pending recovery checkpoint if it still exists,
// else the newest checkpoint on disk, and patches it so the trainer keeps
// working. A patch failure starts the run fresh.
func (o *Orchestrator) resolveResume(r *run) string {
	o.mu.Lock()
	pending, handle := o.recoveryPending, o.recoveryCheckpoint
	o.mu.Unlock()

	candidate := ""
	if pending && handle != "" && checkpoint.Exists(handle) {
		candidate = handle
	} else {
		if pending {
			r.logger.Warn("recovery checkpoint is gone, falling back to the latest one", "checkpoint", handle)
		}
		latest, ok, err := o.deps.Checkpoints.FindLatest()
		if err != nil {
			r.logger.Warn("checkpoint scan failed, starting fresh", "error", err)
		} else if ok {
			candidate = latest
		}
	}
	if candidate == "" {
		r.logger.Info("no checkpoint to resume from, starting fresh")
		return ""
	}

	res, err := checkpoint.PatchResumeState(candidate, o.opts.ContinueThreshold)
	if err != nil {
		r.logger.Warn("could not patch resume checkpoint, starting fresh instead", "checkpoint", candidate, "error", err)
		return ""
	}
	if res.Patched {
		r.logger.Info("resume checkpoint rewound so training continues",
			"checkpoint", candidate, "original_epoch", res.OriginalEpoch, "epoch", res.Epoch, "step", res.Step)
	}

	r.mu.Lock()
	r.lastGood = candidate
	r.mu.Unlock()
	if o.deps.History != nil && r.historyID != "" {
		if err := o.deps.History.SetResumeFrom(context.Background(), r.historyID, candidate); err != nil {
			r.logger.Warn("failed to record resume checkpoint", "error", err)
		}
	}
	r.logger.Info("resuming from checkpoint", "checkpoint", candidate)
	return candidate
}

func (o *Orchestrator) hooks(r *run) Hooks {
	return Hooks{
		OnCheckpoint: func(step int, epoch float64, handle string) {
			r.mu.Lock()
			r.lastGood = handle
			stopping := r.stopJournaled
			r.mu.Unlock()
			// A checkpoint saved on the way out of a stop keeps the run interrupted.
			status := journal.StatusInProgress
			if stopping {
				status = journal.StatusInterrupted
			}
			o.journalWrite(r, status, journal.WithCheckpoint(handle), journal.WithProgress(epoch, step))
			if o.deps.History != nil && r.historyID != "" {
				if err := o.deps.History.UpdateCheckpoint(context.Background(), r.historyID, handle, step, epoch); err != nil {
					r.logger.Warn("failed to record checkpoint", "error", err)
				}
			}
			r.logger.Debug("checkpoint saved", "step", step, "epoch", epoch, "checkpoint", handle)
			o.setProgress(r, Progress{
				Phase:   PhaseRunning,
				Message: fmt.Sprintf("Checkpoint saved at step %d", step),
				Step:    step,
				Epoch:   epoch,
			})
		},
		OnProgress: func(step int, epoch float64) bool {
			o.setProgress(r, Progress{
				Phase:   PhaseRunning,
				Message: fmt.Sprintf("Training: epoch %.2f, step %d", epoch, step),
				Step:    step,
				Epoch:   epoch,
			})
			if !o.shouldStop.Load() && !r.abandoned.Load() {
				return true
			}

			r.mu.Lock()
			first := !r.stopJournaled
			r.stopJournaled = true
			handle := r.lastGood
			r.mu.Unlock()
			if first {
				jopts := []journal.Option{journal.WithProgress(epoch, step)}
				if handle != "" {
					jopts = append(jopts, journal.WithCheckpoint(handle))
				}
				o.journalWrite(r, journal.StatusInterrupted, jopts...)
				r.logger.Info("asking trainer to stop", "step", step, "epoch", epoch, "checkpoint", handle)
			}
			return false
		},
	}
}

func (o *Orchestrator) complete(ctx context.Context, r *run, out Outcome, a Artifact) result {
	if out.ArtifactDir == "" {
		return o.notExported(r, errors.New("trainer reported no artifact directory"))
	}

	// A shutdown after the trainer finished should not throw the model away.
	pub, err := o.deps.Publisher.Publish(context.WithoutCancel(ctx), a)
	if err != nil {
		return o.notExported(r, err)
	}

	o.mu.Lock()
	o.trainedFingerprint = a.Fingerprint
	o.mu.Unlock()

	if o.owns(r) {
		o.clearJournal()
		o.mu.Lock()
		o.recoveryPending = false
		o.recoveryCheckpoint = ""
		o.mu.Unlock()
		if n, err := o.deps.Checkpoints.Purge(); err != nil {
			r.logger.Warn("failed to purge checkpoints", "error", err)
		} else if n > 0 {
			r.logger.Info("checkpoints purged", "count", n)
		}
	}

	r.logger.Info("training completed", "model_dir", pub.Dir, "examples", a.Examples)
	o.setProgress(r, Progress{Phase: PhaseCompleted, Message: "Training completed successfully"})
	return result{status: history.StatusCompleted, artifactDir: pub.Dir}
}

func (o *Orchestrator) notExported(r *run, err error) result {
	r.logger.Error("training finished but the model was not published", "error", err)
	o.journalWrite(r, journal.StatusCompletedNoArtifactExport)
	o.setProgress(r, Progress{Phase: PhaseError, Message: "Training finished but the model could not be saved: " + err.Error()})
	return result{status: history.StatusNotExported, err: err}
}

func (o *Orchestrator) fail(r *run, err error) result {
	r.logger.Error("training failed", "error", err)
	var jopts []journal.Option
	if handle := r.checkpoint(); handle != "" {
		jopts = append(jopts, journal.WithCheckpoint(handle))
	}
	o.journalWrite(r, journal.StatusFailed, jopts...)
	o.setProgress(r, Progress{Phase: PhaseError, Message: "Training failed: " + err.Error()})
	return result{status: history.StatusFailed, err: err}
}

// interrupt ends a run that can be resumed later. The journal keeps the last
// known good checkpoint.
func (o *Orchestrator) interrupt(r *run, msg string, status history.Status) result {
	r.mu.Lock()
	journaled := r.stopJournaled
	handle := r.lastGood
	r.mu.Unlock()
	var jopts []journal.Option
	if handle != "" && !journaled {
		jopts = append(jopts, journal.WithCheckpoint(handle))
	}
	// Without a checkpoint option the journal carries forward the recorded
	// checkpoint and progress.
	o.journalWrite(r, journal.StatusInterrupted, jopts...)
	r.logger.Info("training interrupted", "checkpoint", handle)
	o.setProgress(r, Progress{Phase: PhaseInterrupted, Message: msg})
	return result{status: status}
}

func (o *Orchestrator) finish(r *run, res result) {
	if o.deps.History != nil && r.historyID != "" {
		req := history.FinishRequest{Status: res.status, ArtifactDir: res.artifactDir}
		if res.err != nil {
			req.Error = res.err.Error()
		}
		if err := o.deps.History.Finish(context.Background(), r.historyID, req); err != nil {
			r.logger.Warn("failed to record run end", "error", err)
		}
	}
	payload := map[string]any{"run_id": r.id, "status": res.status}
	if res.err != nil {
		payload["error"] = res.err.Error()
	}
	o.publish(events.TypeFinished, payload)

	if o.owns(r) {
		o.isTraining.Store(false)
	}
	r.signal()
}

// StopGracefully asks the running job to stop at its next safe point and
// waits up to timeout. On timeout the run is marked interrupted locally and
// StopForced is returned; the worker may still be winding down.
func (o *Orchestrator) StopGracefully(timeout time.Duration) StopOutcome {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r == nil || !o.isTraining.Load() {
		return StopNotRunning
	}

	o.shouldStop.Store(true)
	r.logger.Info("graceful stop requested", "timeout", timeout)
	o.publish(events.TypeStopRequested, map[string]any{"run_id": r.id})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return StopConfirmed
	case <-timer.C:
	}
	select {
	case <-r.done:
		return StopConfirmed
	default:
	}

	r.logger.Warn("worker did not stop in time, marking run interrupted", "timeout", timeout)
	o.journalWrite(r, journal.StatusInterrupted)
	o.setProgress(r, Progress{Phase: PhaseInterrupted, Message: "Stop timed out; training marked as interrupted"})
	if o.owns(r) {
		o.isTraining.Store(false)
	}
	r.abandoned.Store(true)
	r.signal()
	return StopForced
}

// Shutdown refuses new runs, stops the current one and waits for the worker.
// If the worker is still alive when timeout expires its context is cancelled
// and Shutdown waits up to CancelGrace more.
func (o *Orchestrator) Shutdown(timeout time.Duration) error {
	o.startMu.Lock()
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.startMu.Unlock()

	deadline := time.Now().Add(timeout)
	outcome := o.StopGracefully(timeout)

	joined := make(chan struct{})
	go func() {
		o.workers.Wait()
		close(joined)
	}()
	if waitFor(joined, time.Until(deadline)) {
		o.cancel()
		return nil
	}

	o.logger.Warn("training worker still running at shutdown, cancelling it", "stop", outcome)
	o.cancel()
	if waitFor(joined, o.opts.CancelGrace) {
		return nil
	}
	return fmt.Errorf("training worker did not exit within %s of cancellation", o.opts.CancelGrace)
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// Status returns a consistent view of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	pending, handle := o.recoveryPending, o.recoveryCheckpoint
	var runID string
	if o.current != nil {
		runID = o.current.id
	}
	o.mu.Unlock()

	return Status{
		IsTraining:         o.isTraining.Load(),
		Progress:           *o.progress.Load(),
		WorkerAlive:        o.alive.Load() > 0,
		RecoveryPending:    pending,
		RecoveryCheckpoint: handle,
		RunID:              runID,
	}
}

// NeedsTraining reports whether the dataset differs from the one the
// published model was trained on.
func (o *Orchestrator) NeedsTraining() bool {
	return o.deps.Dataset.Fingerprint() != o.lastTrained()
}

// Done returns a channel closed when the current run ends, or nil when no
// run has been started.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	return o.current.done
}

func (o *Orchestrator) lastTrained() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.trainedFingerprint
}

// owns reports whether r is still the run the orchestrator's shared state
// belongs to.
func (o *Orchestrator) owns(r *run) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current == r && !r.abandoned.Load()
}

func (o *Orchestrator) journalWrite(r *run, status journal.Status, opts ...journal.Option) {
	if !o.owns(r) {
		r.logger.Debug("skipping journal write for superseded run", "status", status)
		return
	}
	if _, err := o.deps.Journal.Write(status, opts...); err != nil {
		r.logger.Error("journal write failed", "status", status, "error", err)
	}
}

func (o *Orchestrator) setProgress(r *run, p Progress) {
	p.RunID = r.id
	p.UpdatedAt = o.opts.Now().UTC()
	if r.callback != nil {
		r.callback(p)
	}
	if !o.owns(r) {
		return
	}
	o.progress.Store(&p)
	o.publish(events.TypeProgress, p)
}

func (o *Orchestrator) publish(eventType string, data any) {
	if o.deps.Events != nil {
		o.deps.Events.Publish(eventType, data)
	}
}
