package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dsj7419/qa-doc-convert/internal/log"
	"github.com/dsj7419/qa-doc-convert/internal/protocol"
	"github.com/dsj7419/qa-doc-convert/internal/training"
)

const (
	// maxStderrBytes caps the amount of stderr captured from the trainer.
	maxStderrBytes = 64 * 1024

	// defaultGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	defaultGracePeriod = 5 * time.Second
)

// Error is a trainer failure: spawn, protocol, reported error or a process
// that exited without a result.
type Error struct {
	Msg      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := "trainer: " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures an Exec trainer.
type Options struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	Epochs          float64
	BatchSize       int
	CheckpointEvery int

	// KillGrace is the wait between SIGTERM and SIGKILL. Zero means 5s.
	KillGrace time.Duration
}

// Exec is a training.Trainer backed by a subprocess.
type Exec struct {
	opts   Options
	logger *slog.Logger
}

var _ training.Trainer = (*Exec)(nil)

// New creates an Exec trainer.
func New(opts Options) *Exec {
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultGracePeriod
	}
	return &Exec{opts: opts, logger: log.WithComponent("trainer")}
}

// Available checks that the trainer command resolves to an executable.
func (e *Exec) Available() error {
	if e.opts.Command == "" {
		return errors.New("no trainer command configured")
	}
	if _, err := exec.LookPath(e.opts.Command); err != nil {
		return fmt.Errorf("trainer command %q: %w", e.opts.Command, err)
	}
	return nil
}

// Run spawns the trainer and blocks until it exits. Hooks are invoked from a
// reader goroutine in message order.
func (e *Exec) Run(ctx context.Context, job training.Job, hooks training.Hooks) (training.Outcome, error) {
	logger := e.logger.With("run_id", job.RunID)

	req := &protocol.Request{
		Protocol:        protocol.Version,
		Type:            protocol.TypeRun,
		RunID:           job.RunID,
		Samples:         make([]protocol.Sample, 0, len(job.Samples)),
		LabelMap:        job.LabelMap.Strings(),
		ResumeFrom:      job.ResumeFrom,
		CheckpointDir:   job.CheckpointDir,
		OutputDir:       job.OutputDir,
		Epochs:          e.opts.Epochs,
		BatchSize:       e.opts.BatchSize,
		CheckpointEvery: e.opts.CheckpointEvery,
	}
	for _, s := range job.Samples {
		req.Samples = append(req.Samples, protocol.Sample{Text: s.Text, Label: string(s.Role)})
	}

	// Don't use CommandContext - termination is managed below.
	cmd := exec.Command(e.opts.Command, e.opts.Args...)
	cmd.Dir = e.opts.Dir
	cmd.Env = e.environ()
	cmd.WaitDelay = e.opts.KillGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return training.Outcome{}, &Error{Msg: "create stdin pipe", Err: err}
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	logger.Debug("spawning trainer", "command", e.opts.Command, "resume_from", job.ResumeFrom, "samples", len(job.Samples))
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return training.Outcome{}, &Error{Msg: "start process", Err: err}
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		waitErr <- err
	}()

	sess := newSession(stdin, logger, hooks)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		sess.read(pr)
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		sess.write(req)
	}()

	var exitErr error
	cancelled := false
	select {
	case exitErr = <-waitErr:
	case <-ctx.Done():
		cancelled = true
		exitErr = e.terminate(cmd, waitErr, logger)
	}
	<-readDone
	sess.finish()
	<-writeDone
	_ = stdin.Close()

	exitCode := 0
	var ee *exec.ExitError
	if errors.As(exitErr, &ee) {
		exitCode = ee.ExitCode()
	}

	if cancelled {
		return training.Outcome{}, &Error{Msg: "run cancelled", ExitCode: exitCode, Stderr: stderr.String(), Err: ctx.Err()}
	}

	res := sess.result
	if res == nil {
		msg := "exited without a result"
		if werr := sess.writeErr; werr != nil && exitErr == nil {
			return training.Outcome{}, &Error{Msg: msg, ExitCode: exitCode, Stderr: stderr.String(), Err: werr}
		}
		return training.Outcome{}, &Error{Msg: msg, ExitCode: exitCode, Stderr: stderr.String(), Err: exitErr}
	}
	if exitErr != nil {
		logger.Warn("trainer exited with non-zero status after result", "exit_code", exitCode, "status", res.Status)
	}

	switch res.Status {
	case protocol.StatusCompleted:
		return training.Outcome{ArtifactDir: res.ArtifactDir, Metrics: res.Metrics}, nil
	case protocol.StatusStopped:
		return training.Outcome{Stopped: true, Metrics: res.Metrics}, nil
	default:
		return training.Outcome{}, &Error{Msg: res.Error, ExitCode: exitCode, Stderr: stderr.String()}
	}
}

// terminate sends SIGTERM, then SIGKILL after the grace period, and returns
// the process exit error.
func (e *Exec) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) error {
	logger.Warn("trainer cancelled, sending SIGTERM")
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(e.opts.KillGrace)
	defer grace.Stop()

	select {
	case err := <-waitErr:
		logger.Info("trainer exited after SIGTERM")
		return err
	case <-grace.C:
		logger.Warn("trainer did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		return <-waitErr
	}
}

func (e *Exec) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(e.opts.Env))
	for k := range e.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.opts.Env[k])
	}
	return env
}

// session holds the per-run protocol state shared by the writer and reader.
type session struct {
	stdin  io.Writer
	logger *slog.Logger
	hooks  training.Hooks

	stopOnce sync.Once
	stopCh   chan struct{}
	doneOnce sync.Once
	doneCh   chan struct{}

	// writeErr is set by the writer goroutine before writeDone closes.
	writeErr error
	// result is only touched by the reader goroutine until readDone.
	result *protocol.Message
}

func newSession(stdin io.Writer, logger *slog.Logger, hooks training.Hooks) *session {
	return &session{
		stdin:  stdin,
		logger: logger,
		hooks:  hooks,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// write sends the run request, then a stop line if one is requested before
// the run finishes. Writes happen only here, so a trainer that is slow to
// drain stdin never blocks the reader.
func (s *session) write(req *protocol.Request) {
	if err := protocol.EncodeRequest(s.stdin, req); err != nil {
		s.logger.Warn("failed to write run request", "error", err)
		s.writeErr = err
		return
	}
	select {
	case <-s.stopCh:
		if err := protocol.EncodeStop(s.stdin); err != nil {
			s.logger.Warn("failed to send stop to trainer", "error", err)
			return
		}
		s.logger.Info("stop requested")
	case <-s.doneCh:
	}
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *session) finish() {
	s.doneOnce.Do(func() { close(s.doneCh) })
}

func (s *session) read(r io.Reader) {
	dec := protocol.NewDecoder(r)
	for {
		msg, raw, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if errors.Is(err, protocol.ErrInvalidMessage) {
			s.logger.Warn("skipping invalid trainer output", "error", err, "line", truncate(string(raw), 512))
			continue
		}
		if err != nil {
			s.logger.Error("trainer output stream failed", "error", err)
			// Keep draining so the process is never blocked on a full pipe.
			_, _ = io.Copy(io.Discard, r)
			return
		}
		s.handle(msg)
	}
}

func (s *session) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeProgress:
		if s.hooks.OnProgress != nil && !s.hooks.OnProgress(msg.Step, msg.Epoch) {
			s.requestStop()
		}
	case protocol.TypeCheckpoint:
		if s.hooks.OnCheckpoint != nil {
			s.hooks.OnCheckpoint(msg.Step, msg.Epoch, msg.Checkpoint)
		}
	case protocol.TypeLog:
		s.logger.Log(context.Background(), log.ParseLevel(msg.Level), msg.Message, "source", "trainer")
		if s.hooks.OnLog != nil {
			s.hooks.OnLog(msg.Level, msg.Message)
		}
	case protocol.TypeResult:
		if s.result != nil {
			s.logger.Warn("ignoring duplicate trainer result", "status", msg.Status)
			return
		}
		s.result = msg
	}
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := c.limit - len(c.buf); room > 0 {
		if len(p) > room {
			c.buf = append(c.buf, p[:room]...)
		} else {
			c.buf = append(c.buf, p...)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
