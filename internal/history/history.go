// Package history records training runs in sqlite so that past attempts,
// their checkpoints and their failures survive restarts.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxErrorBytes caps the stored error text.
const maxErrorBytes = 64 * 1024

const runColumns = `id, trigger, status, forced, fingerprint, examples, resume_from,
  last_checkpoint, last_step, last_epoch, started_at, finished_at, error, artifact_dir`

// Store reads and writes training_runs.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Begin inserts a running row and returns its ID.
func (s *Store) Begin(ctx context.Context, req BeginRequest) (string, error) {
	if req.Trigger == "" {
		return "", fmt.Errorf("trigger is empty")
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	var resume any
	if req.ResumeFrom != "" {
		resume = req.ResumeFrom
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO training_runs(id, trigger, status, forced, fingerprint, examples, resume_from, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.Trigger, StatusRunning, req.Forced, req.Fingerprint, req.Examples, resume, s.stamp())
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// UpdateCheckpoint records the latest checkpoint reached by a running run.
func (s *Store) UpdateCheckpoint(ctx context.Context, id, handle string, step int, epoch float64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE training_runs
SET last_checkpoint = ?, last_step = ?, last_epoch = ?
WHERE id = ?;
`, handle, step, epoch, id)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	return requireRow(res, id)
}

// SetResumeFrom records the checkpoint a run resumed from.
func (s *Store) SetResumeFrom(ctx context.Context, id, handle string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE training_runs SET resume_from = ? WHERE id = ?;`, handle, id)
	if err != nil {
		return fmt.Errorf("set resume checkpoint: %w", err)
	}
	return requireRow(res, id)
}

// Finish marks a run terminal.
func (s *Store) Finish(ctx context.Context, id string, req FinishRequest) error {
	if !req.Status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", req.Status)
	}
	var errText, artifact any
	if req.Error != "" {
		e := req.Error
		if len(e) > maxErrorBytes {
			e = e[:maxErrorBytes]
		}
		errText = e
	}
	if req.ArtifactDir != "" {
		artifact = req.ArtifactDir
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE training_runs
SET status = ?, finished_at = ?, error = ?, artifact_dir = ?
WHERE id = ?;
`, req.Status, s.stamp(), errText, artifact, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return requireRow(res, id)
}

// RecoverOrphans marks rows left running by a crashed process as
// interrupted and returns how many were changed.
func (s *Store) RecoverOrphans(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE training_runs
SET status = ?, finished_at = ?, error = COALESCE(error, 'process exited while training')
WHERE status = ?;
`, StatusInterrupted, s.stamp(), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover orphaned runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Get loads one run.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM training_runs WHERE id = ?;`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM training_runs
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r           Run
		statusS     string
		startedAtS  string
		resumeFrom  sql.NullString
		checkpoint  sql.NullString
		lastStep    sql.NullInt64
		lastEpoch   sql.NullFloat64
		finishedAtS sql.NullString
		errText     sql.NullString
		artifactDir sql.NullString
	)
	err := sc.Scan(
		&r.ID, &r.Trigger, &statusS, &r.Forced, &r.Fingerprint, &r.Examples, &resumeFrom,
		&checkpoint, &lastStep, &lastEpoch, &startedAtS, &finishedAtS, &errText, &artifactDir,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	r.Status = Status(statusS)
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		r.StartedAt = t
	}
	if finishedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAtS.String); err == nil {
			r.FinishedAt = &t
		}
	}
	if resumeFrom.Valid {
		r.ResumeFrom = &resumeFrom.String
	}
	if checkpoint.Valid {
		r.LastCheckpoint = &checkpoint.String
	}
	if lastStep.Valid {
		v := int(lastStep.Int64)
		r.LastStep = &v
	}
	if lastEpoch.Valid {
		r.LastEpoch = &lastEpoch.Float64
	}
	if errText.Valid {
		r.Error = &errText.String
	}
	if artifactDir.Valid {
		r.ArtifactDir = &artifactDir.String
	}
	return &r, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
