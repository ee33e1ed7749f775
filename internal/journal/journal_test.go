package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "training_journal.json"))
}

func TestReadMissingReturnsNil(t *testing.T) {
	j := newTestJournal(t)
	rec, err := j.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestWriteAndRead(t *testing.T) {
	j := newTestJournal(t)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	_, err := j.Write(StatusInProgress, WithCheckpoint("/ckpt/checkpoint-50"), WithProgress(0.5, 50))
	require.NoError(t, err)

	rec, err := j.Read()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusInProgress, rec.Status)
	assert.Equal(t, "/ckpt/checkpoint-50", rec.LastCheckpoint)
	require.NotNil(t, rec.Epoch)
	assert.Equal(t, 0.5, *rec.Epoch)
	require.NotNil(t, rec.Step)
	assert.Equal(t, 50, *rec.Step)
	assert.True(t, fixed.Equal(rec.LastUpdate))
}

func TestInterruptedPreservesPreviousCheckpoint(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Write(StatusInProgress, WithCheckpoint("checkpoint-100"), WithProgress(1.0, 100))
	require.NoError(t, err)

	rec, err := j.Write(StatusInterrupted)
	require.NoError(t, err)
	assert.Equal(t, "checkpoint-100", rec.LastCheckpoint)
	require.NotNil(t, rec.Step)
	assert.Equal(t, 100, *rec.Step)

	onDisk, err := j.Read()
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, onDisk.Status)
	assert.Equal(t, "checkpoint-100", onDisk.LastCheckpoint)
}

func TestInterruptedWithNewProgressKeepsCheckpoint(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Write(StatusInProgress, WithCheckpoint("checkpoint-10"), WithProgress(0.1, 10))
	require.NoError(t, err)

	rec, err := j.Write(StatusInterrupted, WithProgress(0.2, 17))
	require.NoError(t, err)
	assert.Equal(t, "checkpoint-10", rec.LastCheckpoint)
	assert.Equal(t, 17, *rec.Step)
	assert.Equal(t, 0.2, *rec.Epoch)
}

func TestOtherStatusesDoNotCarryCheckpoint(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Write(StatusInProgress, WithCheckpoint("checkpoint-10"))
	require.NoError(t, err)

	rec, err := j.Write(StatusFailed)
	require.NoError(t, err)
	assert.Empty(t, rec.LastCheckpoint)
}

func TestExplicitEmptyCheckpointClears(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Write(StatusInProgress, WithCheckpoint("checkpoint-10"))
	require.NoError(t, err)

	rec, err := j.Write(StatusInterrupted, WithCheckpoint(""))
	require.NoError(t, err)
	assert.Empty(t, rec.LastCheckpoint)
}

func TestClear(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Write(StatusInProgress)
	require.NoError(t, err)

	require.NoError(t, j.Clear())
	rec, err := j.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, j.Clear(), "clearing twice is fine")
}

func TestReadCorrupt(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, os.WriteFile(j.Path(), []byte("{"), 0o644))
	_, err := j.Read()
	require.Error(t, err)
}

func TestFileIsHumanReadable(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Write(StatusInProgress, WithCheckpoint("checkpoint-5"), WithProgress(0.25, 5))
	require.NoError(t, err)

	raw, err := os.ReadFile(j.Path())
	require.NoError(t, err)
	for _, key := range []string{`"status": "in_progress"`, `"last_checkpoint": "checkpoint-5"`, `"epoch": 0.25`, `"step": 5`, `"last_update"`} {
		assert.True(t, strings.Contains(string(raw), key), "missing %s in %s", key, raw)
	}
}

func TestResumable(t *testing.T) {
	assert.True(t, StatusInProgress.Resumable())
	assert.True(t, StatusInterrupted.Resumable())
	assert.False(t, StatusFailed.Resumable())
	assert.False(t, StatusCompleted.Resumable())
	assert.False(t, StatusIdle.Resumable())
}
