package watch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsj7419/qa-doc-convert/internal/api"
	"github.com/dsj7419/qa-doc-convert/internal/events"
	"github.com/dsj7419/qa-doc-convert/internal/history"
	"github.com/dsj7419/qa-doc-convert/internal/training"
)

func newModel(t *testing.T) Model {
	t.Helper()
	m := New(context.Background(), api.NewClient("http://127.0.0.1:1", ""), 4)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func progressEvent(t *testing.T, id int64, p training.Progress) eventMsg {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return eventMsg(events.Event{ID: id, Type: events.TypeProgress, At: time.Now(), Data: b})
}

func TestProgressEventUpdatesStatus(t *testing.T) {
	m := newModel(t)
	next, cmd := m.Update(progressEvent(t, 3, training.Progress{
		Phase:   training.PhaseRunning,
		Message: "Training: epoch 2.00, step 40",
		RunID:   "run-abc",
		Step:    40,
		Epoch:   2,
	}))
	m = next.(Model)
	assert.NotNil(t, cmd, "keeps receiving")

	assert.True(t, m.status.IsTraining)
	assert.Equal(t, "run-abc", m.status.RunID)
	assert.Equal(t, int64(3), m.lastID)
	assert.InDelta(t, 0.5, m.percent(), 1e-9)
	assert.True(t, m.connected)

	view := m.View()
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "Training: epoch 2.00, step 40")
	assert.Contains(t, view, "run-abc")
}

func TestTerminalProgressClearsTraining(t *testing.T) {
	m := newModel(t)
	next, _ := m.Update(progressEvent(t, 1, training.Progress{Phase: training.PhaseRunning}))
	next, _ = next.Update(progressEvent(t, 2, training.Progress{Phase: training.PhaseCompleted, Message: "Training completed successfully"}))
	m = next.(Model)

	assert.False(t, m.status.IsTraining)
	assert.Equal(t, 1.0, m.percent())
	assert.Contains(t, m.View(), "COMPLETED")
}

func TestStopKeyWhenIdle(t *testing.T) {
	m := newModel(t)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	assert.Nil(t, cmd)
	assert.Equal(t, "nothing to stop", next.(Model).notice)
}

func TestStreamEndedSchedulesReconnect(t *testing.T) {
	m := newModel(t)
	m.connected = true
	next, cmd := m.Update(streamEndedMsg{lastID: 9})
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.False(t, m.connected)
	assert.Equal(t, int64(9), m.lastID)
	assert.Contains(t, m.View(), "reconnecting")
}

func TestStreamEndedAfterQuitStays(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(ctx, api.NewClient("http://127.0.0.1:1", ""), 1)
	_, cmd := m.Update(streamEndedMsg{})
	assert.Nil(t, cmd)
}

func TestStatusAndRuns(t *testing.T) {
	m := newModel(t)
	next, _ := m.Update(statusMsg(api.StatusResponse{
		Status: training.Status{
			RecoveryPending:    true,
			RecoveryCheckpoint: "checkpoint-50",
		},
		NeedsTraining: true,
	}))
	step := 50
	next, _ = next.Update(runsMsg([]history.Run{{
		ID:        "0123456789abcdef",
		Trigger:   "recovery",
		Status:    history.StatusInterrupted,
		LastStep:  &step,
		StartedAt: time.Now(),
	}}))
	view := next.(Model).View()

	assert.Contains(t, view, "RECOVERY PENDING")
	assert.Contains(t, view, "checkpoint-50")
	assert.Contains(t, view, "new examples since last training")
	assert.Contains(t, view, "01234567")
	assert.Contains(t, view, "interrupted")
}

func TestDescribeEvent(t *testing.T) {
	got := describeEvent(map[string]any{"run_id": "abcdefghijk", "status": "failed", "error": "boom"}, nil)
	assert.Equal(t, "[abcdefgh] failed boom", got)

	got = describeEvent(map[string]any{"total_examples": float64(12)}, nil)
	assert.Equal(t, "12 examples", got)

	got = describeEvent(map[string]any{}, json.RawMessage(`{"x":1}`))
	assert.Equal(t, `{"x":1}`, got)
}

func TestActivityDecay(t *testing.T) {
	var a Activity
	start := time.Now()
	a.OnEvent(start)
	assert.Equal(t, 5, a.dots)
	a.Decay(start.Add(5 * time.Second))
	assert.Equal(t, 3, a.dots)
	a.Decay(start.Add(11 * time.Second))
	assert.Equal(t, 0, a.dots)
}
