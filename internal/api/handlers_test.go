package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsj7419/qa-doc-convert/internal/auth"
	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/events"
	"github.com/dsj7419/qa-doc-convert/internal/history"
	"github.com/dsj7419/qa-doc-convert/internal/log"
	"github.com/dsj7419/qa-doc-convert/internal/training"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// fakeController implements Controller for testing
type fakeController struct {
	status   training.Status
	stats    dataset.Stats
	enough   bool
	needs    bool
	addFunc  func(text string, role dataset.Role, source dataset.Source) (bool, error)
	startErr error
	outcome  training.StopOutcome
	resetErr error

	startOpts   []training.StartOptions
	stopTimeout time.Duration
}

func (f *fakeController) Status() training.Status { return f.status }
func (f *fakeController) NeedsTraining() bool     { return f.needs }
func (f *fakeController) Stats() dataset.Stats    { return f.stats }
func (f *fakeController) HasEnoughData() bool     { return f.enough }

func (f *fakeController) AddExample(text string, role dataset.Role, source dataset.Source) (bool, error) {
	if f.addFunc == nil {
		return true, nil
	}
	return f.addFunc(text, role, source)
}

func (f *fakeController) Collect(items []dataset.LabeledItem, report func(string)) (dataset.CollectResult, error) {
	report(fmt.Sprintf("Collecting training data from %d items...", len(items)))
	var res dataset.CollectResult
	for _, it := range items {
		if it.Role == "" {
			res.SkippedUndetermined++
		} else {
			res.Added++
		}
	}
	return res, nil
}

func (f *fakeController) Start(ctx context.Context, so training.StartOptions) (bool, error) {
	f.startOpts = append(f.startOpts, so)
	if f.startErr != nil {
		return false, f.startErr
	}
	f.status.IsTraining = true
	f.status.RunID = "run-1"
	return true, nil
}

func (f *fakeController) StopGracefully(timeout time.Duration) training.StopOutcome {
	f.stopTimeout = timeout
	if f.outcome == "" {
		return training.StopNotRunning
	}
	return f.outcome
}

func (f *fakeController) Reset() error { return f.resetErr }

// fakeRuns implements RunLister for testing
type fakeRuns struct {
	runs      []history.Run
	lastLimit int
}

func (f *fakeRuns) Recent(ctx context.Context, limit int) ([]history.Run, error) {
	f.lastLimit = limit
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeRuns) Get(ctx context.Context, id string) (*history.Run, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, history.ErrRunNotFound
}

func newTestServer(cfg Config, ctl *fakeController, runs *fakeRuns) (*Server, *events.Hub) {
	hub := events.NewHub(16)
	if runs == nil {
		runs = &fakeRuns{}
	}
	return New(cfg, ctl, runs, hub, slog.Default()), hub
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	s, _ := newTestServer(Config{APIKey: "secret"}, &fakeController{}, nil)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthzResponse](t, rec).Status)
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	s, _ := newTestServer(Config{APIKey: "secret"}, &fakeController{}, nil)
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, doRequest(t, h, http.MethodGet, "/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(t, h, http.MethodGet, "/status", "wrong", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/status", "secret", nil).Code)
}

func TestOpenWhenNoCredentials(t *testing.T) {
	s, _ := newTestServer(Config{}, &fakeController{}, nil)
	assert.Equal(t, http.StatusOK, doRequest(t, s.Handler(), http.MethodGet, "/stats", "", nil).Code)
}

func TestScopedTokens(t *testing.T) {
	cfg := Config{Tokens: []auth.TokenConfig{
		{Name: "viewer", Token: "ro", Scopes: []string{auth.ScopeTrainingRO}},
		{Name: "labeler", Token: "ds", Scopes: []string{auth.ScopeDatasetRW}},
	}}
	s, _ := newTestServer(cfg, &fakeController{}, nil)
	h := s.Handler()

	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/status", "ro", nil).Code)
	assert.Equal(t, http.StatusForbidden, doRequest(t, h, http.MethodPost, "/training/start", "ro", nil).Code)
	assert.Equal(t, http.StatusForbidden, doRequest(t, h, http.MethodGet, "/stats", "ro", nil).Code)

	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/stats", "ds", nil).Code, "rw implies ro")
	add := AddExampleRequest{Text: "What is the warranty period?", Role: "question"}
	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodPost, "/examples", "ds", add).Code)
	assert.Equal(t, http.StatusForbidden, doRequest(t, h, http.MethodGet, "/status", "ds", nil).Code)
}

func TestStatus(t *testing.T) {
	ctl := &fakeController{
		status: training.Status{
			IsTraining: true,
			Progress:   training.Progress{Phase: training.PhaseRunning, Message: "Training: epoch 0.50, step 10"},
			RunID:      "run-7",
		},
		needs:  true,
		enough: true,
	}
	s, _ := newTestServer(Config{}, ctl, nil)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[StatusResponse](t, rec)
	assert.True(t, got.IsTraining)
	assert.Equal(t, training.PhaseRunning, got.Progress.Phase)
	assert.Equal(t, "run-7", got.RunID)
	assert.True(t, got.NeedsTraining)
	assert.True(t, got.HasEnoughData)
	assert.Contains(t, rec.Body.String(), `"status":"running"`)
}

func TestAddExample(t *testing.T) {
	var gotRole dataset.Role
	var gotSource dataset.Source
	ctl := &fakeController{addFunc: func(text string, role dataset.Role, source dataset.Source) (bool, error) {
		gotRole, gotSource = role, source
		return true, nil
	}}
	s, _ := newTestServer(Config{}, ctl, nil)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPost, "/examples", "", AddExampleRequest{Text: "The warranty lasts two years.", Role: "Answer"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[AddExampleResponse](t, rec).Added)
	assert.Equal(t, dataset.RoleAnswer, gotRole)
	assert.Equal(t, dataset.SourceUserCorrection, gotSource)

	rec = doRequest(t, h, http.MethodPost, "/examples", "", AddExampleRequest{Text: "x", Role: "heading"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, h, http.MethodPost, "/examples", "", AddExampleRequest{Text: "x", Role: "answer", Source: "web"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctl.addFunc = func(string, dataset.Role, dataset.Source) (bool, error) {
		return false, fmt.Errorf("%w: text too short", dataset.ErrValidation)
	}
	rec = doRequest(t, h, http.MethodPost, "/examples", "", AddExampleRequest{Text: "short", Role: "answer"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/examples", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCollect(t *testing.T) {
	s, _ := newTestServer(Config{}, &fakeController{}, nil)
	body := CollectRequest{Items: []dataset.LabeledItem{
		{Text: "How do I reset the device?", Role: dataset.RoleQuestion},
		{Text: "Unclassified paragraph text"},
	}}
	rec := doRequest(t, s.Handler(), http.MethodPost, "/examples/collect", "", body)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[CollectResponse](t, rec)
	assert.Equal(t, 1, got.Added)
	assert.Equal(t, 1, got.SkippedUndetermined)
	assert.Equal(t, []string{"Collecting training data from 2 items..."}, got.Messages)
}

func TestStartMapsGuards(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already running", training.ErrAlreadyRunning, http.StatusConflict},
		{"nothing to do", training.ErrNothingToDo, http.StatusConflict},
		{"insufficient", fmt.Errorf("%w: have 3 examples", training.ErrInsufficientData), http.StatusUnprocessableEntity},
		{"trainer missing", fmt.Errorf("%w: python3 not found", training.ErrTrainerUnavailable), http.StatusServiceUnavailable},
		{"closed", training.ErrClosed, http.StatusServiceUnavailable},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(Config{}, &fakeController{startErr: tt.err}, nil)
			rec := doRequest(t, s.Handler(), http.MethodPost, "/training/start", "", nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error, tt.err.Error())
		})
	}
}

func TestStartRunsInBackground(t *testing.T) {
	ctl := &fakeController{}
	s, _ := newTestServer(Config{}, ctl, nil)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/training/start", "", StartRequest{Force: true})
	require.Equal(t, http.StatusAccepted, rec.Code)

	got := decodeBody[StartResponse](t, rec)
	assert.True(t, got.Started)
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, ctl.startOpts, 1)
	assert.True(t, ctl.startOpts[0].Force)
	assert.True(t, ctl.startOpts[0].Background)
	assert.Equal(t, training.TriggerAPI, ctl.startOpts[0].Trigger)
}

func TestStop(t *testing.T) {
	ctl := &fakeController{outcome: training.StopForced}
	s, _ := newTestServer(Config{StopTimeout: 7 * time.Second}, ctl, nil)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPost, "/training/stop", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, training.StopForced, decodeBody[StopResponse](t, rec).Outcome)
	assert.Equal(t, 7*time.Second, ctl.stopTimeout)

	rec = doRequest(t, h, http.MethodPost, "/training/stop", "", StopRequest{Timeout: "250ms"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 250*time.Millisecond, ctl.stopTimeout)

	rec = doRequest(t, h, http.MethodPost, "/training/stop", "", StopRequest{Timeout: "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReset(t *testing.T) {
	ctl := &fakeController{resetErr: training.ErrAlreadyRunning}
	s, _ := newTestServer(Config{}, ctl, nil)
	h := s.Handler()
	assert.Equal(t, http.StatusConflict, doRequest(t, h, http.MethodPost, "/training/reset", "", nil).Code)

	ctl.resetErr = nil
	rec := doRequest(t, h, http.MethodPost, "/training/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reset", decodeBody[ResetResponse](t, rec).Status)
}

func TestRuns(t *testing.T) {
	runs := &fakeRuns{runs: []history.Run{
		{ID: "b", Status: history.StatusCompleted},
		{ID: "a", Status: history.StatusInterrupted},
	}}
	s, _ := newTestServer(Config{}, &fakeController{}, runs)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodGet, "/runs?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[RunsResponse](t, rec)
	require.Len(t, got.Runs, 1)
	assert.Equal(t, "b", got.Runs[0].ID)
	assert.Equal(t, 1, runs.lastLimit)

	assert.Equal(t, http.StatusBadRequest, doRequest(t, h, http.MethodGet, "/runs?limit=0", "", nil).Code)

	rec = doRequest(t, h, http.MethodGet, "/runs/a", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, history.StatusInterrupted, decodeBody[history.Run](t, rec).Status)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodGet, "/runs/zzz", "", nil).Code)
}
