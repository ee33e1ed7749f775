package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/history"
	"github.com/dsj7419/qa-doc-convert/internal/training"
)

const maxBodyBytes = 8 << 20

// handleHealthz handles GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		IsTraining:    s.ctl.Status().IsTraining,
	})
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		Status:        s.ctl.Status(),
		NeedsTraining: s.ctl.NeedsTraining(),
		HasEnoughData: s.ctl.HasEnoughData(),
	})
}

// handleStats handles GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatsResponse{
		Stats:         s.ctl.Stats(),
		HasEnoughData: s.ctl.HasEnoughData(),
	})
}

// handleAddExample handles POST /examples
func (s *Server) handleAddExample(w http.ResponseWriter, r *http.Request) {
	var req AddExampleRequest
	if !s.decode(w, r, &req) {
		return
	}
	role, err := dataset.ParseRole(req.Role)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	source, err := dataset.ParseSource(req.Source)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	added, err := s.ctl.AddExample(req.Text, role, source)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, AddExampleResponse{Added: added, Stats: s.ctl.Stats()})
}

// handleCollect handles POST /examples/collect
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req CollectRequest
	if !s.decode(w, r, &req) {
		return
	}

	messages := []string{}
	res, err := s.ctl.Collect(req.Items, func(msg string) {
		messages = append(messages, msg)
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CollectResponse{
		CollectResult: res,
		Messages:      messages,
		Stats:         s.ctl.Stats(),
	})
}

// handleStart handles POST /training/start. Training always runs in the
// background; progress is read from /status or /events.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}

	started, err := s.ctl.Start(r.Context(), training.StartOptions{
		Force:      req.Force,
		Background: true,
		Trigger:    training.TriggerAPI,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, StartResponse{
		Started: started,
		RunID:   s.ctl.Status().RunID,
	})
}

// handleStop handles POST /training/stop. It blocks for at most the timeout.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	timeout := s.config.StopTimeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timeout %q", req.Timeout))
			return
		}
		timeout = d
	}

	respondJSON(w, http.StatusOK, StopResponse{Outcome: s.ctl.StopGracefully(timeout)})
}

// handleReset handles POST /training/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Reset(); err != nil {
		s.writeFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ResetResponse{Status: "reset"})
}

// handleListRuns handles GET /runs?limit=N
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	respondJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// handleGetRun handles GET /runs/{runID}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	run, err := s.runs.Get(r.Context(), id)
	if errors.Is(err, history.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get run", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// statusFor maps orchestrator and dataset errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, training.ErrAlreadyRunning), errors.Is(err, training.ErrNothingToDo):
		return http.StatusConflict
	case errors.Is(err, training.ErrInsufficientData), errors.Is(err, dataset.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, training.ErrTrainerUnavailable), errors.Is(err, training.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeError(w, code, err.Error())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// decodeOptional accepts an empty body as the zero request.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
