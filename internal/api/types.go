package api

import (
	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/history"
	"github.com/dsj7419/qa-doc-convert/internal/training"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	IsTraining    bool   `json:"is_training"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	training.Status
	NeedsTraining bool `json:"needs_training"`
	HasEnoughData bool `json:"has_enough_data"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	dataset.Stats
	HasEnoughData bool `json:"has_enough_data"`
}

// AddExampleRequest is the JSON body for POST /examples.
type AddExampleRequest struct {
	Text   string `json:"text"`
	Role   string `json:"role"`
	Source string `json:"source,omitempty"`
}

// AddExampleResponse reports whether the dataset changed.
type AddExampleResponse struct {
	Added bool          `json:"added"`
	Stats dataset.Stats `json:"stats"`
}

// CollectRequest is the JSON body for POST /examples/collect.
type CollectRequest struct {
	Items []dataset.LabeledItem `json:"items"`
}

// CollectResponse summarizes a collect call.
type CollectResponse struct {
	dataset.CollectResult
	Messages []string      `json:"messages"`
	Stats    dataset.Stats `json:"stats"`
}

// StartRequest is the JSON body for POST /training/start.
type StartRequest struct {
	Force bool `json:"force"`
}

// StartResponse is returned once the worker is spawned.
type StartResponse struct {
	Started bool   `json:"started"`
	RunID   string `json:"run_id,omitempty"`
}

// StopRequest is the JSON body for POST /training/stop. Timeout is a Go
// duration string; empty uses the server default.
type StopRequest struct {
	Timeout string `json:"timeout,omitempty"`
}

// StopResponse reports how the stop ended.
type StopResponse struct {
	Outcome training.StopOutcome `json:"outcome"`
}

// ResetResponse is returned by POST /training/reset.
type ResetResponse struct {
	Status string `json:"status"`
}

// RunsResponse is returned by GET /runs.
type RunsResponse struct {
	Runs []history.Run `json:"runs"`
}
