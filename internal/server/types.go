package server

import (
	"encoding/json"
	"strings"
	"time"

	"whisperd/internal/models"
)

// Setup states reported by the health check.
const (
	StateSettingUp   = "SETTING_UP"
	StateReady       = "READY"
	StateSetupFailed = "SETUP_FAILED"
)

// Prediction statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// HealthResponse is the body of GET /health-check.
type HealthResponse struct {
	Status string          `json:"status"`
	Setup  models.Snapshot `json:"setup"`
	Error  string          `json:"error,omitempty"`
}

// PredictionRequest is the body of POST /predictions.
type PredictionRequest struct {
	ID    string          `json:"id,omitempty"`
	Input PredictionInput `json:"input"`
}

// PredictionInput carries the predict parameters.
type PredictionInput struct {
	Audio    string      `json:"audio"`
	Mode     string      `json:"mode,omitempty"`
	Segments rawSegments `json:"segments,omitempty"`
	Language string      `json:"language,omitempty"`
}

// PredictionResponse is the body of every POST /predictions reply.
type PredictionResponse struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Output      string            `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorKind   string            `json:"error_kind,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Metrics     PredictionMetrics `json:"metrics"`
}

// PredictionMetrics reports timings in seconds.
type PredictionMetrics struct {
	PredictTime float64 `json:"predict_time"`
}

// rawSegments accepts segments either as a JSON string holding the array or
// as the array itself.
type rawSegments string

func (r *rawSegments) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*r = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = rawSegments(s)
		return nil
	}
	*r = rawSegments(trimmed)
	return nil
}
