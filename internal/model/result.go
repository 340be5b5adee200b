package model

import (
	"time"

	"github.com/google/uuid"
)

// ResultRecord is the unit persisted and exported per request.
// Outcome is set for every anomalous verdict; Explanation only when one was produced.
type ResultRecord struct {
	Index       int                 `json:"index"`
	Request     NormalizedRequest   `json:"request"`
	Verdict     Verdict             `json:"verdict"`
	Explanation *Explanation        `json:"explanation,omitempty"`
	Outcome     *ExplanationOutcome `json:"outcome,omitempty"`
}

type BatchStatus string

const (
	BatchRunning   BatchStatus = "RUNNING"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchCancelled BatchStatus = "CANCELLED"
	BatchFailed    BatchStatus = "FAILED"
)

// SkippedRequest is an input that produced no record.
type SkippedRequest struct {
	Index     int    `json:"index"`
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason"`
}

// UnexplainedAnomaly is an anomaly without a generated explanation.
type UnexplainedAnomaly struct {
	Index     int              `json:"index"`
	RequestID string           `json:"request_id"`
	State     ExplanationState `json:"state"`
	Reason    string           `json:"reason"`
}

// BatchReport summarizes one pipeline run.
type BatchReport struct {
	BatchID       uuid.UUID            `json:"batch_id"`
	Source        string               `json:"source"`
	Status        BatchStatus          `json:"status"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
	Total         int                  `json:"total"`
	Succeeded     int                  `json:"succeeded"`
	Anomalies     int                  `json:"anomalies"`
	Threshold     float64              `json:"threshold"`
	SchemaVersion string               `json:"schema_version"`
	ModelVersion  string               `json:"model_version"`
	Skipped       []SkippedRequest     `json:"skipped"`
	Unexplained   []UnexplainedAnomaly `json:"unexplained"`
	Error         string               `json:"error,omitempty"`
}

// Merge folds a later run of the same batch (a stream payload) into r.
func (r *BatchReport) Merge(next BatchReport) {
	r.Total += next.Total
	r.Succeeded += next.Succeeded
	r.Anomalies += next.Anomalies
	r.Skipped = append(r.Skipped, next.Skipped...)
	r.Unexplained = append(r.Unexplained, next.Unexplained...)
	r.FinishedAt = next.FinishedAt
	r.Status = next.Status
	r.Error = next.Error
	r.ModelVersion = next.ModelVersion
	r.SchemaVersion = next.SchemaVersion
	r.Threshold = next.Threshold
}
