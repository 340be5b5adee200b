package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SourceState string

const (
	SourceStateRunning SourceState = "RUNNING"
	SourceStateStopped SourceState = "STOPPED"
	// SourceStateDelivered marks a one-shot source whose data is already in
	// its batch. It is not started again.
	SourceStateDelivered SourceState = "DELIVERED"
)

// Source is a persisted ingest source definition. Each running source feeds
// its own stream batch.
type Source struct {
	ID            uuid.UUID       `db:"id"`
	Type          string          `db:"type"`
	Title         string          `db:"title"`
	Configuration json.RawMessage `db:"configuration"`
	BatchID       uuid.UUID       `db:"batch_id"`
	CreatedAt     time.Time       `db:"created_at"`
	DesiredState  SourceState     `db:"desired_state"`
}
