package models

import "time"

type RecordStatus string

const (
	StatusPending         RecordStatus = "pending"
	StatusInFlight        RecordStatus = "in-flight"
	StatusDelivered       RecordStatus = "delivered"
	StatusFailedPermanent RecordStatus = "failed-permanent"
)

// Retryable reports whether a record in this status is picked up by a reconciliation pass.
// In-flight records are only seen here after a crash mid-dispatch.
func (s RecordStatus) Retryable() bool {
	return s == StatusPending || s == StatusInFlight
}

type EmergencyRecord struct {
	ID            string       `json:"id"`
	Latitude      float64      `json:"latitude"`
	Longitude     float64      `json:"longitude"`
	District      string       `json:"district"`
	RiskLevel     string       `json:"risk_level"`
	CreatedAt     time.Time    `json:"created_at"` // FIFO ordering key
	Status        RecordStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"last_error,omitempty"`
	LastAttemptAt *time.Time   `json:"last_attempt_at,omitempty"`
}
