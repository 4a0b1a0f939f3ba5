package domain

import (
	"time"
)

// TrackStatus enumerates provider task lifecycle states as seen from polling
// clients.
type TrackStatus string

const (
	TrackQueued    TrackStatus = "queued"
	TrackRunning   TrackStatus = "running"
	TrackSucceeded TrackStatus = "succeeded"
	TrackFailed    TrackStatus = "failed"
)

// TrackRetention bounds how long a finished track record is kept for client
// polling before the worker prunes it.
const TrackRetention = 7 * 24 * time.Hour

// Track is the durable, denormalized record of one provider task. Provider
// callbacks only update this record; credits were settled when the task was
// submitted.
type Track struct {
	ID         string
	TaskID     string
	AccountID  string
	Action     string
	Model      string
	Title      string
	Status     TrackStatus
	ResultJSON []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
