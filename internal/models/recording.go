package models

import (
	"time"

	"github.com/google/uuid"
)

// Recording lifecycle (spool file -> S3).
const (
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusFailed     = "failed"
)

// Recording is a host-uploaded class recording (spooled locally, moved to S3 by the worker).
type Recording struct {
	ID            uuid.UUID `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	AdminID       string    `json:"admin_id,omitempty"`
	ParticipantID string    `json:"participant_id,omitempty"`
	SpoolPath     string    `json:"-"`
	S3URL         string    `json:"s3_url,omitempty"`
	S3Key         string    `json:"s3_key,omitempty"`
	MimeType      string    `json:"mime_type,omitempty"`
	Bytes         int64     `json:"bytes"`
	DurationMs    int64     `json:"duration_ms"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
