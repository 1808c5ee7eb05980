package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event kinds recorded in the append-only session event log.
const (
	EventJoin       = "join"
	EventDisconnect = "disconnect"
	EventMedia      = "media"
	EventKick       = "kick"
	EventAdmit      = "admit"
	EventDeny       = "deny"
	EventChat       = "chat"
)

// Event is one append-only audit log entry for a session. Never mutated.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	SessionID     uuid.UUID       `json:"session_id"`
	ParticipantID *uuid.UUID      `json:"participant_id,omitempty"`
	Role          string          `json:"role,omitempty"`
	Kind          string          `json:"kind"`
	Data          json.RawMessage `json:"data,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
