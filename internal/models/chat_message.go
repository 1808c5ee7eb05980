package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one persisted in-class chat line, append-only.
type ChatMessage struct {
	ID            uuid.UUID  `json:"id"`
	SessionID     uuid.UUID  `json:"session_id"`
	ParticipantID *uuid.UUID `json:"participant_id,omitempty"`
	SenderRole    string     `json:"sender_role"`
	DisplayName   string     `json:"display_name"`
	Text          string     `json:"text"`
	CreatedAt     time.Time  `json:"timestamp"`
}
