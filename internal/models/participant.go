package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant roles.
const (
	RoleInstructor = "instructor"
	RoleStudent    = "student"
)

// Participant is one person's membership record in a session.
// Exactly one of UserID/AdminID is set, determined by Role.
// SignalingKey authenticates this participant's single WebSocket connection.
type Participant struct {
	ID           uuid.UUID         `json:"id"`
	SessionID    uuid.UUID         `json:"session_id"`
	Role         string            `json:"role"`
	DisplayName  string            `json:"display_name"`
	UserID       string            `json:"user_id,omitempty"`
	AdminID      string            `json:"admin_id,omitempty"`
	SignalingKey string            `json:"-"`
	Connected    bool              `json:"connected"`
	Waiting      bool              `json:"waiting"`
	RoomID       *uuid.UUID        `json:"room_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	JoinedAt     time.Time         `json:"joined_at"`
	LastSeenAt   time.Time         `json:"last_seen_at"`
}

// Room is a breakout room owned by a session, purely organizational.
type Room struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}
