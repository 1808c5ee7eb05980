package live

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gradus-edu/live-backend/internal/models"
)

// SessionUpdate carries partial session updates. Nil pointers leave the
// corresponding column untouched. ClearScheduledFor nulls scheduled_for;
// empty strings on the clearable text fields (course linkage, passcode hash)
// null the column.
type SessionUpdate struct {
	Title                   *string
	ScheduledFor            *time.Time
	ClearScheduledFor       bool
	Status                  *string
	StartedAt               *time.Time
	EndedAt                 *time.Time
	CourseID                *string
	CourseName              *string
	CourseSlug              *string
	AllowStudentAudio       *bool
	AllowStudentVideo       *bool
	AllowStudentScreenShare *bool
	WaitingRoomEnabled      *bool
	Locked                  *bool
	PasscodeHash            *string
	MeetingToken            *string
}

// VerifyResult is the outcome of a signaling-key check. A failure is
// constant-shape: Valid=false with nil Session/Participant, regardless of
// which of session/participant/key was wrong.
type VerifyResult struct {
	Valid       bool
	Session     *models.Session
	Participant *models.Participant
}

// Store is durable access to sessions, participants, rooms, chat messages,
// recordings, and the append-only event log. Pure data access; business
// rules live in the Service.
type Store interface {
	// CreateSession fills ID, HostSecret, MeetingToken, Status and timestamps.
	CreateSession(ctx context.Context, s *models.Session) error
	// UpdateSession applies a partial update; ErrSessionNotFound if absent.
	UpdateSession(ctx context.Context, id uuid.UUID, upd SessionUpdate) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// ListSessions returns up to limit most-recent sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]models.Session, error)

	// AddParticipant fills ID, SignalingKey and timestamps, and touches the
	// session's last activity. ErrSessionNotFound if the session is absent.
	AddParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (*models.Participant, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	SetParticipantConnection(ctx context.Context, sessionID, participantID uuid.UUID, connected bool) error
	SetParticipantWaiting(ctx context.Context, sessionID, participantID uuid.UUID, waiting bool) error
	SetParticipantRoom(ctx context.Context, sessionID, participantID uuid.UUID, roomID *uuid.UUID) error
	// TouchParticipant refreshes last_seen_at (liveness pings).
	TouchParticipant(ctx context.Context, sessionID, participantID uuid.UUID) error
	// RemoveParticipant deletes the row and clears the session's screen-share
	// owner if this participant held it. Returns false if nothing was removed.
	RemoveParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (bool, error)

	// VerifyParticipantKey is the sole admission check for the signaling
	// channel. Mismatches of any kind return the same zero-value result.
	VerifyParticipantKey(ctx context.Context, sessionID, participantID uuid.UUID, key string) (VerifyResult, error)

	// SetScreenShareOwner claims ownership unconditionally (last writer wins).
	SetScreenShareOwner(ctx context.Context, sessionID, participantID uuid.UUID) error
	// ClearScreenShareOwnerIfMatches clears only if the stored owner still
	// equals participantID (compare-and-clear).
	ClearScreenShareOwnerIfMatches(ctx context.Context, sessionID, participantID uuid.UUID) error

	// AddBannedUser unions userID into the session's banned set.
	AddBannedUser(ctx context.Context, sessionID uuid.UUID, userID string) error

	CreateRoom(ctx context.Context, room *models.Room) error
	ListRooms(ctx context.Context, sessionID uuid.UUID) ([]models.Room, error)

	AddChatMessage(ctx context.Context, msg *models.ChatMessage) error
	ListChatMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error)

	CreateRecording(ctx context.Context, rec *models.Recording) error
	GetRecording(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	UpdateRecordingUpload(ctx context.Context, id uuid.UUID, s3URL, s3Key string, bytes int64, status string) error
	ListRecordings(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error)

	// LogEvent appends to the audit log; entries are never mutated.
	LogEvent(ctx context.Context, ev *models.Event) error
	ListEvents(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Event, error)
}
