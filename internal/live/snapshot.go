package live

import (
	"time"

	"github.com/google/uuid"

	"github.com/gradus-edu/live-backend/internal/models"
)

// SnapshotOptions controls what a snapshot exposes. IncludeHostSecret is only
// ever requested by the authenticated host's own fetch path.
type SnapshotOptions struct {
	IncludeParticipants bool
	IncludeRooms        bool
	IncludeHostSecret   bool
}

// ParticipantSnapshot is the sanitized participant projection.
type ParticipantSnapshot struct {
	ID           uuid.UUID  `json:"id"`
	SessionID    uuid.UUID  `json:"sessionId"`
	Role         string     `json:"role"`
	DisplayName  string     `json:"displayName"`
	UserID       string     `json:"userId,omitempty"`
	AdminID      string     `json:"adminId,omitempty"`
	Connected    bool       `json:"connected"`
	Waiting      bool       `json:"waiting"`
	RoomID       *uuid.UUID `json:"roomId,omitempty"`
	JoinedAt     time.Time  `json:"joinedAt"`
	LastSeenAt   time.Time  `json:"lastSeenAt"`
	SignalingKey string     `json:"signalingKey,omitempty"`
}

// RoomSnapshot is the sanitized breakout-room projection.
type RoomSnapshot struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// SessionSnapshot is the read-only session projection handed to clients.
// RequiresPasscode is derived; the hash itself never leaves the store.
type SessionSnapshot struct {
	ID                      uuid.UUID             `json:"id"`
	Title                   string                `json:"title"`
	Status                  string                `json:"status"`
	ScheduledFor            *time.Time            `json:"scheduledFor"`
	StartedAt               *time.Time            `json:"startedAt"`
	EndedAt                 *time.Time            `json:"endedAt"`
	CreatedAt               time.Time             `json:"createdAt"`
	UpdatedAt               time.Time             `json:"updatedAt"`
	HostAdminID             string                `json:"hostAdminId,omitempty"`
	HostDisplayName         string                `json:"hostDisplayName,omitempty"`
	CourseID                string                `json:"courseId,omitempty"`
	CourseName              string                `json:"courseName,omitempty"`
	CourseSlug              string                `json:"courseSlug,omitempty"`
	AllowStudentAudio       bool                  `json:"allowStudentAudio"`
	AllowStudentVideo       bool                  `json:"allowStudentVideo"`
	AllowStudentScreenShare bool                  `json:"allowStudentScreenShare"`
	WaitingRoomEnabled      bool                  `json:"waitingRoomEnabled"`
	Locked                  bool                  `json:"locked"`
	RequiresPasscode        bool                  `json:"requiresPasscode"`
	ScreenShareOwner        *uuid.UUID            `json:"screenShareOwner,omitempty"`
	LastActivityAt          time.Time             `json:"lastActivityAt"`
	TotalParticipantCount   int                   `json:"totalParticipantCount"`
	ActiveParticipantCount  int                   `json:"activeParticipantCount"`
	IsLive                  bool                  `json:"isLive"`
	IsJoinable              bool                  `json:"isJoinable"`
	Participants            []ParticipantSnapshot `json:"participants,omitempty"`
	Rooms                   []RoomSnapshot        `json:"rooms,omitempty"`
	HostSecret              string                `json:"hostSecret,omitempty"`
	MeetingToken            string                `json:"meetingToken,omitempty"`
}

// BuildSnapshot assembles the sanitized projection of a session. The
// participant counts are computed from the supplied participant set whether
// or not the list itself is included in the output.
func BuildSnapshot(s *models.Session, participants []models.Participant, rooms []models.Room, opts SnapshotOptions) *SessionSnapshot {
	if s == nil {
		return nil
	}
	snap := &SessionSnapshot{
		ID:                      s.ID,
		Title:                   s.Title,
		Status:                  s.Status,
		ScheduledFor:            s.ScheduledFor,
		StartedAt:               s.StartedAt,
		EndedAt:                 s.EndedAt,
		CreatedAt:               s.CreatedAt,
		UpdatedAt:               s.UpdatedAt,
		HostAdminID:             s.HostAdminID,
		HostDisplayName:         s.HostDisplayName,
		CourseID:                s.CourseID,
		CourseName:              s.CourseName,
		CourseSlug:              s.CourseSlug,
		AllowStudentAudio:       s.AllowStudentAudio,
		AllowStudentVideo:       s.AllowStudentVideo,
		AllowStudentScreenShare: s.AllowStudentScreenShare,
		WaitingRoomEnabled:      s.WaitingRoomEnabled,
		Locked:                  s.Locked,
		RequiresPasscode:        s.PasscodeHash != "",
		ScreenShareOwner:        s.ScreenShareOwner,
		LastActivityAt:          s.LastActivityAt,
		TotalParticipantCount:   len(participants),
		IsLive:                  s.Status == models.StatusLive,
		IsJoinable:              s.IsJoinable(),
	}
	for i := range participants {
		if participants[i].Connected {
			snap.ActiveParticipantCount++
		}
	}
	if opts.IncludeParticipants {
		snap.Participants = make([]ParticipantSnapshot, 0, len(participants))
		for i := range participants {
			snap.Participants = append(snap.Participants, ParticipantView(&participants[i], false))
		}
	}
	if opts.IncludeRooms {
		snap.Rooms = make([]RoomSnapshot, 0, len(rooms))
		for _, r := range rooms {
			snap.Rooms = append(snap.Rooms, RoomSnapshot{ID: r.ID, Name: r.Name, Slug: r.Slug})
		}
	}
	if opts.IncludeHostSecret {
		snap.HostSecret = s.HostSecret
		snap.MeetingToken = s.MeetingToken
	}
	return snap
}

// ParticipantView builds the sanitized participant projection. The signaling
// key is only included on the join path that hands it to its owner.
func ParticipantView(p *models.Participant, includeKey bool) ParticipantSnapshot {
	snap := ParticipantSnapshot{
		ID:          p.ID,
		SessionID:   p.SessionID,
		Role:        p.Role,
		DisplayName: p.DisplayName,
		UserID:      p.UserID,
		AdminID:     p.AdminID,
		Connected:   p.Connected,
		Waiting:     p.Waiting,
		RoomID:      p.RoomID,
		JoinedAt:    p.JoinedAt,
		LastSeenAt:  p.LastSeenAt,
	}
	if includeKey {
		snap.SignalingKey = p.SignalingKey
	}
	return snap
}
