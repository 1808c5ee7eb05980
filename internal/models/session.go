package models

import (
	"time"

	"github.com/google/uuid"
)

// Session status lifecycle. Transitions only move forward:
// scheduled -> live -> ended. "ended" is terminal.
const (
	StatusScheduled = "scheduled"
	StatusLive      = "live"
	StatusEnded     = "ended"
)

// ValidStatus reports whether s is one of the three session statuses.
func ValidStatus(s string) bool {
	return s == StatusScheduled || s == StatusLive || s == StatusEnded
}

// StatusRank orders statuses for the forward-only transition check.
// Unknown statuses rank below scheduled.
func StatusRank(s string) int {
	switch s {
	case StatusScheduled:
		return 0
	case StatusLive:
		return 1
	case StatusEnded:
		return 2
	}
	return -1
}

// Session is one scheduled or in-progress live class instance.
// HostSecret and PasscodeHash never leave the server except through
// the snapshot builder's explicit opt-ins.
type Session struct {
	ID                      uuid.UUID  `json:"id"`
	Title                   string     `json:"title"`
	Status                  string     `json:"status"`
	ScheduledFor            *time.Time `json:"scheduled_for,omitempty"`
	StartedAt               *time.Time `json:"started_at,omitempty"`
	EndedAt                 *time.Time `json:"ended_at,omitempty"`
	HostAdminID             string     `json:"host_admin_id,omitempty"`
	HostDisplayName         string     `json:"host_display_name,omitempty"`
	HostSecret              string     `json:"-"`
	MeetingToken            string     `json:"-"`
	CourseID                string     `json:"course_id,omitempty"`
	CourseName              string     `json:"course_name,omitempty"`
	CourseSlug              string     `json:"course_slug,omitempty"`
	AllowStudentAudio       bool       `json:"allow_student_audio"`
	AllowStudentVideo       bool       `json:"allow_student_video"`
	AllowStudentScreenShare bool       `json:"allow_student_screen_share"`
	WaitingRoomEnabled      bool       `json:"waiting_room_enabled"`
	Locked                  bool       `json:"locked"`
	PasscodeHash            string     `json:"-"`
	BannedUserIDs           []string   `json:"-"`
	ScreenShareOwner        *uuid.UUID `json:"screen_share_owner,omitempty"`
	LastActivityAt          time.Time  `json:"last_activity_at"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// IsJoinable reports whether new participants may still join.
func (s *Session) IsJoinable() bool {
	return s.Status != StatusEnded
}

// IsBanned reports whether the given user identity has been removed with ban.
func (s *Session) IsBanned(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range s.BannedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
