package live

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gradus-edu/live-backend/internal/models"
)

func newTestService(t *testing.T) (*Service, *MemStore) {
	t.Helper()
	store := NewMemStore()
	return NewService(store, zap.NewNop()), store
}

func hostIdentity() Identity {
	return Identity{ID: "admin-1", Role: "admin", Email: "host@example.com", FirstName: "Priya", LastName: "Nair"}
}

func studentIdentity() Identity {
	return Identity{ID: "user-1", Role: "student", Email: "asha@example.com", FirstName: "Asha", LastName: "Rao"}
}

func createTestSession(t *testing.T, svc *Service, in CreateSessionInput) *SessionSnapshot {
	t.Helper()
	if in.CourseID == "" {
		in.CourseID = "c1"
	}
	if in.CourseName == "" {
		in.CourseName = "Intro"
	}
	snap, err := svc.CreateSession(context.Background(), hostIdentity(), in)
	require.NoError(t, err)
	return snap
}

func assertServiceError(t *testing.T, err error, status int) {
	t.Helper()
	le, ok := AsError(err)
	require.True(t, ok, "expected a service error, got %v", err)
	assert.Equal(t, status, le.Status)
}

func TestCreateSessionDefaultsTitle(t *testing.T) {
	svc, _ := newTestService(t)
	snap, err := svc.CreateSession(context.Background(), hostIdentity(), CreateSessionInput{
		CourseID:   "c1",
		CourseName: "Intro",
	})
	require.NoError(t, err)
	assert.Equal(t, "Intro - Live Class", snap.Title)
	assert.Equal(t, models.StatusScheduled, snap.Status)
	assert.NotEmpty(t, snap.HostSecret)
	assert.NotEmpty(t, snap.MeetingToken)
	assert.Equal(t, "Priya Nair", snap.HostDisplayName)
}

func TestCreateSessionRequiresCourse(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateSession(context.Background(), hostIdentity(), CreateSessionInput{Title: "orphan"})
	assertServiceError(t, err, http.StatusBadRequest)
}

func TestCreateSessionRejectsGarbageSchedule(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateSession(context.Background(), hostIdentity(), CreateSessionInput{
		CourseID:     "c1",
		ScheduledFor: "next tuesday-ish",
	})
	assertServiceError(t, err, http.StatusBadRequest)
}

func TestCreateSessionParsesSchedule(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{ScheduledFor: "2026-09-01T10:00:00Z"})
	require.NotNil(t, snap.ScheduledFor)
	assert.Equal(t, 2026, snap.ScheduledFor.Year())
}

func setStatus(t *testing.T, svc *Service, id uuid.UUID, status string) (*SessionSnapshot, error) {
	t.Helper()
	return svc.UpdateSession(context.Background(), id, UpdateSessionInput{Status: &status})
}

func TestStatusTransitionsForwardOnly(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})

	live, err := setStatus(t, svc, snap.ID, models.StatusLive)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLive, live.Status)
	assert.NotNil(t, live.StartedAt)

	_, err = setStatus(t, svc, snap.ID, models.StatusScheduled)
	assertServiceError(t, err, http.StatusConflict)

	ended, err := setStatus(t, svc, snap.ID, models.StatusEnded)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, ended.Status)
	assert.NotNil(t, ended.EndedAt)

	_, err = setStatus(t, svc, snap.ID, models.StatusLive)
	assertServiceError(t, err, http.StatusConflict)
}

func TestHostMayEndNeverStartedSession(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})

	ended, err := setStatus(t, svc, snap.ID, models.StatusEnded)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, ended.Status)
	assert.Nil(t, ended.StartedAt)
	assert.NotNil(t, ended.EndedAt)
}

func TestUpdateSessionRejectsBogusStatus(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})
	_, err := setStatus(t, svc, snap.ID, "paused")
	assertServiceError(t, err, http.StatusBadRequest)
}

func TestJoinEndedSessionIsGone(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})
	_, err := setStatus(t, svc, snap.ID, models.StatusEnded)
	require.NoError(t, err)

	_, err = svc.JoinAsStudent(context.Background(), snap.ID, studentIdentity(), JoinInput{})
	assertServiceError(t, err, http.StatusGone)

	_, err = svc.JoinAsInstructor(context.Background(), snap.ID, hostIdentity(), snap.HostSecret)
	assertServiceError(t, err, http.StatusGone)
}

func TestJoinUnknownSessionNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.JoinAsStudent(context.Background(), uuid.New(), studentIdentity(), JoinInput{})
	assertServiceError(t, err, http.StatusNotFound)
}

func TestStudentDisplayNameDerivation(t *testing.T) {
	cases := []struct {
		name     string
		explicit string
		ident    Identity
		want     string
	}{
		{"explicit wins", "The Asha", studentIdentity(), "The Asha"},
		{"first and last", "", Identity{ID: "u", FirstName: "Asha", LastName: "Rao"}, "Asha Rao"},
		{"first only", "", Identity{ID: "u", FirstName: "Asha"}, "Asha"},
		{"nickname", "", Identity{ID: "u", Nickname: "ash"}, "ash"},
		{"email", "", Identity{ID: "u", Email: "a@b.c"}, "a@b.c"},
		{"fallback", "", Identity{ID: "u"}, "Student"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			snap := createTestSession(t, svc, CreateSessionInput{})
			res, err := svc.JoinAsStudent(context.Background(), snap.ID, tc.ident, JoinInput{DisplayName: tc.explicit})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Participant.DisplayName)
		})
	}
}

func TestJoinReturnsSignalingKey(t *testing.T) {
	svc, store := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})
	res, err := svc.JoinAsStudent(context.Background(), snap.ID, studentIdentity(), JoinInput{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SignalingKey)
	// the key admits exactly this participant
	verify, err := store.VerifyParticipantKey(context.Background(), snap.ID, res.Participant.ID, res.SignalingKey)
	require.NoError(t, err)
	assert.True(t, verify.Valid)
	// and never leaks through the snapshot
	for _, p := range res.Session.Participants {
		assert.Empty(t, p.SignalingKey)
	}
}

func TestInstructorJoinSecret(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})

	_, err := svc.JoinAsInstructor(context.Background(), snap.ID, hostIdentity(), "wrong-secret")
	assertServiceError(t, err, http.StatusForbidden)

	_, err = svc.JoinAsInstructor(context.Background(), snap.ID, hostIdentity(), "")
	assertServiceError(t, err, http.StatusForbidden)

	res, err := svc.JoinAsInstructor(context.Background(), snap.ID, hostIdentity(), snap.HostSecret)
	require.NoError(t, err)
	assert.Equal(t, models.RoleInstructor, res.Participant.Role)
	assert.False(t, res.Participant.Waiting)
}

func TestPasscodeAndMeetingTokenBypass(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{Passcode: "s3cret"})
	ctx := context.Background()

	_, err := svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{Passcode: "wrong"})
	assertServiceError(t, err, http.StatusUnauthorized)

	_, err = svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{Passcode: "s3cret"})
	require.NoError(t, err)

	_, err = svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{MeetingToken: snap.MeetingToken})
	require.NoError(t, err)
}

func TestLockedSessionRejectsStudents(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{Locked: true})
	_, err := svc.JoinAsStudent(context.Background(), snap.ID, studentIdentity(), JoinInput{})
	assertServiceError(t, err, http.StatusForbidden)
}

func TestWaitingRoomFlow(t *testing.T) {
	svc, store := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{WaitingRoomEnabled: true})
	ctx := context.Background()

	res, err := svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{})
	require.NoError(t, err)
	assert.True(t, res.Participant.Waiting)

	require.NoError(t, svc.AdmitParticipant(ctx, snap.ID, res.Participant.ID))
	p, err := store.GetParticipant(ctx, snap.ID, res.Participant.ID)
	require.NoError(t, err)
	assert.False(t, p.Waiting)

	res2, err := svc.JoinAsStudent(ctx, snap.ID, Identity{ID: "user-2"}, JoinInput{})
	require.NoError(t, err)
	require.NoError(t, svc.DenyParticipant(ctx, snap.ID, res2.Participant.ID))
	_, err = store.GetParticipant(ctx, snap.ID, res2.Participant.ID)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestKickWithBanBlocksRejoin(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})
	ctx := context.Background()

	res, err := svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{})
	require.NoError(t, err)

	require.NoError(t, svc.KickParticipant(ctx, snap.ID, res.Participant.ID, true))

	_, err = svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{})
	assertServiceError(t, err, http.StatusForbidden)

	// a different student still gets in
	_, err = svc.JoinAsStudent(ctx, snap.ID, Identity{ID: "user-2"}, JoinInput{})
	require.NoError(t, err)
}

func TestKickWithoutBanAllowsRejoin(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})
	ctx := context.Background()

	res, err := svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{})
	require.NoError(t, err)
	require.NoError(t, svc.KickParticipant(ctx, snap.ID, res.Participant.ID, false))

	_, err = svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{})
	require.NoError(t, err)
}

func TestFindActiveSessionByCourse(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	createTestSession(t, svc, CreateSessionInput{CourseID: "C-100", CourseSlug: "intro-go"})
	liveSnap := createTestSession(t, svc, CreateSessionInput{CourseID: "C-200", CourseSlug: "adv-go"})
	_, err := setStatus(t, svc, liveSnap.ID, models.StatusLive)
	require.NoError(t, err)

	found, err := svc.FindActiveSessionByCourse(ctx, "c-200")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, liveSnap.ID, found.ID)

	found, err = svc.FindActiveSessionByCourse(ctx, "ADV-GO")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, liveSnap.ID, found.ID)

	// scheduled sessions are not "active"
	found, err = svc.FindActiveSessionByCourse(ctx, "c-100")
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = svc.FindActiveSessionByCourse(ctx, "no-such-course")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCommandMediaClearsRevokedShare(t *testing.T) {
	svc, store := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})
	ctx := context.Background()

	res, err := svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{})
	require.NoError(t, err)
	require.NoError(t, store.SetScreenShareOwner(ctx, snap.ID, res.Participant.ID))

	off := false
	require.NoError(t, svc.CommandParticipantMedia(ctx, snap.ID, res.Participant.ID, MediaCommand{ScreenShare: &off}))
	got, err := store.GetSession(ctx, snap.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ScreenShareOwner)
}

func TestBreakoutRooms(t *testing.T) {
	svc, store := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, snap.ID, "Group A")
	require.NoError(t, err)
	assert.Equal(t, "group-a", room.Slug)

	res, err := svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{})
	require.NoError(t, err)

	require.NoError(t, svc.MoveParticipantRoom(ctx, snap.ID, res.Participant.ID, &room.ID))
	p, err := store.GetParticipant(ctx, snap.ID, res.Participant.ID)
	require.NoError(t, err)
	require.NotNil(t, p.RoomID)
	assert.Equal(t, room.ID, *p.RoomID)

	// back to main room
	require.NoError(t, svc.MoveParticipantRoom(ctx, snap.ID, res.Participant.ID, nil))
	p, err = store.GetParticipant(ctx, snap.ID, res.Participant.ID)
	require.NoError(t, err)
	assert.Nil(t, p.RoomID)

	bogus := uuid.New()
	err = svc.MoveParticipantRoom(ctx, snap.ID, res.Participant.ID, &bogus)
	assertServiceError(t, err, http.StatusNotFound)
}

func TestJoinLogsEvent(t *testing.T) {
	svc, _ := newTestService(t)
	snap := createTestSession(t, svc, CreateSessionInput{})
	ctx := context.Background()

	_, err := svc.JoinAsStudent(ctx, snap.ID, studentIdentity(), JoinInput{})
	require.NoError(t, err)

	events, err := svc.ListEvents(ctx, snap.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventJoin, events[0].Kind)
}
