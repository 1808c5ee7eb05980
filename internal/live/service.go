package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gradus-edu/live-backend/internal/models"
	"github.com/gradus-edu/live-backend/pkg/queue"
	"github.com/gradus-edu/live-backend/pkg/storage"
	"github.com/gradus-edu/live-backend/pkg/utils"
)

// Identity is the verified caller identity handed down by the auth middleware.
type Identity struct {
	ID        string
	Role      string
	Email     string
	FirstName string
	LastName  string
	Nickname  string
}

// Notifier pushes live updates to connected sockets. Implemented by the
// signaling gateway; nil means no sockets to notify (tests, CLI tooling).
type Notifier interface {
	// SessionUpdated triggers a fresh snapshot broadcast to the session.
	SessionUpdated(sessionID uuid.UUID)
	// ParticipantCommand delivers a server-issued command frame to one
	// participant's socket (media mute, kick, waiting-room decisions).
	ParticipantCommand(sessionID, participantID uuid.UUID, kind string, data interface{})
}

// UploadEnqueuer hands recording upload jobs to the background worker.
type UploadEnqueuer interface {
	EnqueueRecordingUpload(ctx context.Context, payload queue.RecordingUploadPayload) error
}

// RecordingStorage resolves stored recording objects to download URLs.
type RecordingStorage interface {
	PresignDownloadURL(ctx context.Context, key string) (string, error)
}

// Service enforces the session state machine, participant admission rules and
// produces sanitized snapshots. All business-rule violations are raised here
// as *Error values; the store only reports storage failures.
type Service struct {
	store     Store
	logger    *zap.Logger
	listLimit int

	notifier   Notifier
	uploads    UploadEnqueuer
	recordings RecordingStorage
	spoolDir   string
}

// NewService creates the session service.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, listLimit: 100}
}

// SetNotifier wires the signaling gateway in after construction (the gateway
// itself depends on the service's store, so wiring is two-phase).
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetSessionListLimit bounds list scans.
func (s *Service) SetSessionListLimit(n int) {
	if n > 0 {
		s.listLimit = n
	}
}

// SetRecordingPipeline wires the recording spool/queue/storage trio. Without
// it, recording endpoints report the feature as unavailable.
func (s *Service) SetRecordingPipeline(uploads UploadEnqueuer, recordings RecordingStorage, spoolDir string) {
	s.uploads = uploads
	s.recordings = recordings
	s.spoolDir = spoolDir
}

func (s *Service) notifySession(id uuid.UUID) {
	if s.notifier != nil {
		s.notifier.SessionUpdated(id)
	}
}

func (s *Service) commandParticipant(sessionID, participantID uuid.UUID, kind string, data interface{}) {
	if s.notifier != nil {
		s.notifier.ParticipantCommand(sessionID, participantID, kind, data)
	}
}

// CreateSessionInput is the host's create payload. The allow-student flags
// default to permitted when omitted.
type CreateSessionInput struct {
	Title                   string `json:"title"`
	ScheduledFor            string `json:"scheduledFor"`
	CourseID                string `json:"courseId"`
	CourseName              string `json:"courseName"`
	CourseSlug              string `json:"courseSlug"`
	Passcode                string `json:"passcode"`
	WaitingRoomEnabled      bool   `json:"waitingRoomEnabled"`
	Locked                  bool   `json:"locked"`
	AllowStudentAudio       *bool  `json:"allowStudentAudio"`
	AllowStudentVideo       *bool  `json:"allowStudentVideo"`
	AllowStudentScreenShare *bool  `json:"allowStudentScreenShare"`
}

// CreateSession creates a scheduled session owned by the calling host.
// The returned snapshot is the only unauthenticated hand-off of the host
// secret and meeting token.
func (s *Service) CreateSession(ctx context.Context, host Identity, in CreateSessionInput) (*SessionSnapshot, error) {
	if strings.TrimSpace(in.CourseID) == "" {
		return nil, badRequest("courseId is required")
	}
	scheduledFor, err := parseScheduledFor(in.ScheduledFor)
	if err != nil {
		return nil, badRequest("scheduledFor is not a valid timestamp")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		if name := strings.TrimSpace(in.CourseName); name != "" {
			title = name + " - Live Class"
		} else {
			title = "Live Class"
		}
	}
	var passcodeHash string
	if in.Passcode != "" {
		passcodeHash, err = utils.HashPasscode(in.Passcode)
		if err != nil {
			return nil, fmt.Errorf("hash passcode: %w", err)
		}
	}
	sess := &models.Session{
		Title:                   title,
		ScheduledFor:            scheduledFor,
		HostAdminID:             host.ID,
		HostDisplayName:         hostDisplayName(host),
		CourseID:                strings.TrimSpace(in.CourseID),
		CourseName:              strings.TrimSpace(in.CourseName),
		CourseSlug:              strings.TrimSpace(in.CourseSlug),
		AllowStudentAudio:       boolOr(in.AllowStudentAudio, true),
		AllowStudentVideo:       boolOr(in.AllowStudentVideo, true),
		AllowStudentScreenShare: boolOr(in.AllowStudentScreenShare, false),
		WaitingRoomEnabled:      in.WaitingRoomEnabled,
		Locked:                  in.Locked,
		PasscodeHash:            passcodeHash,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("live session created",
		zap.String("session_id", sess.ID.String()),
		zap.String("course_id", sess.CourseID),
		zap.String("host_admin_id", sess.HostAdminID))
	return BuildSnapshot(sess, nil, nil, SnapshotOptions{IncludeHostSecret: true}), nil
}

// UpdateSessionInput whitelists the host-mutable fields. Pointers distinguish
// "leave alone" from "set"; an empty ScheduledFor or Passcode clears the field.
type UpdateSessionInput struct {
	Title                   *string `json:"title"`
	ScheduledFor            *string `json:"scheduledFor"`
	Status                  *string `json:"status"`
	CourseID                *string `json:"courseId"`
	CourseName              *string `json:"courseName"`
	CourseSlug              *string `json:"courseSlug"`
	Passcode                *string `json:"passcode"`
	WaitingRoomEnabled      *bool   `json:"waitingRoomEnabled"`
	Locked                  *bool   `json:"locked"`
	AllowStudentAudio       *bool   `json:"allowStudentAudio"`
	AllowStudentVideo       *bool   `json:"allowStudentVideo"`
	AllowStudentScreenShare *bool   `json:"allowStudentScreenShare"`
	RotateMeetingToken      bool    `json:"rotateMeetingToken"`
}

// UpdateSession applies a host update. Status transitions only move forward
// (scheduled -> live -> ended); a host may end a never-started session, but
// any backward move is a Conflict. Started/ended timestamps are stamped here.
func (s *Service) UpdateSession(ctx context.Context, id uuid.UUID, in UpdateSessionInput) (*SessionSnapshot, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	upd := SessionUpdate{
		Title:                   trimPtr(in.Title),
		CourseID:                trimPtr(in.CourseID),
		CourseName:              trimPtr(in.CourseName),
		CourseSlug:              trimPtr(in.CourseSlug),
		AllowStudentAudio:       in.AllowStudentAudio,
		AllowStudentVideo:       in.AllowStudentVideo,
		AllowStudentScreenShare: in.AllowStudentScreenShare,
		WaitingRoomEnabled:      in.WaitingRoomEnabled,
		Locked:                  in.Locked,
	}
	if in.ScheduledFor != nil {
		if *in.ScheduledFor == "" {
			upd.ClearScheduledFor = true
		} else {
			t, err := parseScheduledFor(*in.ScheduledFor)
			if err != nil {
				return nil, badRequest("scheduledFor is not a valid timestamp")
			}
			upd.ScheduledFor = t
		}
	}
	if in.Status != nil {
		next := *in.Status
		if !models.ValidStatus(next) {
			return nil, badRequest("status must be one of scheduled, live, ended")
		}
		if models.StatusRank(next) < models.StatusRank(sess.Status) {
			return nil, conflict(fmt.Sprintf("cannot move session from %s back to %s", sess.Status, next))
		}
		if next != sess.Status {
			now := time.Now().UTC()
			upd.Status = &next
			if next == models.StatusLive && sess.StartedAt == nil {
				upd.StartedAt = &now
			}
			if next == models.StatusEnded && sess.EndedAt == nil {
				upd.EndedAt = &now
			}
		}
	}
	if in.Passcode != nil {
		hash := ""
		if *in.Passcode != "" {
			hash, err = utils.HashPasscode(*in.Passcode)
			if err != nil {
				return nil, fmt.Errorf("hash passcode: %w", err)
			}
		}
		upd.PasscodeHash = &hash
	}
	if in.RotateMeetingToken {
		token := uuid.New().String()
		upd.MeetingToken = &token
	}
	updated, err := s.store.UpdateSession(ctx, id, upd)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.notifySession(id)
	participants, _ := s.store.ListParticipants(ctx, id)
	return BuildSnapshot(updated, participants, nil, SnapshotOptions{IncludeParticipants: true}), nil
}

// GetSessionForHost returns the full host view including the host secret.
func (s *Service) GetSessionForHost(ctx context.Context, id uuid.UUID) (*SessionSnapshot, error) {
	return s.snapshot(ctx, id, SnapshotOptions{IncludeParticipants: true, IncludeRooms: true, IncludeHostSecret: true})
}

// GetSessionForParticipant returns the public view. No secrets.
func (s *Service) GetSessionForParticipant(ctx context.Context, id uuid.UUID) (*SessionSnapshot, error) {
	return s.snapshot(ctx, id, SnapshotOptions{IncludeParticipants: true, IncludeRooms: true})
}

func (s *Service) snapshot(ctx context.Context, id uuid.UUID, opts SnapshotOptions) (*SessionSnapshot, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	participants, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	var rooms []models.Room
	if opts.IncludeRooms {
		if rooms, err = s.store.ListRooms(ctx, id); err != nil {
			return nil, err
		}
	}
	return BuildSnapshot(sess, participants, rooms, opts), nil
}

// ListSessions returns recent sessions with participant counts, newest first.
func (s *Service) ListSessions(ctx context.Context) ([]*SessionSnapshot, error) {
	sessions, err := s.store.ListSessions(ctx, s.listLimit)
	if err != nil {
		return nil, err
	}
	list := make([]*SessionSnapshot, 0, len(sessions))
	for i := range sessions {
		participants, err := s.store.ListParticipants(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		list = append(list, BuildSnapshot(&sessions[i], participants, nil, SnapshotOptions{}))
	}
	return list, nil
}

// JoinInput is the participant's join payload.
type JoinInput struct {
	DisplayName  string `json:"displayName"`
	Passcode     string `json:"passcode"`
	MeetingToken string `json:"meetingToken"`
}

// JoinResult is handed back on any successful join. The signaling key is the
// participant's sole credential for the WebSocket connection.
type JoinResult struct {
	Session      *SessionSnapshot    `json:"session"`
	Participant  ParticipantSnapshot `json:"participant"`
	SignalingKey string              `json:"signalingKey"`
}

// JoinAsStudent admits a student into a session: joinable, not banned, not
// locked, passcode (or meeting-token bypass) verified. When the waiting room
// is enabled the participant starts in waiting state.
func (s *Service) JoinAsStudent(ctx context.Context, sessionID uuid.UUID, ident Identity, in JoinInput) (*JoinResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !sess.IsJoinable() {
		return nil, gone("this class has already ended")
	}
	if sess.IsBanned(ident.ID) {
		return nil, forbidden("you have been removed from this class")
	}
	if sess.Locked {
		return nil, forbidden("this class is locked")
	}
	if sess.PasscodeHash != "" && in.MeetingToken != sess.MeetingToken {
		if !utils.CheckPasscode(in.Passcode, sess.PasscodeHash) {
			return nil, unauthorized("invalid passcode")
		}
	}
	p := &models.Participant{
		SessionID:   sessionID,
		Role:        models.RoleStudent,
		DisplayName: deriveDisplayName(in.DisplayName, ident, "Student"),
		UserID:      ident.ID,
		Waiting:     sess.WaitingRoomEnabled,
		Metadata:    identityMetadata(ident),
	}
	if err := s.store.AddParticipant(ctx, p); err != nil {
		return nil, mapStoreErr(err)
	}
	s.logJoin(ctx, p)
	s.notifySession(sessionID)
	return s.joinResult(ctx, sess.ID, p)
}

// JoinAsInstructor admits the host. The host secret must exactly match; the
// failure message never reveals whether the session exists.
func (s *Service) JoinAsInstructor(ctx context.Context, sessionID uuid.UUID, ident Identity, hostSecret string) (*JoinResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !sess.IsJoinable() {
		return nil, gone("this class has already ended")
	}
	if hostSecret == "" || hostSecret != sess.HostSecret {
		return nil, forbidden("invalid instructor access secret")
	}
	p := &models.Participant{
		SessionID:   sessionID,
		Role:        models.RoleInstructor,
		DisplayName: deriveDisplayName("", ident, "Instructor"),
		AdminID:     ident.ID,
		Metadata:    identityMetadata(ident),
	}
	if err := s.store.AddParticipant(ctx, p); err != nil {
		return nil, mapStoreErr(err)
	}
	s.logJoin(ctx, p)
	s.notifySession(sessionID)
	return s.joinResult(ctx, sess.ID, p)
}

func (s *Service) joinResult(ctx context.Context, sessionID uuid.UUID, p *models.Participant) (*JoinResult, error) {
	snap, err := s.snapshot(ctx, sessionID, SnapshotOptions{IncludeParticipants: true, IncludeRooms: true})
	if err != nil {
		return nil, err
	}
	return &JoinResult{
		Session:      snap,
		Participant:  ParticipantView(p, false),
		SignalingKey: p.SignalingKey,
	}, nil
}

func (s *Service) logJoin(ctx context.Context, p *models.Participant) {
	data, _ := json.Marshal(map[string]string{"displayName": p.DisplayName})
	pid := p.ID
	err := s.store.LogEvent(ctx, &models.Event{
		SessionID:     p.SessionID,
		ParticipantID: &pid,
		Role:          p.Role,
		Kind:          models.EventJoin,
		Data:          data,
	})
	if err != nil {
		s.logger.Warn("join event log failed", zap.Error(err), zap.String("session_id", p.SessionID.String()))
	}
}

// FindActiveSessionByCourse scans recent sessions for a live one whose course
// id or slug matches courseKey case-insensitively. Returns nil when no class
// is live right now; callers treat that as an empty result, not an error.
func (s *Service) FindActiveSessionByCourse(ctx context.Context, courseKey string) (*SessionSnapshot, error) {
	key := strings.ToLower(strings.TrimSpace(courseKey))
	if key == "" {
		return nil, badRequest("course key is required")
	}
	sessions, err := s.store.ListSessions(ctx, s.listLimit)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sess := &sessions[i]
		if sess.Status != models.StatusLive {
			continue
		}
		if strings.ToLower(sess.CourseID) == key || (sess.CourseSlug != "" && strings.ToLower(sess.CourseSlug) == key) {
			participants, err := s.store.ListParticipants(ctx, sess.ID)
			if err != nil {
				return nil, err
			}
			return BuildSnapshot(sess, participants, nil, SnapshotOptions{}), nil
		}
	}
	return nil, nil
}

// MediaCommand carries a host-issued media instruction for one participant.
// Nil fields leave that track alone.
type MediaCommand struct {
	Audio       *bool `json:"audio"`
	Video       *bool `json:"video"`
	ScreenShare *bool `json:"screenShare"`
}

// CommandParticipantMedia pushes a media command to a participant's socket.
// Revoking screen share also compare-and-clears the session's owner field so
// the revoked participant cannot linger as owner.
func (s *Service) CommandParticipantMedia(ctx context.Context, sessionID, participantID uuid.UUID, cmd MediaCommand) error {
	p, err := s.store.GetParticipant(ctx, sessionID, participantID)
	if err != nil {
		return mapStoreErr(err)
	}
	if cmd.ScreenShare != nil && !*cmd.ScreenShare {
		if err := s.store.ClearScreenShareOwnerIfMatches(ctx, sessionID, participantID); err != nil {
			return err
		}
	}
	data, _ := json.Marshal(cmd)
	pid := p.ID
	_ = s.store.LogEvent(ctx, &models.Event{
		SessionID:     sessionID,
		ParticipantID: &pid,
		Role:          p.Role,
		Kind:          models.EventMedia,
		Data:          data,
	})
	s.commandParticipant(sessionID, participantID, "media-state", cmd)
	s.notifySession(sessionID)
	return nil
}

// KickParticipant removes a participant from the session. With ban set, the
// underlying user identity is also barred from rejoining.
func (s *Service) KickParticipant(ctx context.Context, sessionID, participantID uuid.UUID, ban bool) error {
	p, err := s.store.GetParticipant(ctx, sessionID, participantID)
	if err != nil {
		return mapStoreErr(err)
	}
	if ban && p.UserID != "" {
		if err := s.store.AddBannedUser(ctx, sessionID, p.UserID); err != nil {
			return err
		}
	}
	// Deliver the kick before the row disappears; the socket teardown path
	// needs no participant record.
	s.commandParticipant(sessionID, participantID, "kick", map[string]bool{"banned": ban})
	if _, err := s.store.RemoveParticipant(ctx, sessionID, participantID); err != nil {
		return err
	}
	pid := p.ID
	data, _ := json.Marshal(map[string]bool{"banned": ban})
	_ = s.store.LogEvent(ctx, &models.Event{
		SessionID:     sessionID,
		ParticipantID: &pid,
		Role:          p.Role,
		Kind:          models.EventKick,
		Data:          data,
	})
	s.notifySession(sessionID)
	return nil
}

// AdmitParticipant lets a waiting participant through the waiting room.
func (s *Service) AdmitParticipant(ctx context.Context, sessionID, participantID uuid.UUID) error {
	if err := s.store.SetParticipantWaiting(ctx, sessionID, participantID, false); err != nil {
		return mapStoreErr(err)
	}
	pid := participantID
	_ = s.store.LogEvent(ctx, &models.Event{
		SessionID:     sessionID,
		ParticipantID: &pid,
		Kind:          models.EventAdmit,
	})
	s.commandParticipant(sessionID, participantID, "admitted", nil)
	s.notifySession(sessionID)
	return nil
}

// DenyParticipant turns a waiting participant away and removes the record.
func (s *Service) DenyParticipant(ctx context.Context, sessionID, participantID uuid.UUID) error {
	if _, err := s.store.GetParticipant(ctx, sessionID, participantID); err != nil {
		return mapStoreErr(err)
	}
	s.commandParticipant(sessionID, participantID, "denied", nil)
	if _, err := s.store.RemoveParticipant(ctx, sessionID, participantID); err != nil {
		return err
	}
	pid := participantID
	_ = s.store.LogEvent(ctx, &models.Event{
		SessionID:     sessionID,
		ParticipantID: &pid,
		Kind:          models.EventDeny,
	})
	s.notifySession(sessionID)
	return nil
}

// CreateRoom adds a breakout room to the session.
func (s *Service) CreateRoom(ctx context.Context, sessionID uuid.UUID, name string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, badRequest("room name is required")
	}
	room := &models.Room{SessionID: sessionID, Name: name, Slug: slugify(name)}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		return nil, mapStoreErr(err)
	}
	s.notifySession(sessionID)
	return room, nil
}

// ListRooms returns the session's breakout rooms.
func (s *Service) ListRooms(ctx context.Context, sessionID uuid.UUID) ([]models.Room, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, mapStoreErr(err)
	}
	return s.store.ListRooms(ctx, sessionID)
}

// MoveParticipantRoom moves a participant into a breakout room, or back to
// the main room when roomID is nil.
func (s *Service) MoveParticipantRoom(ctx context.Context, sessionID, participantID uuid.UUID, roomID *uuid.UUID) error {
	if roomID != nil {
		rooms, err := s.store.ListRooms(ctx, sessionID)
		if err != nil {
			return err
		}
		found := false
		for i := range rooms {
			if rooms[i].ID == *roomID {
				found = true
				break
			}
		}
		if !found {
			return notFound("room not found")
		}
	}
	if err := s.store.SetParticipantRoom(ctx, sessionID, participantID, roomID); err != nil {
		return mapStoreErr(err)
	}
	s.commandParticipant(sessionID, participantID, "room-changed", map[string]interface{}{"roomId": roomID})
	s.notifySession(sessionID)
	return nil
}

// ListAttendance returns every participant record of the session, connected
// or not, for the host's attendance view.
func (s *Service) ListAttendance(ctx context.Context, sessionID uuid.UUID) ([]ParticipantSnapshot, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, mapStoreErr(err)
	}
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	views := make([]ParticipantSnapshot, 0, len(participants))
	for i := range participants {
		views = append(views, ParticipantView(&participants[i], false))
	}
	return views, nil
}

// ListEvents returns the session's audit log.
func (s *Service) ListEvents(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Event, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, mapStoreErr(err)
	}
	return s.store.ListEvents(ctx, sessionID, limit)
}

// ListChatMessages returns the session's chat history.
func (s *Service) ListChatMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, mapStoreErr(err)
	}
	return s.store.ListChatMessages(ctx, sessionID, limit)
}

// SaveRecording spools an uploaded recording to local disk and enqueues the
// S3 upload. The row stays in processing state until the worker finishes.
func (s *Service) SaveRecording(ctx context.Context, sessionID uuid.UUID, ident Identity, body io.Reader, mimeType string, durationMs int64) (*models.Recording, error) {
	if s.uploads == nil {
		return nil, &Error{Status: http.StatusServiceUnavailable, Message: "recording storage is not configured"}
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, mapStoreErr(err)
	}
	if mimeType == "" {
		mimeType = "video/webm"
	}
	spool, err := os.CreateTemp(s.spoolDir, "live-rec-*.spool")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	written, err := io.Copy(spool, body)
	closeErr := spool.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(spool.Name())
		return nil, fmt.Errorf("spool recording: %w", err)
	}
	if written == 0 {
		os.Remove(spool.Name())
		return nil, badRequest("recording body is empty")
	}
	rec := &models.Recording{
		SessionID:  sessionID,
		AdminID:    ident.ID,
		SpoolPath:  spool.Name(),
		MimeType:   mimeType,
		Bytes:      written,
		DurationMs: durationMs,
	}
	if err := s.store.CreateRecording(ctx, rec); err != nil {
		os.Remove(spool.Name())
		return nil, mapStoreErr(err)
	}
	err = s.uploads.EnqueueRecordingUpload(ctx, queue.RecordingUploadPayload{
		RecordingID: rec.ID,
		SessionID:   sessionID,
		SpoolPath:   rec.SpoolPath,
		MimeType:    mimeType,
	})
	if err != nil {
		s.logger.Error("recording enqueue failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		_ = s.store.UpdateRecordingUpload(ctx, rec.ID, "", "", rec.Bytes, models.RecordingStatusFailed)
		return nil, fmt.Errorf("enqueue recording upload: %w", err)
	}
	s.logger.Info("recording spooled",
		zap.String("recording_id", rec.ID.String()),
		zap.String("session_id", sessionID.String()),
		zap.Int64("bytes", written))
	return rec, nil
}

// ListRecordings returns the session's recordings, newest first.
func (s *Service) ListRecordings(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, mapStoreErr(err)
	}
	return s.store.ListRecordings(ctx, sessionID)
}

// RecordingDownloadURL presigns a download link for a completed recording.
func (s *Service) RecordingDownloadURL(ctx context.Context, recordingID uuid.UUID) (string, error) {
	rec, err := s.store.GetRecording(ctx, recordingID)
	if err != nil {
		return "", mapStoreErr(err)
	}
	if rec.Status != models.RecordingStatusCompleted {
		return "", conflict("recording is not ready for download")
	}
	if s.recordings == nil {
		return "", &Error{Status: http.StatusServiceUnavailable, Message: "recording storage is not configured"}
	}
	key := rec.S3Key
	if key == "" {
		key = storage.RecordingKey(rec.SessionID.String(), rec.ID.String())
	}
	return s.recordings.PresignDownloadURL(ctx, key)
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return notFound("session not found")
	case errors.Is(err, ErrParticipantNotFound):
		return notFound("participant not found")
	case errors.Is(err, ErrRoomNotFound):
		return notFound("room not found")
	case errors.Is(err, ErrRecordingNotFound):
		return notFound("recording not found")
	}
	return err
}

// deriveDisplayName resolves what to call a participant:
// explicit name, then first+last, then nickname, then email, then fallback.
func deriveDisplayName(explicit string, ident Identity, fallback string) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	full := strings.TrimSpace(strings.TrimSpace(ident.FirstName) + " " + strings.TrimSpace(ident.LastName))
	if full != "" {
		return full
	}
	if nick := strings.TrimSpace(ident.Nickname); nick != "" {
		return nick
	}
	if email := strings.TrimSpace(ident.Email); email != "" {
		return email
	}
	return fallback
}

func hostDisplayName(host Identity) string {
	return deriveDisplayName("", host, "Instructor")
}

func identityMetadata(ident Identity) map[string]string {
	meta := map[string]string{}
	if ident.Email != "" {
		meta["email"] = ident.Email
	}
	return meta
}

var scheduledForLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseScheduledFor(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range scheduledForLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparsable timestamp %q", raw)
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	t := strings.TrimSpace(*p)
	return &t
}
