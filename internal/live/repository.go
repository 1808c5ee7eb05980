package live

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gradus-edu/live-backend/internal/models"
)

const sessionColumns = `id, title, status, scheduled_for, started_at, ended_at,
	COALESCE(host_admin_id, ''), host_display_name, host_secret, meeting_token,
	COALESCE(course_id, ''), COALESCE(course_name, ''), COALESCE(course_slug, ''),
	allow_student_audio, allow_student_video, allow_student_screen_share,
	waiting_room_enabled, locked, COALESCE(passcode_hash, ''), banned_user_ids,
	screen_share_owner, last_activity_at, created_at, updated_at`

const participantColumns = `id, session_id, role, display_name,
	COALESCE(user_id, ''), COALESCE(admin_id, ''), signaling_key,
	connected, waiting, room_id, metadata, joined_at, last_seen_at`

// Repository is the PostgreSQL-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.Title, &s.Status, &s.ScheduledFor, &s.StartedAt, &s.EndedAt,
		&s.HostAdminID, &s.HostDisplayName, &s.HostSecret, &s.MeetingToken,
		&s.CourseID, &s.CourseName, &s.CourseSlug,
		&s.AllowStudentAudio, &s.AllowStudentVideo, &s.AllowStudentScreenShare,
		&s.WaitingRoomEnabled, &s.Locked, &s.PasscodeHash, &s.BannedUserIDs,
		&s.ScreenShareOwner, &s.LastActivityAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	err := row.Scan(
		&p.ID, &p.SessionID, &p.Role, &p.DisplayName,
		&p.UserID, &p.AdminID, &p.SignalingKey,
		&p.Connected, &p.Waiting, &p.RoomID, &p.Metadata, &p.JoinedAt, &p.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateSession inserts a new session, generating id, host secret and meeting token.
func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	s.ID = uuid.New()
	s.HostSecret = uuid.New().String()
	s.MeetingToken = uuid.New().String()
	s.Status = models.StatusScheduled
	q := fmt.Sprintf(`INSERT INTO live_sessions
		(id, title, status, scheduled_for, host_admin_id, host_display_name, host_secret, meeting_token,
		 course_id, course_name, course_slug, allow_student_audio, allow_student_video,
		 allow_student_screen_share, waiting_room_enabled, locked, passcode_hash)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''),
		 $12, $13, $14, $15, $16, NULLIF($17, ''))
		RETURNING %s`, sessionColumns)
	created, err := scanSession(r.pool.QueryRow(ctx, q,
		s.ID, s.Title, s.Status, s.ScheduledFor, s.HostAdminID, s.HostDisplayName, s.HostSecret, s.MeetingToken,
		s.CourseID, s.CourseName, s.CourseSlug, s.AllowStudentAudio, s.AllowStudentVideo,
		s.AllowStudentScreenShare, s.WaitingRoomEnabled, s.Locked, s.PasscodeHash,
	))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	*s = *created
	return nil
}

// UpdateSession applies only the provided fields.
func (r *Repository) UpdateSession(ctx context.Context, id uuid.UUID, upd SessionUpdate) (*models.Session, error) {
	sets := []string{"updated_at = NOW()"}
	var args []interface{}
	add := func(expr string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if upd.Title != nil {
		add("title = $%d", *upd.Title)
	}
	if upd.ClearScheduledFor {
		sets = append(sets, "scheduled_for = NULL")
	} else if upd.ScheduledFor != nil {
		add("scheduled_for = $%d", *upd.ScheduledFor)
	}
	if upd.Status != nil {
		add("status = $%d", *upd.Status)
	}
	if upd.StartedAt != nil {
		add("started_at = $%d", *upd.StartedAt)
	}
	if upd.EndedAt != nil {
		add("ended_at = $%d", *upd.EndedAt)
	}
	if upd.CourseID != nil {
		add("course_id = NULLIF($%d, '')", *upd.CourseID)
	}
	if upd.CourseName != nil {
		add("course_name = NULLIF($%d, '')", *upd.CourseName)
	}
	if upd.CourseSlug != nil {
		add("course_slug = NULLIF($%d, '')", *upd.CourseSlug)
	}
	if upd.AllowStudentAudio != nil {
		add("allow_student_audio = $%d", *upd.AllowStudentAudio)
	}
	if upd.AllowStudentVideo != nil {
		add("allow_student_video = $%d", *upd.AllowStudentVideo)
	}
	if upd.AllowStudentScreenShare != nil {
		add("allow_student_screen_share = $%d", *upd.AllowStudentScreenShare)
	}
	if upd.WaitingRoomEnabled != nil {
		add("waiting_room_enabled = $%d", *upd.WaitingRoomEnabled)
	}
	if upd.Locked != nil {
		add("locked = $%d", *upd.Locked)
	}
	if upd.PasscodeHash != nil {
		add("passcode_hash = NULLIF($%d, '')", *upd.PasscodeHash)
	}
	if upd.MeetingToken != nil {
		add("meeting_token = $%d", *upd.MeetingToken)
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE live_sessions SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), sessionColumns)
	s, err := scanSession(r.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return s, nil
}

// GetSession returns a session by ID.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	q := fmt.Sprintf("SELECT %s FROM live_sessions WHERE id = $1", sessionColumns)
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ListSessions returns up to limit most-recent sessions, newest first.
func (r *Repository) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf("SELECT %s FROM live_sessions ORDER BY created_at DESC LIMIT $1", sessionColumns)
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var list []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// AddParticipant inserts a participant, generating id and signaling key.
func (r *Repository) AddParticipant(ctx context.Context, p *models.Participant) error {
	p.ID = uuid.New()
	p.SignalingKey = uuid.New().String()
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	q := fmt.Sprintf(`INSERT INTO live_participants
		(id, session_id, role, display_name, user_id, admin_id, signaling_key, connected, waiting, room_id, metadata)
		SELECT $1, s.id, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, FALSE, $8, NULL, $9
		FROM live_sessions s WHERE s.id = $2
		RETURNING %s`, participantColumns)
	created, err := scanParticipant(r.pool.QueryRow(ctx, q,
		p.ID, p.SessionID, p.Role, p.DisplayName, p.UserID, p.AdminID, p.SignalingKey, p.Waiting, p.Metadata,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	*p = *created
	r.touchSession(ctx, p.SessionID)
	return nil
}

// GetParticipant returns one participant scoped to its session.
func (r *Repository) GetParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (*models.Participant, error) {
	q := fmt.Sprintf("SELECT %s FROM live_participants WHERE session_id = $1 AND id = $2", participantColumns)
	p, err := scanParticipant(r.pool.QueryRow(ctx, q, sessionID, participantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns all participants of a session in join order.
func (r *Repository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	q := fmt.Sprintf("SELECT %s FROM live_participants WHERE session_id = $1 ORDER BY joined_at", participantColumns)
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var list []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

func (r *Repository) setParticipantField(ctx context.Context, sessionID, participantID uuid.UUID, set string, args ...interface{}) error {
	q := fmt.Sprintf("UPDATE live_participants SET %s, last_seen_at = NOW() WHERE session_id = $1 AND id = $2", set)
	all := append([]interface{}{sessionID, participantID}, args...)
	tag, err := r.pool.Exec(ctx, q, all...)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	r.touchSession(ctx, sessionID)
	return nil
}

// SetParticipantConnection flips the connected flag and touches activity.
func (r *Repository) SetParticipantConnection(ctx context.Context, sessionID, participantID uuid.UUID, connected bool) error {
	return r.setParticipantField(ctx, sessionID, participantID, "connected = $3", connected)
}

// SetParticipantWaiting flips the waiting-room flag.
func (r *Repository) SetParticipantWaiting(ctx context.Context, sessionID, participantID uuid.UUID, waiting bool) error {
	return r.setParticipantField(ctx, sessionID, participantID, "waiting = $3", waiting)
}

// SetParticipantRoom moves the participant to a breakout room (nil = main room).
func (r *Repository) SetParticipantRoom(ctx context.Context, sessionID, participantID uuid.UUID, roomID *uuid.UUID) error {
	return r.setParticipantField(ctx, sessionID, participantID, "room_id = $3", roomID)
}

// TouchParticipant refreshes last_seen_at.
func (r *Repository) TouchParticipant(ctx context.Context, sessionID, participantID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE live_participants SET last_seen_at = NOW() WHERE session_id = $1 AND id = $2",
		sessionID, participantID)
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	return nil
}

// RemoveParticipant deletes the row and compare-and-clears screen-share ownership.
func (r *Repository) RemoveParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		"DELETE FROM live_participants WHERE session_id = $1 AND id = $2",
		sessionID, participantID)
	if err != nil {
		return false, fmt.Errorf("remove participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := r.ClearScreenShareOwnerIfMatches(ctx, sessionID, participantID); err != nil {
		return true, err
	}
	r.touchSession(ctx, sessionID)
	return true, nil
}

// VerifyParticipantKey checks session, participant and key in one shot.
// Any mismatch yields the same zero-value result.
func (r *Repository) VerifyParticipantKey(ctx context.Context, sessionID, participantID uuid.UUID, key string) (VerifyResult, error) {
	p, err := r.GetParticipant(ctx, sessionID, participantID)
	if errors.Is(err, ErrParticipantNotFound) {
		return VerifyResult{}, nil
	}
	if err != nil {
		return VerifyResult{}, err
	}
	if key == "" || p.SignalingKey != key {
		return VerifyResult{}, nil
	}
	s, err := r.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return VerifyResult{}, nil
	}
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Valid: true, Session: s, Participant: p}, nil
}

// SetScreenShareOwner claims ownership unconditionally (last writer wins).
func (r *Repository) SetScreenShareOwner(ctx context.Context, sessionID, participantID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE live_sessions SET screen_share_owner = $2, last_activity_at = NOW(), updated_at = NOW() WHERE id = $1",
		sessionID, participantID)
	if err != nil {
		return fmt.Errorf("set screen share owner: %w", err)
	}
	return nil
}

// ClearScreenShareOwnerIfMatches clears ownership only if still held by participantID.
func (r *Repository) ClearScreenShareOwnerIfMatches(ctx context.Context, sessionID, participantID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE live_sessions SET screen_share_owner = NULL, updated_at = NOW() WHERE id = $1 AND screen_share_owner = $2",
		sessionID, participantID)
	if err != nil {
		return fmt.Errorf("clear screen share owner: %w", err)
	}
	return nil
}

// AddBannedUser unions the user into banned_user_ids (no duplicates, no lost updates).
func (r *Repository) AddBannedUser(ctx context.Context, sessionID uuid.UUID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE live_sessions SET banned_user_ids = array_append(banned_user_ids, $2), updated_at = NOW()
		 WHERE id = $1 AND NOT ($2 = ANY(banned_user_ids))`,
		sessionID, userID)
	if err != nil {
		return fmt.Errorf("add banned user: %w", err)
	}
	return nil
}

// CreateRoom inserts a breakout room.
func (r *Repository) CreateRoom(ctx context.Context, room *models.Room) error {
	room.ID = uuid.New()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO live_rooms (id, session_id, name, slug) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		room.ID, room.SessionID, room.Name, room.Slug).Scan(&room.CreatedAt)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// ListRooms returns the session's breakout rooms in creation order.
func (r *Repository) ListRooms(ctx context.Context, sessionID uuid.UUID) ([]models.Room, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, session_id, name, slug, created_at FROM live_rooms WHERE session_id = $1 ORDER BY created_at",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var list []models.Room
	for rows.Next() {
		var room models.Room
		if err := rows.Scan(&room.ID, &room.SessionID, &room.Name, &room.Slug, &room.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, room)
	}
	return list, rows.Err()
}

// AddChatMessage appends a chat message.
func (r *Repository) AddChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	msg.ID = uuid.New()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO live_chat_messages (id, session_id, participant_id, sender_role, display_name, text)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		msg.ID, msg.SessionID, msg.ParticipantID, msg.SenderRole, msg.DisplayName, msg.Text).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("add chat message: %w", err)
	}
	return nil
}

// ListChatMessages returns up to limit messages in send order.
func (r *Repository) ListChatMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, participant_id, sender_role, display_name, text, created_at
		 FROM live_chat_messages WHERE session_id = $1 ORDER BY created_at LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ParticipantID, &m.SenderRole, &m.DisplayName, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// CreateRecording inserts a recording row in processing state.
func (r *Repository) CreateRecording(ctx context.Context, rec *models.Recording) error {
	rec.ID = uuid.New()
	rec.Status = models.RecordingStatusProcessing
	err := r.pool.QueryRow(ctx,
		`INSERT INTO live_recordings (id, session_id, admin_id, participant_id, spool_path, mime_type, bytes, duration_ms, status)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`,
		rec.ID, rec.SessionID, rec.AdminID, rec.ParticipantID, rec.SpoolPath, rec.MimeType, rec.Bytes, rec.DurationMs, rec.Status).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	return nil
}

// GetRecording returns one recording by ID.
func (r *Repository) GetRecording(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	var rec models.Recording
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, COALESCE(admin_id, ''), COALESCE(participant_id, ''), spool_path, s3_url, s3_key,
		 mime_type, bytes, duration_ms, status, created_at, updated_at
		 FROM live_recordings WHERE id = $1`, id).
		Scan(&rec.ID, &rec.SessionID, &rec.AdminID, &rec.ParticipantID, &rec.SpoolPath, &rec.S3URL, &rec.S3Key,
			&rec.MimeType, &rec.Bytes, &rec.DurationMs, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return &rec, nil
}

// UpdateRecordingUpload records the S3 result after the worker finishes.
func (r *Repository) UpdateRecordingUpload(ctx context.Context, id uuid.UUID, s3URL, s3Key string, bytes int64, status string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE live_recordings SET s3_url = $2, s3_key = $3, bytes = GREATEST(bytes, $4), status = $5, updated_at = NOW()
		 WHERE id = $1`,
		id, s3URL, s3Key, bytes, status)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	return nil
}

// ListRecordings returns the session's recordings, newest first.
func (r *Repository) ListRecordings(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, COALESCE(admin_id, ''), COALESCE(participant_id, ''), spool_path, s3_url, s3_key,
		 mime_type, bytes, duration_ms, status, created_at, updated_at
		 FROM live_recordings WHERE session_id = $1 ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var list []models.Recording
	for rows.Next() {
		var rec models.Recording
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.AdminID, &rec.ParticipantID, &rec.SpoolPath, &rec.S3URL, &rec.S3Key,
			&rec.MimeType, &rec.Bytes, &rec.DurationMs, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// LogEvent appends an audit log entry.
func (r *Repository) LogEvent(ctx context.Context, ev *models.Event) error {
	ev.ID = uuid.New()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO live_events (id, session_id, participant_id, role, kind, data)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6) RETURNING created_at`,
		ev.ID, ev.SessionID, ev.ParticipantID, ev.Role, ev.Kind, ev.Data).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// ListEvents returns up to limit log entries in append order.
func (r *Repository) ListEvents(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, participant_id, COALESCE(role, ''), kind, data, created_at
		 FROM live_events WHERE session_id = $1 ORDER BY created_at LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var list []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.ParticipantID, &ev.Role, &ev.Kind, &ev.Data, &ev.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, ev)
	}
	return list, rows.Err()
}

// touchSession bumps last_activity_at. Activity tracking is best effort; a
// failed touch never fails the calling operation.
func (r *Repository) touchSession(ctx context.Context, sessionID uuid.UUID) {
	_, _ = r.pool.Exec(ctx,
		"UPDATE live_sessions SET last_activity_at = NOW() WHERE id = $1", sessionID)
}
