package live

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gradus-edu/live-backend/internal/models"
)

// MemStore is an in-memory Store. It backs single-process deployments
// without Postgres and the test suites. All methods are safe for
// concurrent use.
type MemStore struct {
	mu           sync.RWMutex
	sessions     map[uuid.UUID]*models.Session
	participants map[uuid.UUID]map[uuid.UUID]*models.Participant
	rooms        map[uuid.UUID][]models.Room
	chat         map[uuid.UUID][]models.ChatMessage
	recordings   map[uuid.UUID]*models.Recording
	events       map[uuid.UUID][]models.Event
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:     make(map[uuid.UUID]*models.Session),
		participants: make(map[uuid.UUID]map[uuid.UUID]*models.Participant),
		rooms:        make(map[uuid.UUID][]models.Room),
		chat:         make(map[uuid.UUID][]models.ChatMessage),
		recordings:   make(map[uuid.UUID]*models.Recording),
		events:       make(map[uuid.UUID][]models.Event),
	}
}

var _ Store = (*MemStore)(nil)

func cloneSession(s *models.Session) *models.Session {
	cp := *s
	cp.BannedUserIDs = append([]string(nil), s.BannedUserIDs...)
	if s.ScreenShareOwner != nil {
		owner := *s.ScreenShareOwner
		cp.ScreenShareOwner = &owner
	}
	return &cp
}

func cloneParticipant(p *models.Participant) *models.Participant {
	cp := *p
	if p.RoomID != nil {
		room := *p.RoomID
		cp.RoomID = &room
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// CreateSession fills ID, HostSecret, MeetingToken, Status and timestamps.
func (m *MemStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	s.ID = uuid.New()
	s.HostSecret = uuid.New().String()
	s.MeetingToken = uuid.New().String()
	s.Status = models.StatusScheduled
	s.BannedUserIDs = nil
	s.ScreenShareOwner = nil
	s.LastActivityAt = now
	s.CreatedAt = now
	s.UpdatedAt = now
	m.sessions[s.ID] = cloneSession(s)
	m.participants[s.ID] = make(map[uuid.UUID]*models.Participant)
	return nil
}

// UpdateSession applies only the provided fields.
func (m *MemStore) UpdateSession(_ context.Context, id uuid.UUID, upd SessionUpdate) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if upd.Title != nil {
		s.Title = *upd.Title
	}
	if upd.ClearScheduledFor {
		s.ScheduledFor = nil
	} else if upd.ScheduledFor != nil {
		t := *upd.ScheduledFor
		s.ScheduledFor = &t
	}
	if upd.Status != nil {
		s.Status = *upd.Status
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		s.StartedAt = &t
	}
	if upd.EndedAt != nil {
		t := *upd.EndedAt
		s.EndedAt = &t
	}
	if upd.CourseID != nil {
		s.CourseID = *upd.CourseID
	}
	if upd.CourseName != nil {
		s.CourseName = *upd.CourseName
	}
	if upd.CourseSlug != nil {
		s.CourseSlug = *upd.CourseSlug
	}
	if upd.AllowStudentAudio != nil {
		s.AllowStudentAudio = *upd.AllowStudentAudio
	}
	if upd.AllowStudentVideo != nil {
		s.AllowStudentVideo = *upd.AllowStudentVideo
	}
	if upd.AllowStudentScreenShare != nil {
		s.AllowStudentScreenShare = *upd.AllowStudentScreenShare
	}
	if upd.WaitingRoomEnabled != nil {
		s.WaitingRoomEnabled = *upd.WaitingRoomEnabled
	}
	if upd.Locked != nil {
		s.Locked = *upd.Locked
	}
	if upd.PasscodeHash != nil {
		s.PasscodeHash = *upd.PasscodeHash
	}
	if upd.MeetingToken != nil {
		s.MeetingToken = *upd.MeetingToken
	}
	s.UpdatedAt = time.Now().UTC()
	return cloneSession(s), nil
}

// GetSession returns a session by ID.
func (m *MemStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// ListSessions returns up to limit most-recent sessions, newest first.
func (m *MemStore) ListSessions(_ context.Context, limit int) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	list := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, *cloneSession(s))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// AddParticipant fills ID, SignalingKey and timestamps.
func (m *MemStore) AddParticipant(_ context.Context, p *models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[p.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	now := time.Now().UTC()
	p.ID = uuid.New()
	p.SignalingKey = uuid.New().String()
	p.Connected = false
	p.RoomID = nil
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	p.JoinedAt = now
	p.LastSeenAt = now
	m.participants[p.SessionID][p.ID] = cloneParticipant(p)
	s.LastActivityAt = now
	return nil
}

// GetParticipant returns one participant scoped to its session.
func (m *MemStore) GetParticipant(_ context.Context, sessionID, participantID uuid.UUID) (*models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[sessionID][participantID]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	return cloneParticipant(p), nil
}

// ListParticipants returns all participants of a session in join order.
func (m *MemStore) ListParticipants(_ context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.Participant
	for _, p := range m.participants[sessionID] {
		list = append(list, *cloneParticipant(p))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JoinedAt.Before(list[j].JoinedAt) })
	return list, nil
}

func (m *MemStore) mutateParticipant(sessionID, participantID uuid.UUID, fn func(*models.Participant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[sessionID][participantID]
	if !ok {
		return ErrParticipantNotFound
	}
	fn(p)
	p.LastSeenAt = time.Now().UTC()
	if s, ok := m.sessions[sessionID]; ok {
		s.LastActivityAt = p.LastSeenAt
	}
	return nil
}

// SetParticipantConnection flips the connected flag.
func (m *MemStore) SetParticipantConnection(_ context.Context, sessionID, participantID uuid.UUID, connected bool) error {
	return m.mutateParticipant(sessionID, participantID, func(p *models.Participant) { p.Connected = connected })
}

// SetParticipantWaiting flips the waiting-room flag.
func (m *MemStore) SetParticipantWaiting(_ context.Context, sessionID, participantID uuid.UUID, waiting bool) error {
	return m.mutateParticipant(sessionID, participantID, func(p *models.Participant) { p.Waiting = waiting })
}

// SetParticipantRoom moves the participant to a breakout room (nil = main room).
func (m *MemStore) SetParticipantRoom(_ context.Context, sessionID, participantID uuid.UUID, roomID *uuid.UUID) error {
	return m.mutateParticipant(sessionID, participantID, func(p *models.Participant) {
		if roomID == nil {
			p.RoomID = nil
			return
		}
		room := *roomID
		p.RoomID = &room
	})
}

// TouchParticipant refreshes last_seen_at.
func (m *MemStore) TouchParticipant(_ context.Context, sessionID, participantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.participants[sessionID][participantID]; ok {
		p.LastSeenAt = time.Now().UTC()
	}
	return nil
}

// RemoveParticipant deletes the record and compare-and-clears screen share.
func (m *MemStore) RemoveParticipant(_ context.Context, sessionID, participantID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[sessionID][participantID]; !ok {
		return false, nil
	}
	delete(m.participants[sessionID], participantID)
	if s, ok := m.sessions[sessionID]; ok {
		if s.ScreenShareOwner != nil && *s.ScreenShareOwner == participantID {
			s.ScreenShareOwner = nil
		}
		s.LastActivityAt = time.Now().UTC()
	}
	return true, nil
}

// VerifyParticipantKey checks session, participant and key. Any mismatch
// yields the same zero-value result.
func (m *MemStore) VerifyParticipantKey(_ context.Context, sessionID, participantID uuid.UUID, key string) (VerifyResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return VerifyResult{}, nil
	}
	p, ok := m.participants[sessionID][participantID]
	if !ok {
		return VerifyResult{}, nil
	}
	if key == "" || p.SignalingKey != key {
		return VerifyResult{}, nil
	}
	return VerifyResult{Valid: true, Session: cloneSession(s), Participant: cloneParticipant(p)}, nil
}

// SetScreenShareOwner claims ownership unconditionally (last writer wins).
func (m *MemStore) SetScreenShareOwner(_ context.Context, sessionID, participantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		owner := participantID
		s.ScreenShareOwner = &owner
		s.LastActivityAt = time.Now().UTC()
	}
	return nil
}

// ClearScreenShareOwnerIfMatches clears ownership only if still held by participantID.
func (m *MemStore) ClearScreenShareOwnerIfMatches(_ context.Context, sessionID, participantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		if s.ScreenShareOwner != nil && *s.ScreenShareOwner == participantID {
			s.ScreenShareOwner = nil
		}
	}
	return nil
}

// AddBannedUser unions userID into the session's banned set.
func (m *MemStore) AddBannedUser(_ context.Context, sessionID uuid.UUID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	for _, id := range s.BannedUserIDs {
		if id == userID {
			return nil
		}
	}
	s.BannedUserIDs = append(s.BannedUserIDs, userID)
	return nil
}

// CreateRoom inserts a breakout room.
func (m *MemStore) CreateRoom(_ context.Context, room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[room.SessionID]; !ok {
		return ErrSessionNotFound
	}
	room.ID = uuid.New()
	room.CreatedAt = time.Now().UTC()
	m.rooms[room.SessionID] = append(m.rooms[room.SessionID], *room)
	return nil
}

// ListRooms returns the session's breakout rooms in creation order.
func (m *MemStore) ListRooms(_ context.Context, sessionID uuid.UUID) ([]models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Room(nil), m.rooms[sessionID]...), nil
}

// AddChatMessage appends a chat message.
func (m *MemStore) AddChatMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return ErrSessionNotFound
	}
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now().UTC()
	m.chat[msg.SessionID] = append(m.chat[msg.SessionID], *msg)
	return nil
}

// ListChatMessages returns up to limit messages in send order.
func (m *MemStore) ListChatMessages(_ context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.chat[sessionID]
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]models.ChatMessage(nil), msgs...), nil
}

// CreateRecording inserts a recording in processing state.
func (m *MemStore) CreateRecording(_ context.Context, rec *models.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[rec.SessionID]; !ok {
		return ErrSessionNotFound
	}
	now := time.Now().UTC()
	rec.ID = uuid.New()
	rec.Status = models.RecordingStatusProcessing
	rec.CreatedAt = now
	rec.UpdatedAt = now
	cp := *rec
	m.recordings[rec.ID] = &cp
	return nil
}

// GetRecording returns one recording by ID.
func (m *MemStore) GetRecording(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recordings[id]
	if !ok {
		return nil, ErrRecordingNotFound
	}
	cp := *rec
	return &cp, nil
}

// UpdateRecordingUpload records the S3 result after the worker finishes.
func (m *MemStore) UpdateRecordingUpload(_ context.Context, id uuid.UUID, s3URL, s3Key string, bytes int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recordings[id]
	if !ok {
		return ErrRecordingNotFound
	}
	rec.S3URL = s3URL
	rec.S3Key = s3Key
	if bytes > rec.Bytes {
		rec.Bytes = bytes
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// ListRecordings returns the session's recordings, newest first.
func (m *MemStore) ListRecordings(_ context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.Recording
	for _, rec := range m.recordings {
		if rec.SessionID == sessionID {
			list = append(list, *rec)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// LogEvent appends an audit log entry.
func (m *MemStore) LogEvent(_ context.Context, ev *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now().UTC()
	m.events[ev.SessionID] = append(m.events[ev.SessionID], *ev)
	return nil
}

// ListEvents returns up to limit log entries in append order.
func (m *MemStore) ListEvents(_ context.Context, sessionID uuid.UUID, limit int) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.events[sessionID]
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	if len(evs) > limit {
		evs = evs[:limit]
	}
	return append([]models.Event(nil), evs...), nil
}
