package signaling

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the volatile routing table sessionID -> participantID -> socket.
// A single mutex guards it; every connection's read loop and the
// connect/disconnect handlers touch it concurrently. Buckets for sessions
// with no sockets are deleted so inactive sessions cost nothing.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[uuid.UUID]*Client
}

// NewRegistry creates an empty routing table.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]map[uuid.UUID]*Client)}
}

// add registers a client. If the participant already had a socket, the old
// one is returned so the caller can close it (one socket per participant).
// first reports whether this created the session's bucket.
func (r *Registry) add(c *Client) (old *Client, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.sessions[c.sessionID]
	if !ok {
		bucket = make(map[uuid.UUID]*Client)
		r.sessions[c.sessionID] = bucket
		first = true
	}
	old = bucket[c.participantID]
	bucket[c.participantID] = c
	return old, first
}

// remove unregisters a client, but only if it is still the registered socket
// for its participant (a reconnect may have replaced it). emptied reports
// whether the session's bucket was deleted.
func (r *Registry) remove(c *Client) (removed, emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.sessions[c.sessionID]
	if !ok || bucket[c.participantID] != c {
		return false, false
	}
	delete(bucket, c.participantID)
	if len(bucket) == 0 {
		delete(r.sessions, c.sessionID)
		emptied = true
	}
	return true, emptied
}

// get returns the live socket for a participant, or nil.
func (r *Registry) get(sessionID, participantID uuid.UUID) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID][participantID]
}

// clients returns a point-in-time copy of a session's sockets.
func (r *Registry) clients(sessionID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.sessions[sessionID]
	out := make([]*Client, 0, len(bucket))
	for _, c := range bucket {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live sockets for a session.
func (r *Registry) Count(sessionID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}
