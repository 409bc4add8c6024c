package hub

import (
	"sync"

	"github.com/capitalize-ai/messaging-core/pkg/metrics"
)

// Hub is the injectable room registry. One room per conversation; a session
// may sit in any number of rooms, and a user may hold several sessions at
// once (two devices, two rooms memberships each, and so on).
//
// Room membership is scoped to the session lifetime: Detach releases every
// membership, which the WebSocket handler guarantees to call on any
// termination path.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	rooms        map[int64]map[string]*Session
	sessionRooms map[string]map[int64]struct{}
}

// New constructs an empty Hub.
func New() *Hub {
	return &Hub{
		sessions:     make(map[string]*Session),
		rooms:        make(map[int64]map[string]*Session),
		sessionRooms: make(map[string]map[int64]struct{}),
	}
}

// Attach registers a session and starts its write loop.
func (h *Hub) Attach(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.sessionRooms[s.ID] = make(map[int64]struct{})
	h.mu.Unlock()

	metrics.WSSessionsActive.Inc()
	s.Start()
}

// Detach removes a session and releases all its room memberships. Idempotent;
// future broadcasts no longer reach the session, but events already enqueued
// on its buffer stay there for the write loop to drain or drop on close.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	_, tracked := h.sessions[s.ID]
	if tracked {
		for conversationID := range h.sessionRooms[s.ID] {
			h.leaveLocked(conversationID, s.ID)
		}
		delete(h.sessionRooms, s.ID)
		delete(h.sessions, s.ID)
	}
	h.mu.Unlock()

	if tracked {
		metrics.WSSessionsActive.Dec()
	}
}

// Join adds the session to the conversation's room. The caller must have
// passed the access gate first.
func (h *Hub) Join(conversationID int64, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID]; !ok {
		return
	}

	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Session)
		h.rooms[conversationID] = room
	}
	room[s.ID] = s
	h.sessionRooms[s.ID][conversationID] = struct{}{}
}

// Leave removes the session from the conversation's room. Effective
// immediately for future broadcasts.
func (h *Hub) Leave(conversationID int64, s *Session) {
	h.mu.Lock()
	h.leaveLocked(conversationID, s.ID)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(conversationID int64, sessionID string) {
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	if memberships, ok := h.sessionRooms[sessionID]; ok {
		delete(memberships, conversationID)
	}
}

// Broadcast delivers payload to every session in the conversation's room,
// skipping exceptSessionID when non-empty. Returns the number of sessions
// the payload was enqueued for.
func (h *Hub) Broadcast(conversationID int64, payload []byte, exceptSessionID string) int {
	h.mu.RLock()
	room := h.rooms[conversationID]
	targets := make([]*Session, 0, len(room))
	for _, s := range room {
		if exceptSessionID != "" && s.ID == exceptSessionID {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// RoomSize reports how many sessions are joined to a conversation's room.
func (h *Hub) RoomSize(conversationID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Stats reports current session and room counts for maintenance logging.
func (h *Hub) Stats() (sessions, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions), len(h.rooms)
}

// Close terminates every session and clears the registry.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.rooms = make(map[int64]map[string]*Session)
	h.sessionRooms = make(map[string]map[int64]struct{})
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close(1001, "hub shutdown")
		metrics.WSSessionsActive.Dec()
	}
}
