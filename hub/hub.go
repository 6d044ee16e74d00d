package hub

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"planning-room-server/domain"
)

type session struct {
	conn   domain.Connection
	userID string
	roomID string
}

type room struct {
	clients map[string]domain.Connection
	mu      sync.RWMutex
}

// Hub is the session registry: live connections, the users they represent,
// and a room index used for fan-out.
type Hub struct {
	sessions    map[string]*session
	users       map[string]map[string]struct{}
	rooms       map[string]*room
	mu          sync.RWMutex
	maxSessions int
}

func New(maxSessions int) *Hub {
	return &Hub{
		sessions:    make(map[string]*session),
		users:       make(map[string]map[string]struct{}),
		rooms:       make(map[string]*room),
		maxSessions: maxSessions,
	}
}

// Attach registers an unjoined connection. The caller must close conn when
// this fails.
func (h *Hub) Attach(conn domain.Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxSessions > 0 && len(h.sessions) >= h.maxSessions {
		return fmt.Errorf("session limit %d reached: %w", h.maxSessions, domain.ErrTooManySessions)
	}
	h.sessions[conn.ID()] = &session{conn: conn}
	slog.Info("client connected", "connId", conn.ID(), "sessions", len(h.sessions))
	return nil
}

// Bind associates an attached connection with a user in a room and returns
// the binding it replaced, if any.
func (h *Hub) Bind(connID, userID, roomID string) (domain.Binding, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connID]
	if !ok {
		return domain.Binding{}, fmt.Errorf("connection %q: %w", connID, domain.ErrNotFound)
	}
	prev := bindingOf(connID, s)
	h.unbindLocked(connID, s)

	s.userID, s.roomID = userID, roomID
	if h.users[userID] == nil {
		h.users[userID] = make(map[string]struct{})
	}
	h.users[userID][connID] = struct{}{}

	r, exists := h.rooms[roomID]
	if !exists {
		r = &room{clients: make(map[string]domain.Connection)}
		h.rooms[roomID] = r
	}
	r.mu.Lock()
	r.clients[connID] = s.conn
	count := len(r.clients)
	r.mu.Unlock()

	slog.Info("client joined", "room", roomID, "connId", connID, "userId", userID, "clients", count)
	return prev, nil
}

func (h *Hub) Lookup(connID string) (domain.Binding, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[connID]
	if !ok || s.userID == "" {
		return domain.Binding{}, false
	}
	return bindingOf(connID, s), true
}

// Detach drops every trace of connID regardless of what the domain store
// knows about its user, and returns the binding it had.
func (h *Hub) Detach(connID string) (domain.Binding, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connID]
	if !ok {
		return domain.Binding{}, false
	}
	b := bindingOf(connID, s)
	h.unbindLocked(connID, s)
	delete(h.sessions, connID)

	slog.Info("client disconnected", "connId", connID, "userId", b.UserID, "sessions", len(h.sessions))
	return b, b.UserID != ""
}

// Unbind returns a joined connection to the unjoined state, but only while
// it is still bound to userID.
func (h *Hub) Unbind(connID, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connID]
	if !ok || s.userID == "" || s.userID != userID {
		return false
	}
	h.unbindLocked(connID, s)
	return true
}

func (h *Hub) unbindLocked(connID string, s *session) {
	if s.userID == "" {
		return
	}
	if conns := h.users[s.userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.users, s.userID)
		}
	}
	if r, ok := h.rooms[s.roomID]; ok {
		r.mu.Lock()
		delete(r.clients, connID)
		count := len(r.clients)
		r.mu.Unlock()
		if count == 0 {
			delete(h.rooms, s.roomID)
		}
	}
	s.userID, s.roomID = "", ""
}

func (h *Hub) SessionsFor(roomID string) []domain.Connection {
	h.mu.RLock()
	r, exists := h.rooms[roomID]
	h.mu.RUnlock()

	if !exists {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.clients)
}

func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) Bindings() []domain.Binding {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.Binding, 0, len(h.sessions))
	for id, s := range h.sessions {
		if s.userID != "" {
			out = append(out, bindingOf(id, s))
		}
	}
	return out
}

func (h *Hub) Stats() (rooms, sessions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.sessions)
}

func bindingOf(connID string, s *session) domain.Binding {
	return domain.Binding{ConnID: connID, UserID: s.userID, RoomID: s.roomID}
}
