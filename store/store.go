// Package store holds the canonical room and user state.
//
// Lock order is always Store.mu before room.mu. Operations that change room
// membership or the user index take Store.mu exclusively; operations confined
// to one room take Store.mu shared and the room's own mutex, so unrelated
// rooms never serialize on each other. Holding Store.mu exclusively implies
// no room mutex is held elsewhere.
package store

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"planning-room-server/domain"
)

const DefaultGracePeriod = 5 * time.Minute

type Limits struct {
	MaxRooms        int
	MaxUsers        int
	MaxUsersPerRoom int
}

type room struct {
	id           string
	members      []*domain.User
	votesVisible bool
	mu           sync.Mutex
}

func (r *room) connectedCount() int {
	return lo.CountBy(r.members, func(u *domain.User) bool { return u.DisconnectedAt == nil })
}

type Store struct {
	rooms map[string]*room
	users map[string]*domain.User
	mu    sync.RWMutex

	limits Limits
	grace  time.Duration
	now    func() time.Time
	newID  func() string
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func WithGracePeriod(d time.Duration) Option {
	return func(s *Store) { s.grace = d }
}

func New(limits Limits, opts ...Option) *Store {
	s := &Store{
		rooms:  make(map[string]*room),
		users:  make(map[string]*domain.User),
		limits: limits,
		grace:  DefaultGracePeriod,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) GracePeriod() time.Duration { return s.grace }

// JoinRoom creates a new identity in roomID, creating the room if needed.
// It is the only path that counts against capacity.
func (s *Store) JoinRoom(roomID, displayName string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rooms[roomID]
	if !exists && s.limits.MaxRooms > 0 && len(s.rooms) >= s.limits.MaxRooms {
		return domain.User{}, fmt.Errorf("room limit %d reached: %w", s.limits.MaxRooms, domain.ErrCapacityExceeded)
	}
	if s.limits.MaxUsers > 0 && len(s.users) >= s.limits.MaxUsers {
		return domain.User{}, fmt.Errorf("user limit %d reached: %w", s.limits.MaxUsers, domain.ErrCapacityExceeded)
	}
	if exists && s.limits.MaxUsersPerRoom > 0 && r.connectedCount() >= s.limits.MaxUsersPerRoom {
		return domain.User{}, fmt.Errorf("room %q is full: %w", roomID, domain.ErrCapacityExceeded)
	}

	if !exists {
		r = &room{id: roomID}
		s.rooms[roomID] = r
		slog.Info("room created", "room", roomID)
	}

	u := &domain.User{
		ID:          s.newID(),
		DisplayName: displayName,
		RoomID:      roomID,
	}
	r.members = append(r.members, u)
	s.users[u.ID] = u
	return copyUser(u), nil
}

// ResumeByToken reattaches an existing identity presented by id. The user
// must belong to roomID under the same display name and must not have
// outlived the grace period.
func (s *Store) ResumeByToken(roomID, userID, displayName string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok || u.RoomID != roomID || u.DisplayName != displayName {
		return domain.User{}, false
	}
	r, ok := s.rooms[roomID]
	if !ok {
		return domain.User{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s.expired(u) {
		return domain.User{}, false
	}
	u.DisconnectedAt = nil
	return copyUser(u), true
}

// ResumeByName reclaims the first disconnected member of roomID with the
// given display name whose grace period has not elapsed.
func (s *Store) ResumeByName(roomID, displayName string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return domain.User{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	u, found := lo.Find(r.members, func(u *domain.User) bool {
		return u.DisplayName == displayName && u.DisconnectedAt != nil && !s.expired(u)
	})
	if !found {
		return domain.User{}, false
	}
	u.DisconnectedAt = nil
	return copyUser(u), true
}

func (s *Store) RecordVote(roomID, userID, value string) error {
	return s.withMember(roomID, userID, func(_ *room, u *domain.User) {
		u.Vote = &value
		u.HasVoted = true
	})
}

func (s *Store) SetVotesVisible(roomID string, visible bool) error {
	return s.withRoom(roomID, func(r *room) {
		r.votesVisible = visible
	})
}

// ClearVotes resets every member's vote and conceals the room in one step.
func (s *Store) ClearVotes(roomID string) error {
	return s.withRoom(roomID, func(r *room) {
		for _, u := range r.members {
			u.Vote = nil
			u.HasVoted = false
		}
		r.votesVisible = false
	})
}

// MarkDisconnected timestamps the user and returns its room. The user is
// kept for the grace period.
func (s *Store) MarkDisconnected(userID string) (string, error) {
	var roomID string
	err := s.withUser(userID, func(r *room, u *domain.User) {
		if u.DisconnectedAt == nil {
			at := s.now()
			u.DisconnectedAt = &at
		}
		roomID = r.id
	})
	return roomID, err
}

// PermanentlyRemove deletes the user from both the index and its room, and
// deletes the room if that left it empty.
func (s *Store) PermanentlyRemove(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %q: %w", userID, domain.ErrNotFound)
	}
	s.removeLocked(u)
	return nil
}

func (s *Store) removeLocked(u *domain.User) {
	delete(s.users, u.ID)
	r, ok := s.rooms[u.RoomID]
	if !ok {
		return
	}
	r.mu.Lock()
	r.members = slices.DeleteFunc(r.members, func(m *domain.User) bool { return m.ID == u.ID })
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty {
		delete(s.rooms, r.id)
		slog.Info("room removed", "room", r.id)
	}
}

// Snapshot returns a detached view of roomID. Disconnected members are
// omitted; votes are concealed from everyone but viewerID while the room is
// not revealed. Pass an empty viewerID for the room-wide broadcast view.
func (s *Store) Snapshot(roomID, viewerID string) (domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return domain.Snapshot{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	connected := lo.Filter(r.members, func(u *domain.User, _ int) bool { return u.DisconnectedAt == nil })
	members := lo.Map(connected, func(u *domain.User, _ int) domain.MemberView {
		view := domain.MemberView{ID: u.ID, DisplayName: u.DisplayName, HasVoted: u.HasVoted}
		if u.Vote != nil && (r.votesVisible || (viewerID != "" && viewerID == u.ID)) {
			v := *u.Vote
			view.Vote = &v
		}
		return view
	})
	return domain.Snapshot{RoomID: r.id, VotesVisible: r.votesVisible, Members: members}, true
}

func (s *Store) User(userID string) (domain.User, bool) {
	var out domain.User
	err := s.withUser(userID, func(_ *room, u *domain.User) { out = copyUser(u) })
	return out, err == nil
}

// Members returns copies of every member of roomID, disconnected ones included.
func (s *Store) Members(roomID string) ([]domain.User, bool) {
	var out []domain.User
	err := s.withRoom(roomID, func(r *room) {
		out = lo.Map(r.members, func(u *domain.User, _ int) domain.User { return copyUser(u) })
	})
	return out, err == nil
}

func (s *Store) Stats() (rooms, users int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), len(s.users)
}

func (s *Store) withRoom(roomID string, fn func(r *room)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %q: %w", roomID, domain.ErrNotFound)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
	return nil
}

func (s *Store) withUser(userID string, fn func(r *room, u *domain.User)) error {
	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("user %q: %w", userID, domain.ErrNotFound)
	}
	return s.withMember(u.RoomID, userID, fn)
}

// withMember requires the user to still be indexed and to belong to roomID.
func (s *Store) withMember(roomID, userID string, fn func(r *room, u *domain.User)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok || u.RoomID != roomID {
		return fmt.Errorf("user %q in room %q: %w", userID, roomID, domain.ErrNotFound)
	}
	r, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %q: %w", roomID, domain.ErrNotFound)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r, u)
	return nil
}

// expired must be called with the user's room locked.
func (s *Store) expired(u *domain.User) bool {
	return u.DisconnectedAt != nil && s.now().Sub(*u.DisconnectedAt) >= s.grace
}

func copyUser(u *domain.User) domain.User {
	out := *u
	if u.Vote != nil {
		v := *u.Vote
		out.Vote = &v
	}
	if u.DisconnectedAt != nil {
		t := *u.DisconnectedAt
		out.DisconnectedAt = &t
	}
	return out
}
