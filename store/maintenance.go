package store

import (
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"planning-room-server/domain"
)

// ExpireDisconnected permanently removes users whose grace period elapsed.
func (s *Store) ExpireDisconnected() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*domain.User
	for _, u := range s.users {
		if s.expired(u) {
			expired = append(expired, u)
		}
	}
	out := make([]domain.User, 0, len(expired))
	for _, u := range expired {
		out = append(out, copyUser(u))
		s.removeLocked(u)
	}
	return out
}

// PruneOrphans removes users present on only one side of the room
// membership / user index pair. Each returned user carries the room it was
// found in.
func (s *Store) PruneOrphans() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orphans []domain.User
	for id, u := range s.users {
		r, ok := s.rooms[u.RoomID]
		if ok && slices.Contains(r.members, u) {
			continue
		}
		slog.Warn("orphaned user in index", "userId", id, "room", u.RoomID)
		delete(s.users, id)
		orphans = append(orphans, copyUser(u))
	}

	for _, r := range s.rooms {
		r.members = slices.DeleteFunc(r.members, func(m *domain.User) bool {
			indexed, ok := s.users[m.ID]
			if ok && indexed == m {
				return false
			}
			slog.Warn("orphaned room member", "userId", m.ID, "room", r.id)
			orphan := copyUser(m)
			orphan.RoomID = r.id
			orphans = append(orphans, orphan)
			return true
		})
	}
	return lo.UniqBy(orphans, func(u domain.User) string { return u.RoomID + "/" + u.ID })
}

// PruneEmptyRooms deletes rooms with no members left.
func (s *Store) PruneEmptyRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, r := range s.rooms {
		if len(r.members) == 0 {
			delete(s.rooms, id)
			removed = append(removed, id)
		}
	}
	return removed
}
