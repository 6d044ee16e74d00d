// Package sweeper reconciles the domain store with the session registry and
// evicts identities whose grace period elapsed.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"planning-room-server/domain"
)

type Store interface {
	User(userID string) (domain.User, bool)
	ExpireDisconnected() []domain.User
	PruneOrphans() []domain.User
	PruneEmptyRooms() []string
}

type Registry interface {
	Bindings() []domain.Binding
	Unbind(connID, userID string) bool
}

type Report struct {
	Expired      []string
	Orphans      []string
	RemovedRooms []string
	Unbound      []string
	// Rooms whose visible state changed.
	Affected []string
}

func (r Report) Empty() bool {
	return len(r.Expired)+len(r.Orphans)+len(r.RemovedRooms)+len(r.Unbound) == 0
}

type Sweeper struct {
	store       Store
	registry    Registry
	broadcaster domain.Broadcaster
	interval    time.Duration
	mu          sync.Mutex
}

func New(s Store, r Registry, b domain.Broadcaster, interval time.Duration) *Sweeper {
	return &Sweeper{store: s, registry: r, broadcaster: b, interval: interval}
}

// Sweep runs one reconciliation pass. Running it again without intervening
// mutations changes nothing.
func (s *Sweeper) Sweep() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rep Report
	affected := make(map[string]struct{})

	for _, u := range s.store.ExpireDisconnected() {
		slog.Info("user expired", "userId", u.ID, "room", u.RoomID)
		rep.Expired = append(rep.Expired, u.ID)
	}

	for _, u := range s.store.PruneOrphans() {
		rep.Orphans = append(rep.Orphans, u.ID)
		affected[u.RoomID] = struct{}{}
	}
	rep.RemovedRooms = s.store.PruneEmptyRooms()

	for _, b := range s.registry.Bindings() {
		if _, ok := s.store.User(b.UserID); ok {
			continue
		}
		if s.registry.Unbind(b.ConnID, b.UserID) {
			slog.Warn("session bound to missing user, unbinding", "userId", b.UserID, "connId", b.ConnID)
			rep.Unbound = append(rep.Unbound, b.ConnID)
			affected[b.RoomID] = struct{}{}
		}
	}

	rep.Affected = lo.Keys(affected)
	if !rep.Empty() {
		slog.Debug("sweep done",
			"expired", len(rep.Expired),
			"orphans", len(rep.Orphans),
			"rooms", len(rep.RemovedRooms),
			"unbound", len(rep.Unbound))
	}
	return rep
}

// Run sweeps on every tick until ctx is done. A zero interval disables the
// timer; disconnect-driven sweeps still happen.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		slog.Info("periodic sweep disabled")
		<-ctx.Done()
		return nil
	}

	slog.Info("starting sweeper", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			rep := s.Sweep()
			if s.broadcaster == nil {
				continue
			}
			for _, roomID := range rep.Affected {
				s.broadcaster.Broadcast(roomID)
			}
		}
	}
}
