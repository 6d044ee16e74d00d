// Package reconnect decides whether a join resumes an existing identity or
// creates a new one, and turns disconnects into timestamps rather than removals.
package reconnect

import (
	"log/slog"

	"planning-room-server/domain"
)

type Outcome int

const (
	OutcomeNew Outcome = iota
	OutcomeTokenResume
	OutcomeGraceResume
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTokenResume:
		return "token-resume"
	case OutcomeGraceResume:
		return "grace-resume"
	default:
		return "new"
	}
}

type Store interface {
	JoinRoom(roomID, displayName string) (domain.User, error)
	ResumeByToken(roomID, userID, displayName string) (domain.User, bool)
	ResumeByName(roomID, displayName string) (domain.User, bool)
	MarkDisconnected(userID string) (string, error)
}

type Manager struct {
	store Store
}

func New(s Store) *Manager {
	return &Manager{store: s}
}

// Join resolves req to a user. A presented token is tried first so that a
// second tab never merges with an unrelated disconnected namesake; the
// display-name fallback only reclaims disconnected identities. Resumes
// bypass capacity checks.
func (m *Manager) Join(req domain.JoinPayload) (domain.User, Outcome, error) {
	if req.ExistingUserID != "" {
		if u, ok := m.store.ResumeByToken(req.RoomID, req.ExistingUserID, req.DisplayName); ok {
			slog.Debug("identity resumed by token", "userId", u.ID, "room", req.RoomID)
			return u, OutcomeTokenResume, nil
		}
	}

	// A same-named stranger joining inside another user's grace period
	// inherits that identity. Closing this requires a client-held secret.
	if u, ok := m.store.ResumeByName(req.RoomID, req.DisplayName); ok {
		slog.Debug("identity resumed within grace period", "userId", u.ID, "room", req.RoomID)
		return u, OutcomeGraceResume, nil
	}

	u, err := m.store.JoinRoom(req.RoomID, req.DisplayName)
	if err != nil {
		return domain.User{}, OutcomeNew, err
	}
	return u, OutcomeNew, nil
}

// Leave marks the user disconnected and returns its room. Deletion is left
// to the sweeper once the grace period elapses.
func (m *Manager) Leave(userID string) (string, error) {
	return m.store.MarkDisconnected(userID)
}
