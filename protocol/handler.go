package protocol

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"planning-room-server/domain"
	"planning-room-server/reconnect"
	"planning-room-server/sweeper"
)

type Joiner interface {
	Join(req domain.JoinPayload) (domain.User, reconnect.Outcome, error)
	Leave(userID string) (string, error)
}

type VoteStore interface {
	RecordVote(roomID, userID, value string) error
	SetVotesVisible(roomID string, visible bool) error
	ClearVotes(roomID string) error
}

type Sweeper interface {
	Sweep() sweeper.Report
}

// Handler routes one connection's traffic. A connection is unjoined until
// its JOIN succeeds; before that every other message is ignored.
type Handler struct {
	registry    domain.SessionRegistry
	joiner      Joiner
	votes       VoteStore
	broadcaster domain.Broadcaster
	sweeper     Sweeper
	validate    *validator.Validate
	locks       roomLocks
}

func NewHandler(
	registry domain.SessionRegistry,
	joiner Joiner,
	votes VoteStore,
	b domain.Broadcaster,
	sw Sweeper,
) *Handler {
	return &Handler{
		registry:    registry,
		joiner:      joiner,
		votes:       votes,
		broadcaster: b,
		sweeper:     sw,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) Open(conn domain.Connection) error {
	if err := h.registry.Attach(conn); err != nil {
		slog.Warn("connection rejected", "connId", conn.ID(), "error", err)
		h.reject(conn, err)
		return err
	}
	return nil
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		slog.Warn("invalid message", "connId", conn.ID(), "error", err)
		return
	}

	if msg.Type == domain.TypeJoin {
		h.join(conn, msg.Payload)
		return
	}

	if _, joined := h.registry.Lookup(conn.ID()); !joined {
		slog.Debug("message before join ignored", "connId", conn.ID(), "type", msg.Type)
		return
	}

	switch msg.Type {
	case domain.TypeVote:
		h.vote(conn, msg.Payload)
	case domain.TypeReveal:
		h.setVisible(conn, msg.Payload, true)
	case domain.TypeConceal:
		h.setVisible(conn, msg.Payload, false)
	case domain.TypeReset:
		h.reset(conn, msg.Payload)
	default:
		slog.Warn("unknown message type", "connId", conn.ID(), "type", msg.Type)
	}
}

// Close runs the disconnect path: the store is updated first, then the
// registry entry is dropped whether or not the store knew the user.
func (h *Handler) Close(conn domain.Connection) {
	b, joined := h.registry.Lookup(conn.ID())
	if !joined {
		h.registry.Detach(conn.ID())
		return
	}

	unlock := h.locks.lock(b.RoomID)
	h.release(b.UserID)
	h.registry.Detach(conn.ID())
	unlock()

	rooms := []string{b.RoomID}
	if h.sweeper != nil {
		rooms = append(rooms, h.sweeper.Sweep().Affected...)
	}
	for _, roomID := range lo.Uniq(rooms) {
		h.broadcaster.Broadcast(roomID)
	}
}

func (h *Handler) join(conn domain.Connection, raw json.RawMessage) {
	req, err := decodePayload[domain.JoinPayload](h.validate, raw, func(p *domain.JoinPayload) {
		p.DisplayName = strings.TrimSpace(p.DisplayName)
	})
	if err != nil {
		slog.Warn("invalid join", "connId", conn.ID(), "error", err)
		return
	}

	// A re-join leaves the previous identity and drops back to unjoined
	// before the previous room's lock is released.
	prev, rejoin := h.registry.Lookup(conn.ID())
	if rejoin {
		unlock := h.locks.lock(prev.RoomID)
		h.release(prev.UserID)
		h.registry.Unbind(conn.ID(), prev.UserID)
		unlock()
	}

	user, outcome, err := h.resolve(conn, req)
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			slog.Warn("join rejected", "connId", conn.ID(), "room", req.RoomID, "error", err)
			h.reject(conn, err)
		} else {
			slog.Warn("join failed", "connId", conn.ID(), "room", req.RoomID, "error", err)
		}
		if rejoin {
			h.broadcaster.Broadcast(prev.RoomID)
		}
		return
	}

	slog.Info("user joined", "connId", conn.ID(), "userId", user.ID, "room", user.RoomID, "outcome", outcome)

	h.send(conn, domain.TypeJoin, domain.JoinReply{UserID: user.ID})
	h.broadcaster.Broadcast(user.RoomID)
	if rejoin && prev.RoomID != user.RoomID {
		h.broadcaster.Broadcast(prev.RoomID)
	}
}

// resolve classifies the join and binds the connection under the room lock.
func (h *Handler) resolve(conn domain.Connection, req domain.JoinPayload) (domain.User, reconnect.Outcome, error) {
	unlock := h.locks.lock(req.RoomID)
	defer unlock()

	user, outcome, err := h.joiner.Join(req)
	if err != nil {
		return domain.User{}, outcome, err
	}
	if _, err := h.registry.Bind(conn.ID(), user.ID, user.RoomID); err != nil {
		h.release(user.ID)
		return domain.User{}, outcome, err
	}
	return user, outcome, nil
}

func (h *Handler) vote(conn domain.Connection, raw json.RawMessage) {
	p, err := decodePayload[domain.VotePayload](h.validate, raw)
	if err != nil {
		slog.Warn("invalid vote", "connId", conn.ID(), "error", err)
		return
	}
	if err := h.votes.RecordVote(p.RoomID, p.UserID, *p.Value); err != nil {
		slog.Debug("vote ignored", "connId", conn.ID(), "error", err)
		return
	}
	h.broadcaster.Broadcast(p.RoomID)
}

func (h *Handler) setVisible(conn domain.Connection, raw json.RawMessage, visible bool) {
	p, err := decodePayload[domain.RoomPayload](h.validate, raw)
	if err != nil {
		slog.Warn("invalid visibility change", "connId", conn.ID(), "error", err)
		return
	}
	if err := h.votes.SetVotesVisible(p.RoomID, visible); err != nil {
		slog.Debug("visibility change ignored", "connId", conn.ID(), "error", err)
		return
	}
	h.broadcaster.Broadcast(p.RoomID)
}

func (h *Handler) reset(conn domain.Connection, raw json.RawMessage) {
	p, err := decodePayload[domain.RoomPayload](h.validate, raw)
	if err != nil {
		slog.Warn("invalid reset", "connId", conn.ID(), "error", err)
		return
	}
	if err := h.votes.ClearVotes(p.RoomID); err != nil {
		slog.Debug("reset ignored", "connId", conn.ID(), "error", err)
		return
	}
	h.broadcaster.Broadcast(p.RoomID)
}

// release marks the user disconnected unless another tab still holds it.
func (h *Handler) release(userID string) {
	if h.registry.SessionCount(userID) > 1 {
		return
	}
	if _, err := h.joiner.Leave(userID); err != nil {
		slog.Debug("disconnect of unknown user", "userId", userID, "error", err)
	}
}

func (h *Handler) reject(conn domain.Connection, cause error) {
	h.send(conn, domain.TypeError, domain.ErrorPayload{Message: cause.Error()})
	if err := conn.Close(); err != nil {
		slog.Debug("close after reject", "connId", conn.ID(), "error", err)
	}
}

func (h *Handler) send(conn domain.Connection, t domain.MessageType, payload any) {
	data, err := Encode(t, payload)
	if err != nil {
		slog.Error("encode", "type", t, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("send failed", "connId", conn.ID(), "type", t, "error", err)
	}
}
