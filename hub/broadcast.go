package hub

import (
	"log/slog"

	"planning-room-server/domain"
	"planning-room-server/protocol"
)

type SnapshotSource interface {
	Snapshot(roomID, viewerID string) (domain.Snapshot, bool)
}

type Broadcaster struct {
	hub   *Hub
	state SnapshotSource
}

func NewBroadcaster(h *Hub, state SnapshotSource) *Broadcaster {
	return &Broadcaster{hub: h, state: state}
}

// Broadcast pushes one STATE snapshot of roomID to every session bound to
// it. Sends never block; a recipient that cannot take the message is closed
// and goes through the normal disconnect path.
func (b *Broadcaster) Broadcast(roomID string) {
	snap, ok := b.state.Snapshot(roomID, "")
	if !ok {
		slog.Debug("broadcast skipped, room gone", "room", roomID)
		return
	}
	data, err := protocol.Encode(domain.TypeState, snap)
	if err != nil {
		slog.Error("encode state", "room", roomID, "error", err)
		return
	}

	for _, conn := range b.hub.SessionsFor(roomID) {
		if err := conn.Send(data); err != nil {
			slog.Warn("send failed, closing", "room", roomID, "connId", conn.ID(), "error", err)
			go conn.Close()
		}
	}
}
