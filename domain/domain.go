package domain

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeJoin    MessageType = "JOIN"
	TypeVote    MessageType = "VOTE"
	TypeReveal  MessageType = "REVEAL"
	TypeConceal MessageType = "CONCEAL"
	TypeReset   MessageType = "RESET"
	TypeState   MessageType = "STATE"
	TypeError   MessageType = "ERROR"
)

type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	DisplayName    string `json:"displayName" validate:"required"`
	RoomID         string `json:"roomId" validate:"required"`
	ExistingUserID string `json:"existingUserId,omitempty"`
}

type JoinReply struct {
	UserID string `json:"userId"`
}

// VotePayload.Value is a pointer so that a missing value is rejected while
// an explicit "" remains a vote.
type VotePayload struct {
	UserID string  `json:"userId" validate:"required"`
	RoomID string  `json:"roomId" validate:"required"`
	Value  *string `json:"value" validate:"required"`
}

type RoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// User is one participant. Vote and DisconnectedAt are nil when unset.
type User struct {
	ID             string
	DisplayName    string
	RoomID         string
	Vote           *string
	HasVoted       bool
	DisconnectedAt *time.Time
}

type MemberView struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Vote        *string `json:"vote,omitempty"`
	HasVoted    bool    `json:"hasVoted"`
}

// Snapshot is the STATE payload. It never aliases store state.
type Snapshot struct {
	RoomID       string       `json:"roomId"`
	VotesVisible bool         `json:"votesVisible"`
	Members      []MemberView `json:"members"`
}

// Binding ties a live connection to the user it represents.
type Binding struct {
	ConnID string
	UserID string
	RoomID string
}

type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

type Broadcaster interface {
	Broadcast(roomID string)
}

type SessionRegistry interface {
	Attach(conn Connection) error
	Bind(connID, userID, roomID string) (Binding, error)
	Lookup(connID string) (Binding, bool)
	Detach(connID string) (Binding, bool)
	Unbind(connID, userID string) bool
	SessionCount(userID string) int
}

type MessageHandler interface {
	Open(conn Connection) error
	Handle(conn Connection, data []byte)
	Close(conn Connection)
}
