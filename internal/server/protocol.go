// Package server defines the JSON wire protocol exchanged with chat clients:
// typed envelopes, inbound payloads, and outbound message construction.
package server

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Envelope type identifiers for inbound and outbound frames.
const (
	TypeJoin         = "join"
	TypeChat         = "chat"
	TypeMessage      = "message"
	TypeRoomInfo     = "roomInfo"
	TypeNotification = "notification"
)

// Message kinds carried in the "type" field of a message payload.
const (
	KindChat   = "chat"
	KindSystem = "system"
)

// systemSender is the author name attached to join/leave notices.
const systemSender = "System"

// InboundEnvelope is a frame received from a client. The payload is kept
// raw until the type is known.
type InboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Envelope is a frame sent to a client.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// JoinPayload carries a join request. Bounds on both fields are a deliberate
// tightening over the browser client, which sends them unchecked; a payload
// that fails validation is dropped like any other malformed frame.
type JoinPayload struct {
	Username string `json:"username" validate:"required,max=64"`
	RoomCode string `json:"roomCode" validate:"required,max=32"`
}

// ChatPayload carries one chat message body.
type ChatPayload struct {
	Message string `json:"message"`
}

// Message is one chat or system notice delivered to room members. Messages
// are transient: built per event, broadcast once, never stored.
type Message struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"type"`
}

// RoomInfo is the occupancy snapshot broadcast after every join and leave.
type RoomInfo struct {
	RoomCode  string `json:"roomCode"`
	UserCount int    `json:"userCount"`
}

// Notification is a private acknowledgment sent only to a joining client.
type Notification struct {
	Message string `json:"message"`
}

var validate = validator.New()

// NewChatMessage builds a chat message attributed to the given display name.
func NewChatMessage(username, body string) Message {
	return Message{
		ID:        NewMessageID(),
		Username:  username,
		Body:      body,
		Timestamp: time.Now().UTC(),
		Kind:      KindChat,
	}
}

// NewSystemMessage builds a system notice such as a join or leave announcement.
func NewSystemMessage(body string) Message {
	return Message{
		ID:        NewMessageID(),
		Username:  systemSender,
		Body:      body,
		Timestamp: time.Now().UTC(),
		Kind:      KindSystem,
	}
}

// NewMessageID returns a process-unique message identifier. ULIDs embed a
// millisecond timestamp followed by random bits, so IDs sort by creation time.
func NewMessageID() string {
	return "msg_" + ulid.Make().String()
}

// NewMemberID returns a process-unique member identifier. Member IDs are
// diagnostic only and never used for routing.
func NewMemberID() string {
	return "user_" + uuid.NewString()
}

// encodeEnvelope marshals an outbound envelope into a single JSON frame.
func encodeEnvelope(envelopeType string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Type: envelopeType, Payload: payload})
}
