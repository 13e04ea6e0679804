package types

import (
	"fmt"
	"time"
)

// Inbound frame types accepted from clients.
const (
	FrameMessage = "message"
	FrameTyping  = "typing"
)

// Outbound event types.
const (
	EventConnected    = "connected"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventTyping       = "typing"
	EventMessage      = "message"
	EventError        = "error"
	EventPresence     = "presence"
	EventPresenceSync = "presence_sync"
)

// Presence statuses carried by EventPresence frames.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Inbound is the shape of every client frame. Type discriminates; the
// remaining fields are only meaningful for "message" frames.
type Inbound struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	ReplyToID *int64 `json:"reply_to_id"`
}

// ConnectedEvent is sent once to a client after a successful room join.
type ConnectedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	RoomID  int64  `json:"room_id"`
}

func NewConnectedEvent(roomName string, roomID int64) ConnectedEvent {
	return ConnectedEvent{
		Type:    EventConnected,
		Message: fmt.Sprintf("Connected to %s", roomName),
		RoomID:  roomID,
	}
}

// RoomActivityEvent covers user_joined, user_left and typing frames,
// which share a shape.
type RoomActivityEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	RoomID   int64  `json:"room_id"`
}

func NewUserJoinedEvent(username string, roomID int64) RoomActivityEvent {
	return RoomActivityEvent{Type: EventUserJoined, Username: username, RoomID: roomID}
}

func NewUserLeftEvent(username string, roomID int64) RoomActivityEvent {
	return RoomActivityEvent{Type: EventUserLeft, Username: username, RoomID: roomID}
}

func NewTypingEvent(username string, roomID int64) RoomActivityEvent {
	return RoomActivityEvent{Type: EventTyping, Username: username, RoomID: roomID}
}

// MessageEvent is the canonical broadcast form of a persisted message.
// ID and CreatedAt are the store-assigned values, never client input.
type MessageEvent struct {
	Type      string    `json:"type"`
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	RoomID    int64     `json:"room_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ReplyToID *int64    `json:"reply_to_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorEvent reports a message-recoverable failure to the sender. The
// connection stays open.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}

// PresenceEvent announces a user's 0→1 or 1→0 connection transition on
// the system channel.
type PresenceEvent struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Username string `json:"username"`
}

func NewPresenceEvent(status, username string) PresenceEvent {
	return PresenceEvent{Type: EventPresence, Status: status, Username: username}
}

// PresenceSyncEvent is sent once on system-channel connect with the
// point-in-time set of online users.
type PresenceSyncEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

func NewPresenceSyncEvent(users []string) PresenceSyncEvent {
	return PresenceSyncEvent{Type: EventPresenceSync, Users: users}
}
