package types

import (
	"time"
)

// SystemRoomID is the reserved room identifier for the global system
// channel used by presence and cross-room traffic.
const SystemRoomID int64 = 0

// User represents a registered account. The password hash never leaves
// the server.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Room is a named, persisted channel. Private rooms are neither listable
// nor joinable over the realtime endpoints.
type Room struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsPublic    bool      `json:"is_public"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatMessage is the persisted message entity. RoomID is nil for direct
// messages; RecipientID is reserved for future DM routing and never set
// by the room pipeline.
type ChatMessage struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	RoomID      *int64    `json:"room_id"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	RecipientID *int64    `json:"recipient_id,omitempty"`
	ReplyToID   *int64    `json:"reply_to_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Verdict is the transient result of one moderation call. It is only
// persisted indirectly, as the reason relayed to a rejected sender.
type Verdict struct {
	IsSafe bool
	Reason string
}

// Safe is the verdict for content no classifier objected to.
func Safe() Verdict { return Verdict{IsSafe: true} }

// Unsafe builds a rejection verdict with a user-facing reason.
func Unsafe(reason string) Verdict { return Verdict{IsSafe: false, Reason: reason} }
