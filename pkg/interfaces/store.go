package interfaces

import (
	"context"
	"time"

	"whatyousayin/pkg/types"
)

// MessageStore is the narrow persistence surface the ingestion pipeline
// depends on.
type MessageStore interface {
	// RoomExists reports whether a room exists and, if so, its
	// visibility and display name.
	RoomExists(ctx context.Context, roomID int64) (exists bool, isPublic bool, name string, err error)

	// MessageExists reports whether a message exists and which room it
	// belongs to. roomID is 0 for direct messages.
	MessageExists(ctx context.Context, messageID int64) (exists bool, roomID int64, err error)

	// InsertMessage persists a message and returns the server-assigned
	// identifier and creation timestamp.
	InsertMessage(ctx context.Context, content string, roomID int64, userID int64, replyToID *int64) (int64, time.Time, error)

	// ResolveUser maps a username to its user id. Returns
	// ErrUserNotFound for unknown identities.
	ResolveUser(ctx context.Context, username string) (int64, error)
}

// Store is the full persistence surface, consumed by the REST layer and
// connection setup in addition to the pipeline.
type Store interface {
	MessageStore

	CreateUser(ctx context.Context, username, email, hashedPassword string) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)

	CreateRoom(ctx context.Context, name, description string, isPublic bool, createdBy int64) (*types.Room, error)
	GetRoom(ctx context.Context, roomID int64) (*types.Room, error)
	ListPublicRooms(ctx context.Context, skip, limit int) ([]*types.Room, error)

	ListRoomMessages(ctx context.Context, roomID int64, skip, limit int) ([]*types.ChatMessage, error)

	HealthCheck(ctx context.Context) error
}
