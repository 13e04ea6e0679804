package interfaces

import "context"

// EventPublisher pushes canonical room events to a shared broker topic
// so sibling instances can relay them to their own local connections.
// Publishing is best-effort: a failure is logged by the caller and never
// fails the local broadcast.
type EventPublisher interface {
	Publish(ctx context.Context, roomID int64, event any) error
}
