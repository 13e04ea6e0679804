package interfaces

// Connection is one live bidirectional transport session. Implementations
// must make WriteJSON safe for concurrent use and must never block it on
// a slow peer beyond their configured send bound; a send that cannot be
// accepted returns an error instead.
type Connection interface {
	// WriteJSON queues a JSON event for delivery to the client.
	WriteJSON(v any) error

	// Close tears down the transport. Safe to call more than once.
	Close() error

	// Username returns the authenticated identity that opened the
	// connection.
	Username() string

	// RoomID returns the room this connection joined, or
	// types.SystemRoomID for the global system channel.
	RoomID() int64
}
