package websocket

import "errors"

// Connection errors. ErrSendBufferFull marks a stalled peer; the sender
// treats the connection as dead and prunes it.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection send buffer full")
)
