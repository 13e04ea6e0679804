package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options bounds a connection's outbound path.
type Options struct {
	// SendBuffer is the per-connection outbound queue size.
	SendBuffer int
	// WriteTimeout caps each socket write.
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Connection wraps one WebSocket session. All writes go through a single
// writer goroutine fed by a bounded queue: a peer that stops reading
// fills its own queue and starts failing its own sends without delaying
// delivery to anyone else.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	username     string
	roomID       int64
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps an upgraded socket. Identity and room are fixed
// for the connection's lifetime; they are validated before this point.
func NewConnection(conn *websocket.Conn, username string, roomID int64, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, opts.SendBuffer),
		username:     username,
		roomID:       roomID,
		writeTimeout: opts.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues an event for delivery. It never blocks: a full queue
// means the peer has stalled and the send fails with ErrSendBufferFull,
// leaving cleanup to the caller.
func (c *Connection) WriteJSON(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close tears the session down. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Username returns the identity that opened the connection.
func (c *Connection) Username() string { return c.username }

// RoomID returns the joined room, or types.SystemRoomID for the system
// channel.
func (c *Connection) RoomID() int64 { return c.roomID }
