package dispatch

import (
	"context"
	"log/slog"

	"whatyousayin/pkg/interfaces"
	"whatyousayin/pkg/types"
)

// connectionTable is the registry surface the dispatcher needs: room and
// global snapshots plus removal of dead connections.
type connectionTable interface {
	RoomConnections(roomID int64) []interfaces.Connection
	Connections() []interfaces.Connection
	Unregister(conn interfaces.Connection)
}

// presenceTable lets the dispatcher retire presence entries for
// connections it prunes.
type presenceTable interface {
	MarkOffline(username string, conn interfaces.Connection) bool
}

// Dispatcher delivers events to live connections. Every delivery walks a
// snapshot taken at call time; connections whose sends fail are pruned
// after iteration, never mid-loop.
type Dispatcher struct {
	registry  connectionTable
	presence  presenceTable
	publisher interfaces.EventPublisher
	log       *slog.Logger
}

// NewDispatcher wires a dispatcher. publisher may be nil when no
// cross-instance bridge is configured.
func NewDispatcher(registry connectionTable, presence presenceTable, publisher interfaces.EventPublisher, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		presence:  presence,
		publisher: publisher,
		log:       log,
	}
}

// BroadcastToRoom sends event to every connection in the room except
// exclude, then publishes the event to the fan-out bridge. A publish
// failure is logged and swallowed; local delivery has already happened.
func (d *Dispatcher) BroadcastToRoom(ctx context.Context, event any, roomID int64, exclude interfaces.Connection) {
	d.deliver(d.registry.RoomConnections(roomID), event, exclude)

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, roomID, event); err != nil {
			d.log.Warn("fan-out publish failed", "room_id", roomID, "error", err)
		}
	}
}

// RelayToRoom delivers an event received from a sibling instance to
// local room members only. It never republishes, which would echo the
// event back onto the broker.
func (d *Dispatcher) RelayToRoom(event any, roomID int64) {
	d.deliver(d.registry.RoomConnections(roomID), event, nil)
}

// BroadcastGlobal sends event to every connection across all rooms and
// the system channel. Used for presence transitions.
func (d *Dispatcher) BroadcastGlobal(event any) {
	d.deliver(d.registry.Connections(), event, nil)
}

// SendDirect sends to a single connection. Failures are swallowed: the
// peer is presumed gone and its own disconnect path cleans up.
func (d *Dispatcher) SendDirect(event any, conn interfaces.Connection) {
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(event); err != nil {
		d.log.Debug("direct send failed", "username", conn.Username(), "error", err)
	}
}

func (d *Dispatcher) deliver(conns []interfaces.Connection, event any, exclude interfaces.Connection) {
	var dead []interfaces.Connection
	for _, conn := range conns {
		if conn == exclude {
			continue
		}
		if err := conn.WriteJSON(event); err != nil {
			d.log.Debug("broadcast send failed, pruning connection",
				"username", conn.Username(), "room_id", conn.RoomID(), "error", err)
			dead = append(dead, conn)
		}
	}

	for _, conn := range dead {
		d.drop(conn)
	}
}

// drop removes a dead connection from the registry and presence tracker
// and announces the offline transition if it was the user's last one.
func (d *Dispatcher) drop(conn interfaces.Connection) {
	d.registry.Unregister(conn)
	_ = conn.Close()

	if d.presence.MarkOffline(conn.Username(), conn) {
		d.BroadcastGlobal(types.NewPresenceEvent(types.PresenceOffline, conn.Username()))
	}
}
