package websocket

import (
	"sync"

	"whatyousayin/pkg/interfaces"
)

// Registry tracks live connections per room. One coarse lock guards both
// the room→connections map and the reverse index; every hold is O(1) or
// a snapshot copy and never spans I/O.
type Registry struct {
	mu     sync.Mutex
	rooms  map[int64]map[interfaces.Connection]struct{}
	byConn map[interfaces.Connection]int64
}

// NewRegistry creates an empty registry. Registries are injected, never
// shared package state, so tests get isolated instances.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[int64]map[interfaces.Connection]struct{}),
		byConn: make(map[interfaces.Connection]int64),
	}
}

// Register adds a connection to its room's set, creating the set if
// absent.
func (r *Registry) Register(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	roomID := conn.RoomID()

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[roomID]
	if !ok {
		set = make(map[interfaces.Connection]struct{})
		r.rooms[roomID] = set
	}
	set[conn] = struct{}{}
	r.byConn[conn] = roomID
}

// Unregister removes a connection from whichever room holds it and
// deletes the room's set once empty. Idempotent.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.byConn[conn]
	if !ok {
		return
	}
	delete(r.byConn, conn)

	if set, ok := r.rooms[roomID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// CountInRoom returns the number of live connections in a room.
func (r *Registry) CountInRoom(roomID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// RoomConnections returns a point-in-time snapshot of a room's
// connections. Callers iterate the snapshot, never the live set.
func (r *Registry) RoomConnections(roomID int64) []interfaces.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.rooms[roomID]
	conns := make([]interfaces.Connection, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// Connections returns a snapshot of every connection across all rooms,
// system channel included.
func (r *Registry) Connections() []interfaces.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]interfaces.Connection, 0, len(r.byConn))
	for conn := range r.byConn {
		conns = append(conns, conn)
	}
	return conns
}

// Stats reports registry size for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return map[string]int{
		"total_connections": len(r.byConn),
		"active_rooms":      len(r.rooms),
	}
}
