package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"whatyousayin/internal/dispatch"
	ws "whatyousayin/internal/websocket"
	"whatyousayin/pkg/interfaces"
	"whatyousayin/pkg/types"
)

type fakeConn struct {
	mu       sync.Mutex
	username string
	roomID   int64
	written  []any
	failWith error
	closed   bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.written = append(f.written, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Username() string { return f.username }
func (f *fakeConn) RoomID() int64    { return f.roomID }

func (f *fakeConn) events() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.written...)
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

type publishCall struct {
	roomID int64
	event  any
}

func (f *fakePublisher) Publish(_ context.Context, roomID int64, event any) error {
	f.calls = append(f.calls, publishCall{roomID: roomID, event: event})
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(publisher interfaces.EventPublisher) (*dispatch.Dispatcher, *ws.Registry, *ws.Presence) {
	registry := ws.NewRegistry()
	presence := ws.NewPresence()
	return dispatch.NewDispatcher(registry, presence, publisher, testLogger()), registry, presence
}

func join(registry *ws.Registry, presence *ws.Presence, conn *fakeConn) {
	registry.Register(conn)
	presence.MarkOnline(conn.username, conn)
}

func TestBroadcastToRoomExcludesSender(t *testing.T) {
	dispatcher, registry, presence := setup(nil)

	alice := &fakeConn{username: "alice", roomID: 1}
	bob := &fakeConn{username: "bob", roomID: 1}
	carol := &fakeConn{username: "carol", roomID: 2}
	join(registry, presence, alice)
	join(registry, presence, bob)
	join(registry, presence, carol)

	event := types.NewTypingEvent("alice", 1)
	dispatcher.BroadcastToRoom(context.Background(), event, 1, alice)

	require.Empty(t, alice.events(), "sender is excluded")
	require.Equal(t, []any{event}, bob.events())
	require.Empty(t, carol.events(), "other rooms do not receive room broadcasts")
}

func TestBroadcastPrunesDeadConnections(t *testing.T) {
	dispatcher, registry, presence := setup(nil)

	alive := &fakeConn{username: "alice", roomID: 1}
	dead := &fakeConn{username: "bob", roomID: 1, failWith: errors.New("send buffer full")}
	observer := &fakeConn{username: "carol", roomID: 2}
	join(registry, presence, alive)
	join(registry, presence, dead)
	join(registry, presence, observer)

	dispatcher.BroadcastToRoom(context.Background(), types.NewTypingEvent("alice", 1), 1, nil)

	require.True(t, dead.closed)
	require.Equal(t, 1, registry.CountInRoom(1))
	require.Equal(t, []string{"alice", "carol"}, presence.OnlineUsers())

	// The pruned user's offline transition reaches remaining peers.
	var sawOffline bool
	for _, e := range observer.events() {
		if pe, ok := e.(types.PresenceEvent); ok && pe.Username == "bob" && pe.Status == types.PresenceOffline {
			sawOffline = true
		}
	}
	require.True(t, sawOffline, "expected an offline presence event for the pruned user")
}

func TestBroadcastGlobalReachesAllRooms(t *testing.T) {
	dispatcher, registry, presence := setup(nil)

	alice := &fakeConn{username: "alice", roomID: 1}
	system := &fakeConn{username: "bob", roomID: types.SystemRoomID}
	join(registry, presence, alice)
	join(registry, presence, system)

	event := types.NewPresenceEvent(types.PresenceOnline, "carol")
	dispatcher.BroadcastGlobal(event)

	require.Equal(t, []any{event}, alice.events())
	require.Equal(t, []any{event}, system.events())
}

func TestBroadcastToRoomPublishesToBridge(t *testing.T) {
	publisher := &fakePublisher{}
	dispatcher, registry, presence := setup(publisher)

	alice := &fakeConn{username: "alice", roomID: 5}
	join(registry, presence, alice)

	event := types.NewUserJoinedEvent("bob", 5)
	dispatcher.BroadcastToRoom(context.Background(), event, 5, nil)

	require.Len(t, publisher.calls, 1)
	require.Equal(t, int64(5), publisher.calls[0].roomID)
	require.Equal(t, event, publisher.calls[0].event)
}

func TestPublishFailureDoesNotBlockLocalDelivery(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker down")}
	dispatcher, registry, presence := setup(publisher)

	alice := &fakeConn{username: "alice", roomID: 1}
	join(registry, presence, alice)

	event := types.NewTypingEvent("bob", 1)
	dispatcher.BroadcastToRoom(context.Background(), event, 1, nil)

	require.Equal(t, []any{event}, alice.events())
}

func TestRelayToRoomDoesNotRepublish(t *testing.T) {
	publisher := &fakePublisher{}
	dispatcher, registry, presence := setup(publisher)

	alice := &fakeConn{username: "alice", roomID: 1}
	join(registry, presence, alice)

	event := types.NewTypingEvent("remote", 1)
	dispatcher.RelayToRoom(event, 1)

	require.Equal(t, []any{event}, alice.events())
	require.Empty(t, publisher.calls, "relayed events must not echo back to the broker")
}

func TestSendDirectSwallowsFailures(t *testing.T) {
	dispatcher, _, _ := setup(nil)

	dead := &fakeConn{username: "alice", roomID: 1, failWith: errors.New("gone")}
	dispatcher.SendDirect(types.NewErrorEvent("nope"), dead)
	dispatcher.SendDirect(types.NewErrorEvent("nope"), nil)

	require.False(t, dead.closed, "direct sends do not prune")
}
