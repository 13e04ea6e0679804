package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RoomBroadcaster is the local delivery path for events received from
// sibling instances. Relayed events must not be republished.
type RoomBroadcaster interface {
	RelayToRoom(event any, roomID int64)
}

// envelope wraps a room event on the broker. Origin identifies the
// publishing instance so subscribers can drop their own events instead
// of echoing them back to local clients.
type envelope struct {
	Origin string          `json:"origin"`
	RoomID int64           `json:"room_id"`
	Event  json.RawMessage `json:"event"`
}

// RedisBridge publishes canonical room events to per-room pub/sub
// channels and relays sibling events into the local dispatcher. Both
// directions are best-effort: instances sharing the store stay usable
// when the broker is down, at the cost of cross-instance delivery.
type RedisBridge struct {
	client *redis.Client
	origin string
	log    *slog.Logger
}

func NewRedisBridge(redisURL string, log *slog.Logger) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &RedisBridge{
		client: redis.NewClient(opts),
		origin: uuid.NewString(),
		log:    log,
	}, nil
}

// Origin returns this instance's identifier on the broker.
func (b *RedisBridge) Origin() string { return b.origin }

// Publish pushes one event to the room's channel. Errors propagate to
// the caller, which logs and continues; the local broadcast has already
// happened.
func (b *RedisBridge) Publish(ctx context.Context, roomID int64, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	data, err := json.Marshal(envelope{
		Origin: b.origin,
		RoomID: roomID,
		Event:  payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	return b.client.Publish(ctx, channelForRoom(roomID), data).Err()
}

// Run subscribes to every room channel and relays sibling events to
// local connections until the context is cancelled.
func (b *RedisBridge) Run(ctx context.Context, relay RoomBroadcaster) {
	sub := b.client.PSubscribe(ctx, "room:*")
	defer func() { _ = sub.Close() }()

	b.log.Info("fan-out bridge subscribed", "origin", b.origin)

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handlePayload(msg.Payload, relay)
		case <-ctx.Done():
			return
		}
	}
}

// handlePayload decodes one broker message and relays it locally unless
// this instance published it. Malformed payloads are logged and
// dropped.
func (b *RedisBridge) handlePayload(payload string, relay RoomBroadcaster) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Warn("dropping malformed fan-out payload", "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	relay.RelayToRoom(env.Event, env.RoomID)
}

// Close releases the broker connection.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}

func channelForRoom(roomID int64) string {
	return fmt.Sprintf("room:%d", roomID)
}
