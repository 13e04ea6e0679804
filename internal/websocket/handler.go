package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"whatyousayin/internal/auth"
	"whatyousayin/internal/dispatch"
	"whatyousayin/internal/pipeline"
	"whatyousayin/pkg/interfaces"
	"whatyousayin/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect cross-origin from the web frontend;
		// auth happens via the bearer token, not the Origin header.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// HandlerConfig bounds the connection lifecycle.
type HandlerConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (c HandlerConfig) withDefaults() HandlerConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// Handler owns the two realtime endpoints: per-room channels and the
// global system channel. Connection-fatal failures (bad token, missing
// or private room) close the socket with a policy-violation code and no
// error frame; anything after a successful join surfaces as an in-band
// error frame instead.
type Handler struct {
	registry   *Registry
	presence   *Presence
	dispatcher *dispatch.Dispatcher
	pipeline   *pipeline.Pipeline
	store      interfaces.Store
	tokens     *auth.TokenManager
	cfg        HandlerConfig
	log        *slog.Logger
}

func NewHandler(
	registry *Registry,
	presence *Presence,
	dispatcher *dispatch.Dispatcher,
	pl *pipeline.Pipeline,
	store interfaces.Store,
	tokens *auth.TokenManager,
	cfg HandlerConfig,
	log *slog.Logger,
) *Handler {
	return &Handler{
		registry:   registry,
		presence:   presence,
		dispatcher: dispatcher,
		pipeline:   pl,
		store:      store,
		tokens:     tokens,
		cfg:        cfg.withDefaults(),
		log:        log,
	}
}

// HandleRoom serves GET /ws/{room_id}. The bearer token travels as a
// query parameter because browsers cannot set headers on WebSocket
// dials.
func (h *Handler) HandleRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(r.PathValue("room_id"), 10, 64)
	if err != nil || roomID == types.SystemRoomID {
		http.Error(w, "invalid room id", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	username, err := h.authenticate(r)
	if err != nil {
		h.closeWithPolicyViolation(ws, "")
		return
	}

	exists, isPublic, roomName, err := h.store.RoomExists(r.Context(), roomID)
	if err != nil {
		h.log.Error("room lookup failed during connect", "room_id", roomID, "error", err)
		h.closeWithCode(ws, websocket.CloseInternalServerErr, "")
		return
	}
	if !exists {
		h.closeWithPolicyViolation(ws, "Room not found")
		return
	}
	if !isPublic {
		h.closeWithPolicyViolation(ws, "Room is private")
		return
	}

	conn := NewConnection(ws, username, roomID, Options{
		SendBuffer:   h.cfg.SendBuffer,
		WriteTimeout: h.cfg.WriteTimeout,
	})

	h.registry.Register(conn)
	if h.presence.MarkOnline(username, conn) {
		h.dispatcher.BroadcastGlobal(types.NewPresenceEvent(types.PresenceOnline, username))
	}

	h.dispatcher.SendDirect(types.NewConnectedEvent(roomName, roomID), conn)
	h.dispatcher.BroadcastToRoom(r.Context(), types.NewUserJoinedEvent(username, roomID), roomID, conn)

	h.log.Info("room connection opened", "username", username, "room_id", roomID)

	h.runRoomConnection(conn)
}

// HandleSystem serves GET /ws/system: presence events and, eventually,
// direct messages. Inbound frames other than heartbeats are ignored
// until DM routing exists.
func (h *Handler) HandleSystem(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	username, err := h.authenticate(r)
	if err != nil {
		h.closeWithPolicyViolation(ws, "")
		return
	}

	conn := NewConnection(ws, username, types.SystemRoomID, Options{
		SendBuffer:   h.cfg.SendBuffer,
		WriteTimeout: h.cfg.WriteTimeout,
	})

	h.registry.Register(conn)
	if h.presence.MarkOnline(username, conn) {
		h.dispatcher.BroadcastGlobal(types.NewPresenceEvent(types.PresenceOnline, username))
	}

	h.dispatcher.SendDirect(types.NewPresenceSyncEvent(h.presence.OnlineUsers()), conn)

	h.log.Info("system connection opened", "username", username)

	h.runSystemConnection(conn)
}

func (h *Handler) authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	return h.tokens.Verify(token)
}

// runRoomConnection reads frames until the transport drops, then runs
// the disconnect path. Deregistration and the departure broadcast
// happen on every exit, normal or abrupt, exactly once.
func (h *Handler) runRoomConnection(conn *Connection) {
	username := conn.Username()
	roomID := conn.RoomID()

	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		if h.presence.MarkOffline(username, conn) {
			h.dispatcher.BroadcastGlobal(types.NewPresenceEvent(types.PresenceOffline, username))
		}
		h.dispatcher.BroadcastToRoom(context.Background(), types.NewUserLeftEvent(username, roomID), roomID, nil)
		h.log.Info("room connection closed", "username", username, "room_id", roomID)
	}()

	h.readLoop(conn, func(ctx context.Context, frame types.Inbound) {
		switch frame.Type {
		case types.FrameMessage:
			h.submitMessage(ctx, conn, frame)
		case types.FrameTyping:
			// Typing indicators bypass moderation and persistence and
			// are relayed to everyone else in the room.
			h.dispatcher.BroadcastToRoom(ctx, types.NewTypingEvent(username, roomID), roomID, conn)
		default:
			// Unknown frame types are ignored, not errors.
		}
	})
}

// runSystemConnection mirrors the room lifecycle without join/leave
// announcements; the system channel has no room membership.
func (h *Handler) runSystemConnection(conn *Connection) {
	username := conn.Username()

	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		if h.presence.MarkOffline(username, conn) {
			h.dispatcher.BroadcastGlobal(types.NewPresenceEvent(types.PresenceOffline, username))
		}
		h.log.Info("system connection closed", "username", username)
	}()

	h.readLoop(conn, func(ctx context.Context, frame types.Inbound) {
		// DM routing over the system channel is a future extension;
		// frames are read and dropped so clients are not disconnected
		// for sending them.
	})
}

// readLoop pumps inbound frames through handle, one at a time. Frames
// from a single connection are processed strictly in arrival order; the
// next read does not start until the previous frame finished the
// pipeline.
func (h *Handler) readLoop(conn *Connection, handle func(ctx context.Context, frame types.Inbound)) {
	ws := conn.conn

	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read error", "username", conn.Username(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame types.Inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			h.dispatcher.SendDirect(types.NewErrorEvent("Invalid frame"), conn)
			continue
		}

		handle(context.Background(), frame)
	}
}

// submitMessage runs the ingestion pipeline and maps failures onto the
// error taxonomy: rejections carry their reason to the sender, internal
// failures get a generic frame and a log line. Neither closes the
// connection.
func (h *Handler) submitMessage(ctx context.Context, conn *Connection, frame types.Inbound) {
	err := h.pipeline.Submit(ctx, pipeline.Submission{
		RoomID:    conn.RoomID(),
		Username:  conn.Username(),
		Content:   frame.Content,
		ReplyToID: frame.ReplyToID,
	})
	if err == nil {
		return
	}

	var rejection *pipeline.Rejection
	if errors.As(err, &rejection) {
		h.dispatcher.SendDirect(types.NewErrorEvent(rejection.Reason), conn)
		return
	}

	h.log.Error("message submission failed",
		"username", conn.Username(), "room_id", conn.RoomID(), "error", err)
	h.dispatcher.SendDirect(types.NewErrorEvent("Unable to send message right now"), conn)
}

func (h *Handler) closeWithPolicyViolation(ws *websocket.Conn, reason string) {
	h.closeWithCode(ws, websocket.ClosePolicyViolation, reason)
}

func (h *Handler) closeWithCode(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = ws.Close()
}
