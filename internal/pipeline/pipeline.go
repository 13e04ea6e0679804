package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"whatyousayin/pkg/interfaces"
	"whatyousayin/pkg/types"
)

// broadcaster is the dispatcher surface the pipeline needs.
type broadcaster interface {
	BroadcastToRoom(ctx context.Context, event any, roomID int64, exclude interfaces.Connection)
}

// fallbackFilter is the local deny-list used when the gate fails.
type fallbackFilter interface {
	Check(content string) types.Verdict
}

// Submission is one inbound chat message from a connected client.
type Submission struct {
	RoomID    int64
	Username  string
	Content   string
	ReplyToID *int64
}

// Pipeline runs the ordered ingestion flow for one submission:
// validate, moderate, verify reply target, persist, broadcast. The
// first failing step short-circuits the rest.
type Pipeline struct {
	store      interfaces.MessageStore
	gate       interfaces.ModerationGate
	fallback   fallbackFilter
	dispatcher broadcaster
	limiter    *MessageLimiter
	maxRunes   int
	log        *slog.Logger
}

// Config carries pipeline construction parameters. Gate may be nil when
// no remote moderation service is configured; the fallback filter then
// handles every message.
type Config struct {
	Store      interfaces.MessageStore
	Gate       interfaces.ModerationGate
	Fallback   fallbackFilter
	Dispatcher broadcaster
	Limiter    *MessageLimiter
	MaxRunes   int
	Log        *slog.Logger
}

func New(cfg Config) *Pipeline {
	maxRunes := cfg.MaxRunes
	if maxRunes <= 0 {
		maxRunes = types.MaxContentRunes
	}
	return &Pipeline{
		store:      cfg.Store,
		gate:       cfg.Gate,
		fallback:   cfg.Fallback,
		dispatcher: cfg.Dispatcher,
		limiter:    cfg.Limiter,
		maxRunes:   maxRunes,
		log:        cfg.Log,
	}
}

// Submit processes one message. A returned *Rejection carries a
// user-facing reason for an error frame; any other error is internal
// and reported to the sender generically. Broadcast failures for
// individual recipients never surface here; by then the message is
// durably persisted.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) error {
	content := types.NormalizeContent(sub.Content)
	if err := types.ValidateContent(content, p.maxRunes); err != nil {
		switch {
		case errors.Is(err, types.ErrEmptyContent):
			return &Rejection{Reason: "Empty message"}
		case errors.Is(err, types.ErrContentTooLong):
			return &Rejection{Reason: "Message too long"}
		default:
			return err
		}
	}

	if p.limiter != nil && !p.limiter.Allow(sub.Username) {
		return &Rejection{Reason: "You are sending messages too quickly"}
	}

	verdict := p.moderate(ctx, content)
	if !verdict.IsSafe {
		reason := verdict.Reason
		if reason == "" {
			reason = "Message content violates community guidelines"
		}
		return &Rejection{Reason: reason}
	}

	if sub.ReplyToID != nil {
		exists, roomID, err := p.store.MessageExists(ctx, *sub.ReplyToID)
		if err != nil {
			return fmt.Errorf("reply target lookup failed: %w", err)
		}
		if !exists {
			return &Rejection{Reason: "Reply target not found"}
		}
		if roomID != sub.RoomID {
			return &Rejection{Reason: "Reply target is in a different room"}
		}
	}

	userID, err := p.store.ResolveUser(ctx, sub.Username)
	if errors.Is(err, interfaces.ErrUserNotFound) {
		return &Rejection{Reason: "Unknown sender identity"}
	}
	if err != nil {
		return fmt.Errorf("sender lookup failed: %w", err)
	}

	id, createdAt, err := p.store.InsertMessage(ctx, content, sub.RoomID, userID, sub.ReplyToID)
	if err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	event := types.MessageEvent{
		Type:      types.EventMessage,
		ID:        id,
		Content:   content,
		RoomID:    sub.RoomID,
		UserID:    userID,
		Username:  sub.Username,
		ReplyToID: sub.ReplyToID,
		CreatedAt: createdAt,
	}
	p.dispatcher.BroadcastToRoom(ctx, event, sub.RoomID, nil)

	return nil
}

// moderate consults the remote gate and degrades to the local filter on
// gate failure. Moderation unavailability never halts chat.
func (p *Pipeline) moderate(ctx context.Context, content string) types.Verdict {
	if p.gate != nil {
		verdict, err := p.gate.Moderate(ctx, content)
		if err == nil {
			return verdict
		}
		p.log.Warn("moderation gate unavailable, using local filter", "error", err)
	}
	if p.fallback != nil {
		return p.fallback.Check(content)
	}
	return types.Safe()
}
