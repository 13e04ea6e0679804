package interfaces

import (
	"context"

	"whatyousayin/pkg/types"
)

// ModerationGate classifies message content. A returned error means the
// gate itself failed; callers degrade to a local filter rather than
// blocking the message.
type ModerationGate interface {
	Moderate(ctx context.Context, content string) (types.Verdict, error)
}
