package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"whatyousayin/pkg/types"
)

// RemoteGate calls an external HTTP classifier. A transport or protocol
// failure is returned as an error so the pipeline can fall back to the
// local filter instead of blocking chat.
type RemoteGate struct {
	url    string
	client *http.Client
}

type moderateRequest struct {
	Content string `json:"content"`
}

type moderateResponse struct {
	IsSafe bool   `json:"is_safe"`
	Reason string `json:"reason"`
}

func NewRemoteGate(url string, timeout time.Duration) *RemoteGate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteGate{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Moderate classifies content via the remote service.
func (g *RemoteGate) Moderate(ctx context.Context, content string) (types.Verdict, error) {
	body, err := json.Marshal(moderateRequest{Content: content})
	if err != nil {
		return types.Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return types.Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return types.Verdict{}, fmt.Errorf("moderation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return types.Verdict{}, fmt.Errorf("moderation service returned status %d", resp.StatusCode)
	}

	var result moderateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.Verdict{}, fmt.Errorf("invalid moderation response: %w", err)
	}

	if result.IsSafe {
		return types.Safe(), nil
	}
	reason := result.Reason
	if reason == "" {
		reason = "Message content violates community guidelines"
	}
	return types.Unsafe(reason), nil
}
