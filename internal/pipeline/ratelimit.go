package pipeline

import (
	"sync"
	"time"
)

// MessageLimiter caps messages per user per minute to blunt copy-paste
// spam before it reaches moderation or the store.
type MessageLimiter struct {
	mu        sync.Mutex
	perMinute int
	users     map[string]*userWindow
}

type userWindow struct {
	count       int
	windowStart time.Time
}

func NewMessageLimiter(perMinute int) *MessageLimiter {
	return &MessageLimiter{
		perMinute: perMinute,
		users:     make(map[string]*userWindow),
	}
}

// Allow reports whether the user may send another message in the
// current minute window.
func (l *MessageLimiter) Allow(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	window, ok := l.users[username]
	if !ok || now.Sub(window.windowStart) >= time.Minute {
		l.users[username] = &userWindow{count: 1, windowStart: now}
		return true
	}

	if window.count >= l.perMinute {
		return false
	}
	window.count++
	return true
}

// Cleanup drops windows idle for more than five minutes. Call it
// periodically to keep the map from accumulating departed users.
func (l *MessageLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for username, window := range l.users {
		if now.Sub(window.windowStart) > 5*time.Minute {
			delete(l.users, username)
		}
	}
}
