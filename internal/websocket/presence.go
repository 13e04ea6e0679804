package websocket

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"whatyousayin/pkg/interfaces"
)

// Presence tracks which usernames hold at least one live connection,
// across rooms and the system channel. A username key exists iff its set
// is non-empty.
type Presence struct {
	mu     sync.Mutex
	byUser map[string]map[interfaces.Connection]struct{}
}

// NewPresence creates an empty tracker. The map is a declared field
// initialized here, never attached lazily.
func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[string]map[interfaces.Connection]struct{}),
	}
}

// MarkOnline records a connection for a username. It reports true only
// on the 0→1 transition; further connections for the same user (extra
// tabs, other rooms) report false so callers emit each "online" event
// exactly once.
func (p *Presence) MarkOnline(username string, conn interfaces.Connection) bool {
	if username == "" || conn == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.byUser[username]
	if !ok {
		set = make(map[interfaces.Connection]struct{})
		p.byUser[username] = set
	}
	wentOnline := len(set) == 0
	set[conn] = struct{}{}
	return wentOnline
}

// MarkOffline removes a connection for a username. It reports true only
// on the 1→0 transition and prunes the emptied key. Idempotent for
// connections already removed.
func (p *Presence) MarkOffline(username string, conn interfaces.Connection) bool {
	if username == "" || conn == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.byUser[username]
	if !ok {
		return false
	}
	if _, held := set[conn]; !held {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(p.byUser, username)
		return true
	}
	return false
}

// OnlineUsers returns a sorted point-in-time snapshot of usernames with
// at least one live connection.
func (p *Presence) OnlineUsers() []string {
	p.mu.Lock()
	users := lo.Keys(p.byUser)
	p.mu.Unlock()

	sort.Strings(users)
	return users
}

// OnlineCount returns the number of distinct online users.
func (p *Presence) OnlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byUser)
}
