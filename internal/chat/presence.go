package chat

import (
	"cmp"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// PresenceChange reports the state a user ended up in after one or more
// transitions since the last Drain.
type PresenceChange struct {
	Username string
	Online   bool
}

// PresenceTracker owns the set of online usernames.
//
// Every genuine transition marks the user dirty and signals Changes.
// Consumers call Drain to read the final state of each dirty user, so a
// burst of join/leave pairs collapses into one notification and nothing
// ever blocks while the lock is held.
type PresenceTracker struct {
	mu      sync.RWMutex
	online  map[string]struct{}
	dirty   map[string]struct{}
	changes chan struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		online:  make(map[string]struct{}),
		dirty:   make(map[string]struct{}),
		changes: make(chan struct{}, 1),
	}
}

// Join returns true only on an OFFLINE -> ONLINE transition.
func (p *PresenceTracker) Join(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.online[username]; ok {
		return false
	}
	p.online[username] = struct{}{}
	p.markDirty(username)
	return true
}

// Leave returns true only on an ONLINE -> OFFLINE transition.
func (p *PresenceTracker) Leave(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.online[username]; !ok {
		return false
	}
	delete(p.online, username)
	p.markDirty(username)
	return true
}

func (p *PresenceTracker) IsOnline(username string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[username]
	return ok
}

// Snapshot returns the online users sorted by name.
func (p *PresenceTracker) Snapshot() []string {
	p.mu.RLock()
	users := lo.Keys(p.online)
	p.mu.RUnlock()

	slices.Sort(users)
	return users
}

// Changes is signalled after any transition. It has a buffer of one.
func (p *PresenceTracker) Changes() <-chan struct{} {
	return p.changes
}

// Drain returns the pending changes with their current state and clears them.
func (p *PresenceTracker) Drain() []PresenceChange {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.dirty) == 0 {
		return nil
	}
	out := make([]PresenceChange, 0, len(p.dirty))
	for username := range p.dirty {
		_, online := p.online[username]
		out = append(out, PresenceChange{Username: username, Online: online})
	}
	p.dirty = make(map[string]struct{})

	slices.SortFunc(out, func(a, b PresenceChange) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return out
}

// markDirty must be called with mu held.
func (p *PresenceTracker) markDirty(username string) {
	p.dirty[username] = struct{}{}
	select {
	case p.changes <- struct{}{}:
	default:
	}
}
