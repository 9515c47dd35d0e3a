package chat

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

type connSet map[string]struct{}

// SessionRegistry maps live connections to usernames and back.
// A user stays online while at least one of their connections is registered.
type SessionRegistry struct {
	mu       sync.RWMutex
	owners   map[string]string  // connectionID -> username
	sessions map[string]connSet // username -> connectionIDs
	presence *PresenceTracker
}

func NewSessionRegistry(presence *PresenceTracker) *SessionRegistry {
	return &SessionRegistry{
		owners:   make(map[string]string),
		sessions: make(map[string]connSet),
		presence: presence,
	}
}

// Register adds connectionID to the username's active set. It returns true
// when this made the user come online. Registering a connection that is
// already known is a no-op.
func (r *SessionRegistry) Register(connectionID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a connection cannot change owner without reconnecting
	if _, ok := r.owners[connectionID]; ok {
		return false
	}

	r.owners[connectionID] = username
	set, ok := r.sessions[username]
	if !ok {
		set = make(connSet)
		r.sessions[username] = set
	}
	set[connectionID] = struct{}{}

	if len(set) == 1 {
		return r.presence.Join(username)
	}
	return false
}

// Unregister removes connectionID. Unknown connections are ignored so
// duplicate or late close events are harmless.
func (r *SessionRegistry) Unregister(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.owners[connectionID]
	if !ok {
		return "", false
	}
	delete(r.owners, connectionID)

	set := r.sessions[username]
	delete(set, connectionID)
	if len(set) > 0 {
		return username, false
	}
	delete(r.sessions, username)
	return username, r.presence.Leave(username)
}

// ConnectionsFor returns a copy of the user's active connections, sorted.
func (r *SessionRegistry) ConnectionsFor(username string) []string {
	r.mu.RLock()
	ids := lo.Keys(r.sessions[username])
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (r *SessionRegistry) UsernameFor(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	username, ok := r.owners[connectionID]
	return username, ok
}

// Count returns the number of registered connections.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
