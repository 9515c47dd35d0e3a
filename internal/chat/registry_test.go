package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_UserStaysOnlineUntilLastConnection(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceTracker()
	registry := NewSessionRegistry(presence)

	// Given alice connects from two devices
	req.True(registry.Register("c1", "alice"))
	req.False(registry.Register("c2", "alice"))
	req.Equal([]string{"c1", "c2"}, registry.ConnectionsFor("alice"))
	req.Equal(2, registry.Count())

	// When the first one closes
	username, offline := registry.Unregister("c1")

	// Then alice is still online
	req.Equal("alice", username)
	req.False(offline)
	req.True(presence.IsOnline("alice"))
	req.Equal([]string{"c2"}, registry.ConnectionsFor("alice"))

	// When the last one closes
	username, offline = registry.Unregister("c2")

	// Then alice goes offline
	req.Equal("alice", username)
	req.True(offline)
	req.False(presence.IsOnline("alice"))
	req.Empty(registry.ConnectionsFor("alice"))
	req.Zero(registry.Count())
}

func TestSessionRegistry_RegisterIsIdempotent(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceTracker()
	registry := NewSessionRegistry(presence)

	req.True(registry.Register("c1", "alice"))
	req.False(registry.Register("c1", "alice"))
	// a connection is never moved to another user
	req.False(registry.Register("c1", "bob"))

	req.Equal([]string{"c1"}, registry.ConnectionsFor("alice"))
	req.Empty(registry.ConnectionsFor("bob"))
	req.False(presence.IsOnline("bob"))

	owner, ok := registry.UsernameFor("c1")
	req.True(ok)
	req.Equal("alice", owner)
}

func TestSessionRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceTracker()
	registry := NewSessionRegistry(presence)
	registry.Register("c1", "alice")

	username, offline := registry.Unregister("nope")
	req.Empty(username)
	req.False(offline)

	// Unregistering twice only counts once
	registry.Unregister("c1")
	username, offline = registry.Unregister("c1")
	req.Empty(username)
	req.False(offline)
	req.Empty(presence.Snapshot())
}

func TestSessionRegistry_ConnectionsForIsACopy(t *testing.T) {
	req := require.New(t)
	registry := NewSessionRegistry(NewPresenceTracker())
	registry.Register("c1", "alice")

	ids := registry.ConnectionsFor("alice")
	ids[0] = "tampered"

	req.Equal([]string{"c1"}, registry.ConnectionsFor("alice"))
}
