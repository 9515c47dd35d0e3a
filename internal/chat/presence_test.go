package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresenceTracker_JoinLeaveTransitions(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()

	// When alice joins twice
	req.True(tracker.Join("alice"))
	req.False(tracker.Join("alice"))

	// Then she is online once
	req.True(tracker.IsOnline("alice"))
	req.Equal([]string{"alice"}, tracker.Snapshot())

	// When she leaves twice
	req.True(tracker.Leave("alice"))
	req.False(tracker.Leave("alice"))

	// Then nobody is online
	req.False(tracker.IsOnline("alice"))
	req.Empty(tracker.Snapshot())
}

func TestPresenceTracker_LeaveUnknownUserIsNoop(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()

	req.False(tracker.Leave("ghost"))
	req.Empty(tracker.Snapshot())
	req.Nil(tracker.Drain())
}

func TestPresenceTracker_SnapshotIsSorted(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()

	for _, name := range []string{"carol", "alice", "bob"} {
		tracker.Join(name)
	}

	req.Equal([]string{"alice", "bob", "carol"}, tracker.Snapshot())
}

func TestPresenceTracker_SnapshotIsACopy(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()
	tracker.Join("alice")

	snapshot := tracker.Snapshot()
	snapshot[0] = "mallory"

	req.Equal([]string{"alice"}, tracker.Snapshot())
}

func TestPresenceTracker_DrainCoalescesTransitions(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()

	// Given alice flaps and bob joins
	tracker.Join("alice")
	tracker.Leave("alice")
	tracker.Join("alice")
	tracker.Join("bob")
	tracker.Leave("bob")

	// Then a single signal is pending
	select {
	case <-tracker.Changes():
	default:
		req.Fail("expected a pending change signal")
	}
	select {
	case <-tracker.Changes():
		req.Fail("signals should coalesce")
	default:
	}

	// And Drain reports the final state of each user once
	req.Equal([]PresenceChange{
		{Username: "alice", Online: true},
		{Username: "bob", Online: false},
	}, tracker.Drain())
	req.Nil(tracker.Drain())
}

func TestPresenceTracker_ConcurrentJoinLeave(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", i%10)
			tracker.Join(name)
			_ = tracker.Snapshot()
			if i%2 == 0 {
				tracker.Leave(name)
			}
		}(i)
	}
	wg.Wait()

	// Every snapshot entry is unique
	snapshot := tracker.Snapshot()
	seen := make(map[string]bool)
	for _, name := range snapshot {
		req.False(seen[name], "duplicate %s", name)
		seen[name] = true
		req.True(tracker.IsOnline(name))
	}
}
