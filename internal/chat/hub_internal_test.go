package chat

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type flagStub struct {
	mu     sync.Mutex
	stored []string
	writes map[string]bool
}

func (s *flagStub) Save(_ context.Context, msg ChatMessage) (ChatMessage, error) {
	return msg, nil
}

func (s *flagStub) ExistsUser(context.Context, string) (bool, error) {
	return true, nil
}

func (s *flagStub) FindUsersOnline(context.Context) ([]string, error) {
	return s.stored, nil
}

func (s *flagStub) SetOnlineFlag(_ context.Context, username string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writes == nil {
		s.writes = make(map[string]bool)
	}
	s.writes[username] = online
	return nil
}

func newTestHub(gateway Gateway) *Hub {
	return NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), gateway)
}

func TestHub_SendToUnknownConnection(t *testing.T) {
	hub := newTestHub(&flagStub{})

	err := hub.SendTo("nope", []byte("{}"))

	require.ErrorIs(t, err, ErrUnknownConnection)
}

func TestHub_SlowClientIsDisconnected(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(&flagStub{})
	client := NewClient(hub, nil, Identity{Username: "alice"}, 0, 1)
	hub.attach(client, 0)

	// Given the buffer already holds one frame
	req.NoError(hub.SendTo(client.ID, []byte("first")))

	// When another frame arrives
	err := hub.SendTo(client.ID, []byte("second"))

	// Then delivery fails and the client is shut down
	req.ErrorIs(err, ErrDelivery)
	req.ErrorIs(hub.SendTo(client.ID, []byte("third")), ErrUnknownConnection)

	// The queued frame is still drained before the channel reports closed
	frame, ok := <-client.Outbound()
	req.True(ok)
	req.Equal([]byte("first"), frame)
	_, ok = <-client.Outbound()
	req.False(ok)
}

func TestHub_OnDisconnectIsIdempotent(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(&flagStub{})
	client := NewClient(hub, nil, Identity{Username: "alice"}, 0, 4)
	hub.attach(client, 0)
	req.Equal([]string{"alice"}, hub.OnlineUsers())

	hub.OnDisconnect(client.ID)
	hub.OnDisconnect(client.ID)

	req.Empty(hub.OnlineUsers())
	_, ok := hub.Client(client.ID)
	req.False(ok)
}

func TestHub_BroadcastLocalReachesEveryClient(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(&flagStub{})
	a := NewClient(hub, nil, Identity{Username: "alice"}, 0, 4)
	b := NewClient(hub, nil, Identity{Username: "bob"}, 0, 4)
	hub.attach(a, 0)
	hub.attach(b, 0)

	hub.Broadcast(TopicOnlineUsers, []byte("snapshot"))

	req.Equal([]byte("snapshot"), <-a.Outbound())
	req.Equal([]byte("snapshot"), <-b.Outbound())
}

type recordingPublisher struct {
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ []byte) error {
	p.topics = append(p.topics, topic)
	return nil
}

func TestHub_BroadcastGoesThroughPublisher(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(&flagStub{})
	publisher := &recordingPublisher{}
	hub.UsePublisher(publisher)
	client := NewClient(hub, nil, Identity{Username: "alice"}, 0, 4)
	hub.attach(client, 0)

	hub.Broadcast(TopicOnlineUsers, []byte("snapshot"))

	// Delivery is left to whatever the publisher hands back
	req.Equal([]string{TopicOnlineUsers}, publisher.topics)
	req.Empty(client.Outbound())
}

func TestHub_ResetStaleFlagsKeepsLiveUsers(t *testing.T) {
	req := require.New(t)
	gateway := &flagStub{stored: []string{"alice", "ghost"}}
	hub := newTestHub(gateway)
	hub.attach(NewClient(hub, nil, Identity{Username: "alice"}, 0, 4), 0)

	req.NoError(hub.ResetStaleFlags(context.Background()))

	req.Equal(map[string]bool{"ghost": false}, gateway.writes)
}

func TestHub_RunWritesFlagsForPresenceChanges(t *testing.T) {
	req := require.New(t)
	gateway := &flagStub{}
	hub := newTestHub(gateway)
	go hub.Run()
	defer hub.Shutdown(context.Background())

	client := NewClient(hub, nil, Identity{Username: "alice"}, 0, 4)
	hub.attach(client, 0)

	req.Eventually(func() bool {
		gateway.mu.Lock()
		defer gateway.mu.Unlock()
		return gateway.writes["alice"]
	}, time.Second, 10*time.Millisecond)
}

func TestHub_ServeAfterShutdownIsRefused(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(&flagStub{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Given the hub has shut down
	req.NoError(hub.Shutdown(ctx))

	// When a connection that was still upgrading arrives
	client := NewClient(hub, nil, Identity{Username: "alice"}, 0, 4)
	err := hub.Serve(client)

	// Then it is refused and leaves no trace
	req.ErrorIs(err, ErrHubClosed)
	_, ok := hub.Client(client.ID)
	req.False(ok)
	req.Zero(hub.Sessions().Count())
	req.False(hub.Presence().IsOnline("alice"))
}
