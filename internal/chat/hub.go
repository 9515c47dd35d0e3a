package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Publisher forwards a topic broadcast to every server instance.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Hub is the connection layer's entry point into the core. It owns the
// table of live clients, implements Transport on top of it and turns
// presence transitions into online flag writes and snapshot broadcasts.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client // connectionID -> client
	closed    bool
	presence  *PresenceTracker
	sessions  *SessionRegistry
	router    *Router
	gateway   Gateway
	publisher Publisher
	log       *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(log *slog.Logger, gateway Gateway) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	presence := NewPresenceTracker()
	sessions := NewSessionRegistry(presence)
	h := &Hub{
		clients:  make(map[string]*Client),
		presence: presence,
		sessions: sessions,
		gateway:  gateway,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	h.router = NewRouter(log, gateway, sessions, presence, h)
	return h
}

// UsePublisher routes topic broadcasts through p instead of delivering them
// locally. p is expected to hand every published payload back to
// BroadcastLocal on each instance, this one included.
func (h *Hub) UsePublisher(p Publisher) {
	h.publisher = p
	h.router.UseStoredPresence()
}

func (h *Hub) Router() *Router { return h.router }

func (h *Hub) Presence() *PresenceTracker { return h.presence }

func (h *Hub) Sessions() *SessionRegistry { return h.sessions }

// OnlineUsers matches the presence broadcast. With a publisher it spans every
// instance, otherwise it is the local snapshot.
func (h *Hub) OnlineUsers() []string { return h.router.OnlineUsers() }

func (h *Hub) Client(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// Run applies presence changes until Shutdown. It is the only place that
// writes online flags, so store I/O never happens under the registry locks.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.presence.Changes():
			h.syncPresence()
		}
	}
}

func (h *Hub) syncPresence() {
	changes := h.presence.Drain()
	if len(changes) == 0 {
		return
	}
	for _, change := range changes {
		if err := h.gateway.SetOnlineFlag(h.ctx, change.Username, change.Online); err != nil {
			h.log.Error("Updating online flag failed", "username", change.Username, "online", change.Online, "error", err)
		}
		h.log.Info("Presence changed", "username", change.Username, "online", change.Online)
	}
	h.router.BroadcastPresence()
}

// ResetStaleFlags clears online flags left behind by a previous run. Only
// users with a live connection on this instance keep their flag.
func (h *Hub) ResetStaleFlags(ctx context.Context) error {
	stored, err := h.gateway.FindUsersOnline(ctx)
	if err != nil {
		return err
	}
	for _, username := range stored {
		if h.presence.IsOnline(username) {
			continue
		}
		if err := h.gateway.SetOnlineFlag(ctx, username, false); err != nil {
			return err
		}
	}
	return nil
}

// Serve attaches c and starts its pumps. After Shutdown the connection is
// closed and ErrHubClosed returned.
func (h *Hub) Serve(c *Client) error {
	if !h.attach(c, 2) {
		if c.Conn != nil {
			c.Conn.Close()
		}
		return ErrHubClosed
	}
	go func() {
		defer h.wg.Done()
		c.WritePump()
	}()
	go func() {
		defer h.wg.Done()
		c.ReadPump()
	}()
	return nil
}

// attach adds c to the client table and reserves pumps slots on the wait
// group, both under mu so Shutdown never races a late connection.
func (h *Hub) attach(c *Client, pumps int) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.ID] = c
	h.wg.Add(pumps)
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Debug("Client attached", "connection", c.ID, "username", c.Identity.Username, "total", total)
	h.OnConnect(c.ID, c.Identity)
	return true
}

// OnConnect registers an authenticated connection.
func (h *Hub) OnConnect(connectionID string, identity Identity) {
	h.sessions.Register(connectionID, identity.Username)
}

// OnDisconnect is safe to call more than once for the same connection.
func (h *Hub) OnDisconnect(connectionID string) {
	h.mu.Lock()
	c, ok := h.clients[connectionID]
	delete(h.clients, connectionID)
	h.mu.Unlock()

	if ok {
		c.shutdown()
	}
	if username, wentOffline := h.sessions.Unregister(connectionID); username != "" {
		h.log.Debug("Client detached", "connection", connectionID, "username", username, "offline", wentOffline)
	}
}

// HandleEvent dispatches a decoded inbound event.
func (h *Hub) HandleEvent(ctx context.Context, connectionID string, evt Event) {
	switch e := evt.(type) {
	case JoinEvent:
		h.OnJoinEvent(ctx, connectionID, e.Message)
	case PrivateMessageEvent:
		h.OnPrivateMessageEvent(ctx, connectionID, e.Message)
	case TypingEvent:
		h.OnTypingEvent(ctx, connectionID, e.Signal)
	default:
		h.log.Warn("Unhandled event", "connection", connectionID, "event", fmt.Sprintf("%T", evt))
	}
}

func (h *Hub) OnJoinEvent(ctx context.Context, connectionID string, msg ChatMessage) {
	sender, err := h.authorize(connectionID, msg.Sender)
	if err != nil {
		h.log.Warn("Join rejected", "connection", connectionID, "sender", msg.Sender, "error", err)
		return
	}
	msg.Sender = sender

	saved, err := h.router.HandleJoin(ctx, connectionID, msg)
	if err != nil {
		h.reportFailure(connectionID, err)
		return
	}
	h.sendFrame(connectionID, Frame{Type: FrameJoin, Payload: saved})
}

func (h *Hub) OnPrivateMessageEvent(ctx context.Context, connectionID string, msg ChatMessage) {
	sender, err := h.authorize(connectionID, msg.Sender)
	if err != nil {
		h.log.Warn("Private message rejected", "connection", connectionID, "sender", msg.Sender, "error", err)
		return
	}
	msg.Sender = sender

	if _, err := h.router.HandlePrivateMessage(ctx, msg); err != nil {
		h.reportFailure(connectionID, err)
	}
}

func (h *Hub) OnTypingEvent(ctx context.Context, connectionID string, signal TypingSignal) {
	sender, err := h.authorize(connectionID, signal.Sender)
	if err != nil {
		h.log.Warn("Typing signal rejected", "connection", connectionID, "sender", signal.Sender, "error", err)
		return
	}
	signal.Sender = sender
	_ = h.router.HandleTyping(ctx, signal)
}

// authorize checks that connectionID was admitted and that the claimed
// sender, when present, is the admitted user.
func (h *Hub) authorize(connectionID, claimed string) (string, error) {
	username, ok := h.sessions.UsernameFor(connectionID)
	if !ok {
		return "", fmt.Errorf("%w: connection %s is not registered", ErrAuth, connectionID)
	}
	if claimed != "" && claimed != username {
		return "", fmt.Errorf("%w: connection of %s cannot send as %s", ErrAuth, username, claimed)
	}
	return username, nil
}

// reportFailure tells the sender about persistence failures only. Every
// other failure has already been logged and stays silent on the wire.
func (h *Hub) reportFailure(connectionID string, err error) {
	if !errors.Is(err, ErrPersistence) {
		return
	}
	h.sendFrame(connectionID, Frame{Type: FrameError, Payload: ErrorPayload{Error: ErrPersistence.Error()}})
}

func (h *Hub) sendFrame(connectionID string, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("Encoding frame failed", "type", frame.Type, "error", err)
		return
	}
	if err := h.SendTo(connectionID, payload); err != nil {
		h.log.Warn("Delivery failed", "connection", connectionID, "type", frame.Type, "error", err)
	}
}

// SendTo never blocks. A client whose buffer is full is disconnected.
func (h *Hub) SendTo(connectionID string, payload []byte) error {
	c, ok := h.Client(connectionID)
	if !ok {
		return ErrUnknownConnection
	}
	err := c.enqueue(payload)
	if errors.Is(err, ErrDelivery) {
		h.log.Warn("Send buffer full, dropping client", "connection", connectionID, "username", c.Identity.Username)
		c.shutdown()
	}
	return err
}

// Broadcast goes through the publisher when one is configured so that
// clients on other instances receive it too.
func (h *Hub) Broadcast(topic string, payload []byte) {
	if h.publisher != nil {
		err := h.publisher.Publish(h.ctx, topic, payload)
		if err == nil {
			return
		}
		h.log.Error("Publishing broadcast failed, delivering locally", "topic", topic, "error", err)
	}
	h.BroadcastLocal(topic, payload)
}

// BroadcastLocal delivers payload to every client of this instance.
func (h *Hub) BroadcastLocal(topic string, payload []byte) {
	h.mu.RLock()
	clients := lo.Values(h.clients)
	h.mu.RUnlock()

	for _, c := range clients {
		if err := h.SendTo(c.ID, payload); err != nil {
			h.log.Debug("Broadcast skipped client", "topic", topic, "connection", c.ID, "error", err)
		}
	}
}

// Shutdown stops Run, closes every client and waits for their pumps.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Info("Initiating hub shutdown...")
	h.cancel()

	h.mu.Lock()
	h.closed = true
	clients := lo.Values(h.clients)
	h.mu.Unlock()
	for _, c := range clients {
		c.shutdown()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed", "clients", len(clients))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }
