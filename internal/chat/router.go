package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// Router validates inbound events, persists chat content and fans the
// result out to the right connections. It keeps no state of its own.
//
// Drops (ErrValidation, ErrNotFound) are logged here and returned so the
// caller can tell them apart from ErrPersistence, the only class that is
// reported back to the sender.
type Router struct {
	gateway   Gateway
	sessions  *SessionRegistry
	presence  *PresenceTracker
	transport Transport
	validate  *validator.Validate
	log       *slog.Logger
	now       func() time.Time

	// onlineUsers is the payload source for presence broadcasts.
	onlineUsers func() []string
}

func NewRouter(log *slog.Logger, gateway Gateway, sessions *SessionRegistry, presence *PresenceTracker, transport Transport) *Router {
	return &Router{
		gateway:     gateway,
		sessions:    sessions,
		presence:    presence,
		transport:   transport,
		validate:    validator.New(),
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		onlineUsers: presence.Snapshot,
	}
}

// UseStoredPresence makes presence broadcasts carry the stored online flags
// instead of the local snapshot. With several instances behind a relay the
// stored flags are the only view that spans all of them.
func (r *Router) UseStoredPresence() {
	r.onlineUsers = func() []string {
		users, err := r.gateway.FindUsersOnline(context.Background())
		if err != nil {
			r.log.Error("Reading stored presence failed, using local snapshot", "error", err)
			return r.presence.Snapshot()
		}
		slices.Sort(users)
		return users
	}
}

// OnlineUsers is what presence broadcasts carry: the local snapshot, or
// the stored flags once UseStoredPresence was called.
func (r *Router) OnlineUsers() []string {
	return r.onlineUsers()
}

// HandleJoin records the sender as present on connectionID, stores the JOIN
// message and broadcasts the online users. The stored message is returned
// for confirmation to the sender.
func (r *Router) HandleJoin(ctx context.Context, connectionID string, msg ChatMessage) (ChatMessage, error) {
	if msg.Sender == "" {
		r.drop("join", msg, ErrValidation, "missing sender")
		return ChatMessage{}, fmt.Errorf("%w: missing sender", ErrValidation)
	}

	exists, err := r.gateway.ExistsUser(ctx, msg.Sender)
	if err != nil {
		r.log.Error("User lookup failed", "sender", msg.Sender, "error", err)
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !exists {
		r.drop("join", msg, ErrNotFound, "unknown sender")
		return ChatMessage{}, fmt.Errorf("%w: %s", ErrNotFound, msg.Sender)
	}

	r.sessions.Register(connectionID, msg.Sender)

	msg.Kind = KindJoin
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}

	saved, err := r.gateway.Save(ctx, msg)
	if err != nil {
		r.log.Error("Saving join message failed", "sender", msg.Sender, "error", err)
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	r.BroadcastPresence()
	return saved, nil
}

// HandlePrivateMessage stores msg and delivers it to every connection of
// both the recipient and the sender. Nothing is stored or delivered unless
// both users exist and the message is well formed.
func (r *Router) HandlePrivateMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error) {
	if msg.Kind == "" {
		msg.Kind = KindPrivateMessage
	}
	if err := r.validatePrivate(msg); err != nil {
		r.drop("private_message", msg, err, "")
		return ChatMessage{}, err
	}

	for _, username := range []string{msg.Sender, msg.Recipient} {
		exists, err := r.gateway.ExistsUser(ctx, username)
		if err != nil {
			r.log.Error("User lookup failed", "username", username, "error", err)
			return ChatMessage{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if !exists {
			r.drop("private_message", msg, ErrNotFound, "unknown user "+username)
			return ChatMessage{}, fmt.Errorf("%w: %s", ErrNotFound, username)
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}

	saved, err := r.gateway.Save(ctx, msg)
	if err != nil {
		r.log.Error("Saving private message failed", "sender", msg.Sender, "recipient", msg.Recipient, "error", err)
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	r.log.Debug("Private message saved", "id", saved.ID, "sender", saved.Sender, "recipient", saved.Recipient)

	targets := lo.Uniq(append(r.sessions.ConnectionsFor(saved.Recipient), r.sessions.ConnectionsFor(saved.Sender)...))
	r.deliver(targets, Frame{Type: FramePrivateMessage, Payload: saved})
	return saved, nil
}

// HandleTyping forwards signal to the recipient's connections only. With no
// connection the signal is discarded.
func (r *Router) HandleTyping(_ context.Context, signal TypingSignal) error {
	if err := r.validate.Struct(signal); err != nil {
		r.log.Warn("Typing signal dropped", "sender", signal.Sender, "error", err)
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	targets := r.sessions.ConnectionsFor(signal.Recipient)
	if len(targets) == 0 {
		return nil
	}
	r.deliver(targets, Frame{Type: FrameTyping, Payload: signal})
	return nil
}

// BroadcastPresence sends the current online users to every connection.
func (r *Router) BroadcastPresence() {
	payload, err := json.Marshal(Frame{Type: FrameOnlineUsers, Payload: r.onlineUsers()})
	if err != nil {
		r.log.Error("Encoding online users failed", "error", err)
		return
	}
	r.transport.Broadcast(TopicOnlineUsers, payload)
}

func (r *Router) validatePrivate(msg ChatMessage) error {
	switch msg.Kind {
	case KindPrivateMessage, KindChat, KindFile:
	default:
		return fmt.Errorf("%w: kind %q cannot be sent privately", ErrValidation, msg.Kind)
	}
	if msg.Recipient == "" {
		return fmt.Errorf("%w: missing recipient", ErrValidation)
	}
	if err := r.validate.Struct(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// deliver is fire-and-forget: a failing connection is logged and skipped.
func (r *Router) deliver(connectionIDs []string, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		r.log.Error("Encoding frame failed", "type", frame.Type, "error", err)
		return
	}
	for _, id := range connectionIDs {
		if err := r.transport.SendTo(id, payload); err != nil {
			r.log.Warn("Delivery failed", "connection", id, "type", frame.Type, "error", fmt.Errorf("%w: %v", ErrDelivery, err))
		}
	}
}

func (r *Router) drop(event string, msg ChatMessage, cause error, detail string) {
	r.log.Warn("Event dropped",
		"event", event,
		"sender", msg.Sender,
		"recipient", msg.Recipient,
		"kind", msg.Kind,
		"reason", cause,
		"detail", detail,
	)
}
