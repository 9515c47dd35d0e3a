package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// LocalBroadcaster delivers a payload to the clients of this instance.
type LocalBroadcaster interface {
	BroadcastLocal(topic string, payload []byte)
}

// relayEnvelope is what travels over the Redis channel.
type relayEnvelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Relay fans topic broadcasts out to every instance through Redis pub/sub.
type Relay struct {
	redis   *redis.Client
	channel string
	local   LocalBroadcaster
	log     *slog.Logger
}

func NewRelay(log *slog.Logger, redisClient *redis.Client, channel string, local LocalBroadcaster) *Relay {
	return &Relay{redis: redisClient, channel: channel, local: local, log: log}
}

// Publish sends payload to all instances, this one included.
func (r *Relay) Publish(ctx context.Context, topic string, payload []byte) error {
	data, err := json.Marshal(relayEnvelope{Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	return r.redis.Publish(ctx, r.channel, data).Err()
}

// Subscribe listens for broadcasts from every instance until ctx is done.
// The subscription is confirmed before it returns, so nothing published
// afterwards is missed.
func (r *Relay) Subscribe(ctx context.Context) error {
	pubsub := r.redis.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env relayEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.log.Warn("Relay message dropped", "channel", msg.Channel, "error", err)
					continue
				}
				r.local.BroadcastLocal(env.Topic, env.Payload)
			}
		}
	}()
	return nil
}
