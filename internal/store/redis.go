package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// RedisFlags keeps online flags shared by every instance. Each instance owns
// one set, "{prefix}:online:{node}", so a restart only clears its own users.
// The set expires unless Keepalive refreshes it, which drops the users of
// an instance that died without cleaning up.
type RedisFlags struct {
	client *redis.Client
	prefix string
	node   string
	ttl    time.Duration
}

func NewRedisFlags(client *redis.Client, prefix, node string, ttl time.Duration) *RedisFlags {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisFlags{client: client, prefix: prefix, node: node, ttl: ttl}
}

func (f *RedisFlags) nodesKey() string {
	return f.prefix + ":nodes"
}

func (f *RedisFlags) onlineKey(node string) string {
	return fmt.Sprintf("%s:online:%s", f.prefix, node)
}

func (f *RedisFlags) SetOnlineFlag(ctx context.Context, username string, online bool) error {
	key := f.onlineKey(f.node)
	_, err := f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if online {
			pipe.SAdd(ctx, key, username)
		} else {
			pipe.SRem(ctx, key, username)
		}
		pipe.Expire(ctx, key, f.ttl)
		pipe.SAdd(ctx, f.nodesKey(), f.node)
		return nil
	})
	return err
}

// FindUsersOnline returns the union of every instance's set.
func (f *RedisFlags) FindUsersOnline(ctx context.Context) ([]string, error) {
	nodes, err := f.client.SMembers(ctx, f.nodesKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	users, err := f.client.SUnion(ctx, lo.Map(nodes, func(node string, _ int) string {
		return f.onlineKey(node)
	})...).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(users)
	return users, nil
}

// Reset clears this instance's set. Called once at startup.
func (f *RedisFlags) Reset(ctx context.Context) error {
	return f.client.Del(ctx, f.onlineKey(f.node)).Err()
}

// Keepalive refreshes the expiry of this instance's set until ctx is done.
func (f *RedisFlags) Keepalive(ctx context.Context) {
	ticker := time.NewTicker(f.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.client.Expire(ctx, f.onlineKey(f.node), f.ttl)
		}
	}
}
