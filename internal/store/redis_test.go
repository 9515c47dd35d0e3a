package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisFlags_UnionAcrossNodes(t *testing.T) {
	req := require.New(t)
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	prefix := "realchat-test-" + uuid.NewString()

	nodeA := NewRedisFlags(client, prefix, "a", time.Minute)
	nodeB := NewRedisFlags(client, prefix, "b", time.Minute)

	// Given alice is on A and bob on B
	req.NoError(nodeA.SetOnlineFlag(ctx, "alice", true))
	req.NoError(nodeB.SetOnlineFlag(ctx, "bob", true))

	// Then both nodes see both
	for _, node := range []*RedisFlags{nodeA, nodeB} {
		online, err := node.FindUsersOnline(ctx)
		req.NoError(err)
		req.Equal([]string{"alice", "bob"}, online)
	}

	// When A restarts
	req.NoError(nodeA.Reset(ctx))

	// Then only B's users remain
	online, err := nodeB.FindUsersOnline(ctx)
	req.NoError(err)
	req.Equal([]string{"bob"}, online)

	req.NoError(nodeB.SetOnlineFlag(ctx, "bob", false))
	online, err = nodeA.FindUsersOnline(ctx)
	req.NoError(err)
	req.Empty(online)
}
