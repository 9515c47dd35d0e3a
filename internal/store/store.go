// Package store holds the persistence adapters behind chat.Gateway.
package store

import (
	"context"
	"time"

	"realchat/internal/chat"
)

// MessageStore is append-only.
type MessageStore interface {
	Save(ctx context.Context, msg chat.ChatMessage) (chat.ChatMessage, error)
	History(ctx context.Context, user1, user2 string, limit int) ([]chat.ChatMessage, error)
}

type UserDirectory interface {
	ExistsUser(ctx context.Context, username string) (bool, error)
}

type OnlineFlags interface {
	SetOnlineFlag(ctx context.Context, username string, online bool) error
	FindUsersOnline(ctx context.Context) ([]string, error)
}

const DefaultTimeout = 5 * time.Second

// Gateway combines the three adapters and puts a deadline on every call.
type Gateway struct {
	Messages MessageStore
	Users    UserDirectory
	Flags    OnlineFlags
	Timeout  time.Duration
}

var (
	_ chat.Gateway       = (*Gateway)(nil)
	_ chat.HistoryReader = (*Gateway)(nil)
)

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (g *Gateway) Save(ctx context.Context, msg chat.ChatMessage) (chat.ChatMessage, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.Messages.Save(ctx, msg)
}

func (g *Gateway) History(ctx context.Context, user1, user2 string, limit int) ([]chat.ChatMessage, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.Messages.History(ctx, user1, user2, limit)
}

func (g *Gateway) ExistsUser(ctx context.Context, username string) (bool, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.Users.ExistsUser(ctx, username)
}

func (g *Gateway) FindUsersOnline(ctx context.Context) ([]string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.Flags.FindUsersOnline(ctx)
}

func (g *Gateway) SetOnlineFlag(ctx context.Context, username string, online bool) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.Flags.SetOnlineFlag(ctx, username, online)
}
