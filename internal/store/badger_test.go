package store

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"realchat/internal/chat"
	"realchat/internal/user"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T) *Badger {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadger(db, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func TestBadger_SaveAssignsID(t *testing.T) {
	req := require.New(t)
	store := openTestBadger(t)
	ctx := context.Background()

	saved, err := store.Save(ctx, chat.ChatMessage{
		Sender: "alice", Recipient: "bob", Content: "hi", Kind: chat.KindPrivateMessage, Timestamp: time.Now(),
	})

	req.NoError(err)
	req.NotEmpty(saved.ID)
	req.Equal(time.UTC, saved.Timestamp.Location())
}

func TestBadger_HistoryIsOrderedAndScopedToThePair(t *testing.T) {
	req := require.New(t)
	store := openTestBadger(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	// Given a conversation between alice and bob, saved out of order
	for _, i := range []int{2, 0, 1} {
		sender, recipient := "alice", "bob"
		if i%2 == 1 {
			sender, recipient = recipient, sender
		}
		_, err := store.Save(ctx, chat.ChatMessage{
			Sender: sender, Recipient: recipient, Content: fmt.Sprintf("msg %d", i),
			Kind: chat.KindPrivateMessage, Timestamp: at.Add(time.Duration(i) * time.Minute),
		})
		req.NoError(err)
	}
	// And unrelated traffic
	_, err := store.Save(ctx, chat.ChatMessage{Sender: "alice", Recipient: "carol", Content: "psst", Timestamp: at})
	req.NoError(err)
	_, err = store.Save(ctx, chat.ChatMessage{Sender: "alice", Recipient: "bo", Content: "prefix trap", Timestamp: at})
	req.NoError(err)

	// When either side reads the history
	forward, err := store.History(ctx, "alice", "bob", 10)
	req.NoError(err)
	backward, err := store.History(ctx, "bob", "alice", 10)
	req.NoError(err)

	// Then it is the same three messages, oldest first
	req.Equal(forward, backward)
	req.Len(forward, 3)
	for i, msg := range forward {
		req.Equal(fmt.Sprintf("msg %d", i), msg.Content)
	}
}

func TestBadger_HistoryLimitKeepsNewest(t *testing.T) {
	req := require.New(t)
	store := openTestBadger(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := store.Save(ctx, chat.ChatMessage{
			Sender: "alice", Recipient: "bob", Content: fmt.Sprintf("msg %d", i),
			Timestamp: at.Add(time.Duration(i) * time.Second),
		})
		req.NoError(err)
	}

	history, err := store.History(ctx, "alice", "bob", 2)
	req.NoError(err)
	req.Len(history, 2)
	req.Equal("msg 3", history[0].Content)
	req.Equal("msg 4", history[1].Content)
}

func TestBadger_HistoryOfStrangersIsEmpty(t *testing.T) {
	store := openTestBadger(t)

	history, err := store.History(context.Background(), "alice", "bob", 10)

	require.NoError(t, err)
	require.Empty(t, history)
}

func TestBadger_Users(t *testing.T) {
	req := require.New(t)
	store := openTestBadger(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, &user.User{ID: "u-1", Username: "alice", Password: "hash"})
	req.NoError(err)
	_, err = store.CreateUser(ctx, &user.User{ID: "u-2", Username: "alice", Password: "other"})
	req.ErrorIs(err, user.ErrUserExists)
	_, err = store.CreateUser(ctx, &user.User{ID: "u-3", Username: "Alicia", Password: "hash"})
	req.NoError(err)

	u, err := store.GetUserByUsername(ctx, "alice")
	req.NoError(err)
	req.Equal("u-1", u.ID)
	req.Equal("hash", u.Password)

	_, err = store.GetUserByUsername(ctx, "ghost")
	req.ErrorIs(err, user.ErrUserNotFound)

	exists, err := store.ExistsUser(ctx, "alice")
	req.NoError(err)
	req.True(exists)
	exists, err = store.ExistsUser(ctx, "ghost")
	req.NoError(err)
	req.False(exists)

	found, err := store.SearchUsers(ctx, "ali")
	req.NoError(err)
	req.Len(found, 2)
	for _, f := range found {
		req.Empty(f.Password)
	}
}

func TestBadger_OnlineFlags(t *testing.T) {
	req := require.New(t)
	store := openTestBadger(t)
	ctx := context.Background()
	_, err := store.CreateUser(ctx, &user.User{ID: "u-1", Username: "alice", Password: "hash"})
	req.NoError(err)

	req.NoError(store.SetOnlineFlag(ctx, "alice", true))
	req.NoError(store.SetOnlineFlag(ctx, "bob", true))
	req.NoError(store.SetOnlineFlag(ctx, "bob", false))
	// clearing an absent flag is fine
	req.NoError(store.SetOnlineFlag(ctx, "carol", false))

	online, err := store.FindUsersOnline(ctx)
	req.NoError(err)
	req.Equal([]string{"alice"}, online)

	u, err := store.GetUserByUsername(ctx, "alice")
	req.NoError(err)
	req.True(u.Online)
}

func TestBadger_CancelledContext(t *testing.T) {
	store := openTestBadger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Save(ctx, chat.ChatMessage{Sender: "alice", Recipient: "bob"})

	require.ErrorIs(t, err, context.Canceled)
}

func TestBadger_HistoryOrdersAcrossTheEpochAndBeyond(t *testing.T) {
	req := require.New(t)
	store := openTestBadger(t)
	ctx := context.Background()

	// Given timestamps before 1970, at the epoch and past what nanoseconds can hold
	stamps := []time.Time{
		time.Date(1969, 12, 31, 23, 59, 58, 0, time.UTC),
		time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Unix(0, 0).UTC(),
		time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, i := range []int{4, 1, 3, 0, 2} {
		_, err := store.Save(ctx, chat.ChatMessage{
			Sender: "alice", Recipient: "bob", Content: fmt.Sprintf("msg %d", i), Timestamp: stamps[i],
		})
		req.NoError(err)
	}

	// When the conversation is read
	history, err := store.History(ctx, "alice", "bob", 10)

	// Then it follows the timestamps
	req.NoError(err)
	req.Len(history, len(stamps))
	for i, msg := range history {
		req.Equal(fmt.Sprintf("msg %d", i), msg.Content)
	}

	// And the newest still wins the limit
	latest, err := store.History(ctx, "alice", "bob", 1)
	req.NoError(err)
	req.Equal("msg 4", latest[0].Content)
}
