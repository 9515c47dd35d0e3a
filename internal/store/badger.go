package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"realchat/internal/chat"
	"realchat/internal/user"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	userPrefix   = "user:"
	onlinePrefix = "online:"
	searchLimit  = 10
)

// Badger is the embedded store. It serves messages, users and online
// flags from a single BadgerDB, and doubles as the user.Store.
type Badger struct {
	db  *badger.DB
	log *slog.Logger
}

var _ user.Store = (*Badger)(nil)

func OpenBadger(path string, log *slog.Logger) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	log.Info("Badger store opened", "path", path)
	return NewBadger(db, log), nil
}

func NewBadger(db *badger.DB, log *slog.Logger) *Badger {
	return &Badger{db: db, log: log}
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// pairPrefix is the same for (a, b) and (b, a). Each name is NUL terminated
// so that no pair prefix is a prefix of another pair.
func pairPrefix(user1, user2 string) string {
	if user2 < user1 {
		user1, user2 = user2, user1
	}
	return "msg:" + user1 + "\x00" + user2 + "\x00:"
}

var (
	minKeyTime = time.Unix(0, math.MinInt64)
	maxKeyTime = time.Unix(0, math.MaxInt64)
)

// keyNanos maps ts onto an unsigned range whose decimal form sorts like
// time. Timestamps outside what UnixNano can represent are clamped.
func keyNanos(ts time.Time) uint64 {
	switch {
	case ts.Before(minKeyTime):
		return 0
	case ts.After(maxKeyTime):
		return math.MaxUint64
	}
	return uint64(ts.UnixNano()) ^ (1 << 63)
}

// Messages are keyed "msg:{pair}:{nanos_padded}:{id}" so a prefix scan
// returns a conversation in time order.
func messageKey(msg chat.ChatMessage) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s",
		pairPrefix(msg.Sender, msg.Recipient),
		keyNanos(msg.Timestamp),
		msg.ID,
	))
}

func (b *Badger) Save(ctx context.Context, msg chat.ChatMessage) (chat.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return chat.ChatMessage{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = msg.Timestamp.UTC()
	bytes, err := json.Marshal(msg)
	if err != nil {
		return chat.ChatMessage{}, err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg), bytes)
	})
	if err != nil {
		return chat.ChatMessage{}, err
	}
	return msg, nil
}

// History walks the pair backwards from the newest key and returns at most
// limit messages, oldest first.
func (b *Badger) History(ctx context.Context, user1, user2 string, limit int) ([]chat.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var messages []chat.ChatMessage
	err := b.db.View(func(txn *badger.Txn) error {
		prefixStr := pairPrefix(user1, user2)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// newest possible key for this pair, then walk back
		seekKey := []byte(prefixStr + "99999999999999999999")
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			var msg chat.ChatMessage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Reverse(messages), nil
}

func (b *Badger) ExistsUser(ctx context.Context, username string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(userPrefix + username))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (b *Badger) SetOnlineFlag(ctx context.Context, username string, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := []byte(onlinePrefix + username)
	return b.db.Update(func(txn *badger.Txn) error {
		if online {
			return txn.Set(key, nil)
		}
		return txn.Delete(key)
	})
}

func (b *Badger) FindUsersOnline(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var users []string
	err := b.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte(onlinePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			users = append(users, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return users, err
}

// userRecord keeps the password hash, which user.User never serializes.
type userRecord struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (b *Badger) CreateUser(ctx context.Context, u *user.User) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bytes, err := json.Marshal(userRecord{ID: u.ID, Username: u.Username, Password: u.Password})
	if err != nil {
		return nil, err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		key := []byte(userPrefix + u.Username)
		if _, err := txn.Get(key); err == nil {
			return user.ErrUserExists
		}
		return txn.Set(key, bytes)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (b *Badger) GetUserByUsername(ctx context.Context, username string) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var u *user.User
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + username))
		if err != nil {
			return err
		}
		var rec userRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		u = &user.User{ID: rec.ID, Username: rec.Username, Password: rec.Password, Online: isOnline(txn, rec.Username)}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, user.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SearchUsers matches query case-insensitively anywhere in the username.
func (b *Badger) SearchUsers(ctx context.Context, query string) ([]user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var users []user.User
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(userPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(users) < searchLimit; it.Next() {
			username := string(it.Item().Key()[len(prefix):])
			if !strings.Contains(strings.ToLower(username), needle) {
				continue
			}
			var rec userRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			users = append(users, user.User{ID: rec.ID, Username: rec.Username, Online: isOnline(txn, rec.Username)})
		}
		return nil
	})
	return users, err
}

func isOnline(txn *badger.Txn, username string) bool {
	_, err := txn.Get([]byte(onlinePrefix + username))
	return err == nil
}
