package store

import (
	"context"
	"database/sql"

	"realchat/internal/chat"

	"github.com/google/uuid"
)

// Postgres keeps messages, users and online flags in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Save(ctx context.Context, msg chat.ChatMessage) (chat.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	query := `INSERT INTO chat_messages (id, sender, recipient, content, kind, file_ref, room_id, color, sent_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.db.ExecContext(ctx, query,
		msg.ID, msg.Sender, msg.Recipient, msg.Content, string(msg.Kind),
		msg.FileRef, msg.RoomID, msg.Color, msg.Timestamp,
	)
	if err != nil {
		return chat.ChatMessage{}, err
	}
	return msg, nil
}

// History returns the latest limit messages exchanged between user1 and
// user2, oldest first.
func (p *Postgres) History(ctx context.Context, user1, user2 string, limit int) ([]chat.ChatMessage, error) {
	query := `
		SELECT id, sender, recipient, content, kind, file_ref, room_id, color, sent_at FROM (
			SELECT * FROM chat_messages
			WHERE (sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1)
			ORDER BY sent_at DESC, seq DESC
			LIMIT $3
		) recent
		ORDER BY sent_at, seq
	`
	rows, err := p.db.QueryContext(ctx, query, user1, user2, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chat.ChatMessage
	for rows.Next() {
		var (
			msg  chat.ChatMessage
			kind string
		)
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Recipient, &msg.Content, &kind,
			&msg.FileRef, &msg.RoomID, &msg.Color, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.Kind = chat.Kind(kind)
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (p *Postgres) ExistsUser(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)", username).Scan(&exists)
	return exists, err
}

func (p *Postgres) SetOnlineFlag(ctx context.Context, username string, online bool) error {
	_, err := p.db.ExecContext(ctx, "UPDATE users SET is_online = $2 WHERE username = $1", username, online)
	return err
}

func (p *Postgres) FindUsersOnline(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT username FROM users WHERE is_online ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		users = append(users, username)
	}
	return users, rows.Err()
}
