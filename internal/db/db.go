package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(ctx context.Context, dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            is_online BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS chat_messages (
            id TEXT PRIMARY KEY,
            seq BIGSERIAL,
            sender VARCHAR(50) NOT NULL,
            recipient VARCHAR(50) NOT NULL DEFAULT '',
            content TEXT NOT NULL DEFAULT '',
            kind VARCHAR(20) NOT NULL,
            file_ref TEXT NOT NULL DEFAULT '',
            room_id TEXT NOT NULL DEFAULT '',
            color VARCHAR(20) NOT NULL DEFAULT '',
            sent_at TIMESTAMPTZ NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS chat_messages_pair_idx
            ON chat_messages (LEAST(sender, recipient), GREATEST(sender, recipient), sent_at)`,
	}

	for _, query := range queries {
		_, err := d.Conn.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
