// Package postgres reads the messenger's relational tables. The real-time
// layer never owns these rows; it only looks up membership, blocks and
// push subscriptions and advances read watermarks.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	queryMembers = `SELECT user_id FROM conversation_members WHERE conversation_id = $1`

	queryBlocked = `SELECT EXISTS (
		SELECT 1 FROM user_blocks WHERE blocker_id = $1 AND blocked_id = $2
	)`

	// GREATEST keeps the watermark monotonic when hooks arrive out of order.
	updateRead = `UPDATE conversation_members
		SET last_read_at = GREATEST(last_read_at, $3)
		WHERE conversation_id = $1 AND user_id = $2`

	querySubscriptions = `SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = $1`
)

// Schema is applied by Migrate. Tables are created only when missing.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_members (
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	last_read_at    TIMESTAMPTZ,
	PRIMARY KEY (conversation_id, user_id)
);
CREATE TABLE IF NOT EXISTS user_blocks (
	blocker_id TEXT NOT NULL,
	blocked_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (blocker_id, blocked_id)
);
CREATE TABLE IF NOT EXISTS push_subscriptions (
	user_id  TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	p256dh   TEXT NOT NULL,
	auth     TEXT NOT NULL,
	PRIMARY KEY (user_id, endpoint)
);
`

type Store struct {
	db *sql.DB
}

// Open connects with lib/pq and checks the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Info().Str("module", "store.postgres").Msg("connected")
	return &Store{db: db}, nil
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Members(ctx context.Context, conv domain.ConversationID) ([]domain.UserID, error) {
	rows, err := s.db.QueryContext(ctx, queryMembers, string(conv))
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []domain.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, domain.UserID(id))
	}
	return out, rows.Err()
}

func (s *Store) IsBlocked(ctx context.Context, blocker, blocked domain.UserID) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, queryBlocked, string(blocker), string(blocked)).Scan(&ok); err != nil {
		return false, fmt.Errorf("query block: %w", err)
	}
	return ok, nil
}

func (s *Store) MarkConversationRead(ctx context.Context, conv domain.ConversationID, reader domain.UserID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, updateRead, string(conv), string(reader), at.UTC())
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark read: %s is not a member of %s", reader, conv)
	}
	return nil
}

func (s *Store) Subscriptions(ctx context.Context, user domain.UserID) ([]domain.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, querySubscriptions, string(user))
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.PushSubscription
	for rows.Next() {
		var sub domain.PushSubscription
		if err := rows.Scan(&sub.Endpoint, &sub.P256dh, &sub.Auth); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
