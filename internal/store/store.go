// Package store persists conversations, memberships, messages and read
// cursors in SQLite. It is the only source of truth: everything the live
// fan-out layer holds in memory is rebuildable from here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/messaging-core/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id       TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	role     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS conversations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL CHECK (kind IN ('direct', 'public')),
	name       TEXT UNIQUE,
	pair_key   TEXT UNIQUE,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	user_id         TEXT NOT NULL REFERENCES users(id),
	joined_at       TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	sender_id       TEXT NOT NULL REFERENCES users(id),
	body            TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

CREATE TABLE IF NOT EXISTS read_cursors (
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	user_id         TEXT NOT NULL REFERENCES users(id),
	last_read_id    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (conversation_id, user_id)
);
`

// Store wraps the SQLite database. All statements are strictly parameterized,
// pagination bounds included.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser records (or refreshes) a known identity. Called when an
// authenticated caller is first seen; the messaging core never creates
// credentials itself.
func (s *Store) UpsertUser(ctx context.Context, ident model.Identity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, role) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET username = excluded.username, role = excluded.role`,
		ident.ID, ident.Username, ident.Role)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UserByUsername resolves a username to an identity.
func (s *Store) UserByUsername(ctx context.Context, username string) (*model.Identity, error) {
	var ident model.Identity
	err := s.db.QueryRowxContext(ctx,
		`SELECT id, username, role FROM users WHERE username = ?`, username).
		Scan(&ident.ID, &ident.Username, &ident.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("user by username: %w", err)
	}
	return &ident, nil
}

// AvailableDirectPeers lists users the caller has no direct conversation
// with yet.
func (s *Store) AvailableDirectPeers(ctx context.Context, userID string) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username
		 FROM users u
		 WHERE u.id != ?
		   AND NOT EXISTS (
		       SELECT 1
		       FROM conversations c
		       JOIN memberships m1 ON m1.conversation_id = c.id AND m1.user_id = u.id
		       JOIN memberships m2 ON m2.conversation_id = c.id AND m2.user_id = ?
		       WHERE c.kind = 'direct'
		   )
		 ORDER BY u.username`,
		userID, userID)
	if err != nil {
		return nil, fmt.Errorf("available peers: %w", err)
	}
	defer rows.Close()

	var peers []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.UserID, &p.Username); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}
