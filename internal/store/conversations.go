package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/messaging-core/internal/model"
)

// directPairKey builds the normalized key enforcing one direct conversation
// per user pair, regardless of which side initiates.
func directPairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}

// ConversationByID resolves a conversation by numeric id.
func (s *Store) ConversationByID(ctx context.Context, id int64) (*model.Conversation, error) {
	return s.conversationWhere(ctx, `id = ?`, id)
}

// ConversationByName resolves a public conversation by its unique name.
func (s *Store) ConversationByName(ctx context.Context, name string) (*model.Conversation, error) {
	return s.conversationWhere(ctx, `name = ?`, name)
}

func (s *Store) conversationWhere(ctx context.Context, where string, arg any) (*model.Conversation, error) {
	var (
		conv model.Conversation
		name sql.NullString
	)
	err := s.db.QueryRowxContext(ctx,
		`SELECT id, kind, name, created_by, created_at FROM conversations WHERE `+where, arg).
		Scan(&conv.ID, &conv.Kind, &name, &conv.CreatedBy, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound("conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	conv.Name = name.String
	return &conv, nil
}

// Members returns the membership set of a conversation. IsMine is left for
// the caller to fill in.
func (s *Store) Members(ctx context.Context, conversationID int64) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username
		 FROM memberships m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.conversation_id = ?
		 ORDER BY u.username`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	var members []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.UserID, &p.Username); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, p)
	}
	return members, rows.Err()
}

// CreateDirect creates a direct conversation between two users with exactly
// two memberships, atomically. When one already exists it is returned with
// created = false; the pair_key unique index guarantees this even for two
// concurrent calls racing past the lookup.
func (s *Store) CreateDirect(ctx context.Context, userID, otherID string) (*model.Conversation, bool, error) {
	key := directPairKey(userID, otherID)

	// Fast path; runs outside the transaction because the store holds a
	// single connection, so a lookup through s.db while a tx is open would
	// block on itself.
	conv, err := s.conversationWhere(ctx, `pair_key = ?`, key)
	if err == nil {
		return conv, false, nil
	}
	if model.KindOf(err) != model.KindNotFound {
		return nil, false, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (kind, name, pair_key, created_by, created_at) VALUES ('direct', NULL, ?, ?, ?)`,
		key, userID, now)
	if isUniqueViolation(err, "conversations.pair_key") {
		// Lost the race to a concurrent call for the same pair. Release the
		// connection before looking up the winner.
		tx.Rollback()
		conv, lookupErr := s.conversationWhere(ctx, `pair_key = ?`, key)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return conv, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert direct: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("direct id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memberships (conversation_id, user_id, joined_at) VALUES (?, ?, ?), (?, ?, ?)`,
		id, userID, now, id, otherID, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert memberships: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit direct: %w", err)
	}

	return &model.Conversation{
		ID:        id,
		Kind:      model.KindDirect,
		CreatedBy: userID,
		CreatedAt: now,
	}, true, nil
}

// CreatePublic creates a named public conversation with the creator as its
// first member. A taken name yields a Conflict error.
func (s *Store) CreatePublic(ctx context.Context, name, creatorID string) (*model.Conversation, error) {
	var taken int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE name = ?`, name).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("check name: %w", err)
	}
	if taken > 0 {
		return nil, model.ErrConflict("conversation name already taken")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (kind, name, created_by, created_at) VALUES ('public', ?, ?, ?)`,
		name, creatorID, now)
	if isUniqueViolation(err, "conversations.name") {
		// A concurrent call won the name between the check and the insert.
		return nil, model.ErrConflict("conversation name already taken")
	}
	if err != nil {
		return nil, fmt.Errorf("insert public: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("public id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memberships (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`,
		id, creatorID, now)
	if err != nil {
		return nil, fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit public: %w", err)
	}

	return &model.Conversation{
		ID:        id,
		Kind:      model.KindPublic,
		Name:      name,
		CreatedBy: creatorID,
		CreatedAt: now,
	}, nil
}

// AddMember adds a user to a conversation. Idempotent.
func (s *Store) AddMember(ctx context.Context, conversationID int64, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships (conversation_id, user_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id, user_id) DO NOTHING`,
		conversationID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}
