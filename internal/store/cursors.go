package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/capitalize-ai/messaging-core/internal/model"
)

// Cursor returns the user's read cursor in a conversation, 0 when absent.
func (s *Store) Cursor(ctx context.Context, conversationID int64, userID string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_read_id FROM read_cursors WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return cursor, nil
}

// AdvanceCursor moves the user's read cursor up to candidate and returns the
// effective value. The update is an atomic set-if-greater, so concurrent
// advances converge to the maximum regardless of arrival order, and repeating
// the same candidate is a no-op.
//
// A candidate of 0 means "the newest message not authored by the user"; when
// no such message exists a NotFound error is returned. A candidate naming a
// message the user authored themselves is silently ignored: only a
// non-author's activity marks messages as read.
func (s *Store) AdvanceCursor(ctx context.Context, conversationID int64, userID string, candidate int64) (int64, error) {
	if candidate == 0 {
		latest, err := s.LatestForeignMessageID(ctx, conversationID, userID)
		if err != nil {
			return 0, err
		}
		if latest == 0 {
			return 0, model.ErrNotFound("no qualifying message to mark read")
		}
		candidate = latest
	} else {
		var senderID string
		err := s.db.QueryRowContext(ctx,
			`SELECT sender_id FROM messages WHERE id = ? AND conversation_id = ?`,
			candidate, conversationID).Scan(&senderID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, model.ErrNotFound("no qualifying message to mark read")
		}
		if err != nil {
			return 0, fmt.Errorf("resolve candidate: %w", err)
		}
		if senderID == userID {
			// Own messages never advance one's own cursor.
			return s.Cursor(ctx, conversationID, userID)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO read_cursors (conversation_id, user_id, last_read_id) VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id, user_id)
		 DO UPDATE SET last_read_id = MAX(last_read_id, excluded.last_read_id)`,
		conversationID, userID, candidate)
	if err != nil {
		return 0, model.ErrTransientStore(fmt.Sprintf("advance cursor: %v", err))
	}

	return s.Cursor(ctx, conversationID, userID)
}

// MaxForeignCursor returns the highest read cursor among members of the
// conversation other than userID. Used to decide whether the user's own
// messages have been seen by somebody else.
func (s *Store) MaxForeignCursor(ctx context.Context, conversationID int64, userID string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(last_read_id), 0) FROM read_cursors WHERE conversation_id = ? AND user_id != ?`,
		conversationID, userID).Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("max foreign cursor: %w", err)
	}
	return cursor, nil
}

// UnreadCount computes, live, how many messages authored by others sit above
// the user's cursor. There is no cached counter to drift.
func (s *Store) UnreadCount(ctx context.Context, conversationID int64, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages m
		 WHERE m.conversation_id = ?
		   AND m.sender_id != ?
		   AND m.id > COALESCE(
		       (SELECT last_read_id FROM read_cursors WHERE conversation_id = ? AND user_id = ?), 0)`,
		conversationID, userID, conversationID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}
