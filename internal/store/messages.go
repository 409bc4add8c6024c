package store

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/capitalize-ai/messaging-core/internal/model"
)

// PageSize is the fixed history page size.
const PageSize = 50

// ValidateBody checks a message body before any persistence happens.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return model.ErrValidation("message body cannot be empty")
	}
	if utf8.RuneCountInString(body) > model.MaxBodyLength {
		return model.ErrValidation("message body exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return model.ErrValidation("message body must be valid UTF-8")
	}
	return nil
}

// AppendMessage appends a message to the conversation log. The assigned id is
// strictly increasing within the conversation; once this returns the message
// is durable and visible to all subsequent reads.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, senderID, body string) (*model.Message, error) {
	if err := ValidateBody(body); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, body, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, senderID, body, now)
	if err != nil {
		return nil, model.ErrTransientStore(fmt.Sprintf("append message: %v", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, model.ErrTransientStore(fmt.Sprintf("message id: %v", err))
	}

	var senderName string
	if err := s.db.QueryRowContext(ctx,
		`SELECT username FROM users WHERE id = ?`, senderID).Scan(&senderName); err != nil {
		senderName = ""
	}

	return &model.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		Body:           body,
		CreatedAt:      now,
	}, nil
}

// PageMessages returns one page of a conversation's log in ascending id
// order. Pages are 1-indexed with a fixed size; bounds are parameterized.
func (s *Store) PageMessages(ctx context.Context, conversationID int64, page int) ([]model.Message, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * PageSize

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, u.username, m.body, m.created_at
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = ?
		 ORDER BY m.created_at ASC, m.id ASC
		 LIMIT ? OFFSET ?`,
		conversationID, PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("page messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MessageCount returns the number of messages in a conversation.
func (s *Store) MessageCount(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("message count: %w", err)
	}
	return n, nil
}

// LatestForeignMessageID returns the id of the newest message in the
// conversation not authored by userID, or 0 when none exists.
func (s *Store) LatestForeignMessageID(ctx context.Context, conversationID int64, userID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM messages WHERE conversation_id = ? AND sender_id != ?`,
		conversationID, userID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("latest foreign message: %w", err)
	}
	return id, nil
}
