package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/capitalize-ai/messaging-core/internal/model"
)

// Summaries builds the caller's conversation directory: every conversation
// they are a member of plus every public conversation, newest activity first.
// Preview and unread count are recomputed on each call.
func (s *Store) Summaries(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.kind, c.name,
		        (SELECT body FROM messages WHERE conversation_id = c.id ORDER BY id DESC LIMIT 1),
		        (SELECT created_at FROM messages WHERE conversation_id = c.id ORDER BY id DESC LIMIT 1),
		        c.created_at
		 FROM conversations c
		 WHERE c.kind = 'public'
		    OR EXISTS (SELECT 1 FROM memberships m WHERE m.conversation_id = c.id AND m.user_id = ?)
		 ORDER BY COALESCE(
		     (SELECT created_at FROM messages WHERE conversation_id = c.id ORDER BY id DESC LIMIT 1),
		     c.created_at) DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var summaries []model.ConversationSummary
	for rows.Next() {
		var (
			sum       model.ConversationSummary
			name      sql.NullString
			preview   sql.NullString
			lastAt    sql.NullTime
			createdAt time.Time
		)
		if err := rows.Scan(&sum.ID, &sum.Kind, &name, &preview, &lastAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Name = name.String
		sum.LastMessage = preview.String
		if lastAt.Valid {
			t := lastAt.Time
			sum.LastMessageAt = &t
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		members, err := s.Members(ctx, summaries[i].ID)
		if err != nil {
			return nil, err
		}
		for j := range members {
			members[j].IsMine = members[j].UserID == userID
		}
		summaries[i].Participants = members

		unread, err := s.UnreadCount(ctx, summaries[i].ID, userID)
		if err != nil {
			return nil, err
		}
		summaries[i].UnreadCount = unread
	}

	return summaries, nil
}
