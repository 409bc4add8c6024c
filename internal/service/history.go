package service

import (
	"context"

	"github.com/capitalize-ai/messaging-core/internal/model"
	"github.com/capitalize-ai/messaging-core/internal/store"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
)

// HistoryService serves paginated conversation history annotated for the
// caller.
type HistoryService struct {
	store   *store.Store
	access  *AccessService
	cursors *CursorService
	logger  *logger.Logger
}

// NewHistoryService creates a history service.
func NewHistoryService(st *store.Store, access *AccessService, cursors *CursorService, log *logger.Logger) *HistoryService {
	return &HistoryService{store: st, access: access, cursors: cursors, logger: log}
}

// FetchPage returns one page of history. Each message carries isMine and
// seen: the caller's own messages count as seen once some other member's
// cursor has passed them; everybody else's messages are seen by definition,
// the caller is looking at them right now. Fetching history implies having
// read it, so the caller's cursor is advanced to the last message on the
// page not authored by them (a no-op for pages already behind the cursor).
func (s *HistoryService) FetchPage(ctx context.Context, ident model.Identity, ref string, page int) (*model.HistoryPage, error) {
	conv, err := s.access.Authorize(ctx, ref, ident.ID)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}

	messages, err := s.store.PageMessages(ctx, conv.ID, page)
	if err != nil {
		return nil, err
	}

	maxForeign, err := s.store.MaxForeignCursor(ctx, conv.ID, ident.ID)
	if err != nil {
		return nil, err
	}

	annotated := make([]model.HistoryMessage, len(messages))
	var lastForeign int64
	for i, m := range messages {
		mine := m.SenderID == ident.ID
		seen := true
		if mine {
			seen = m.ID <= maxForeign
		} else {
			lastForeign = m.ID
		}
		annotated[i] = model.HistoryMessage{Message: m, IsMine: mine, Seen: seen}
	}

	cursor, err := s.store.Cursor(ctx, conv.ID, ident.ID)
	if err != nil {
		return nil, err
	}
	if lastForeign > cursor {
		cursor, err = s.cursors.AdvanceAuthorized(ctx, ident, conv, lastForeign, "")
		if err != nil {
			return nil, err
		}
	}

	return &model.HistoryPage{
		Page:     page,
		Messages: annotated,
		Cursor:   cursor,
	}, nil
}
