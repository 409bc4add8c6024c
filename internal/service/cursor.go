package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-core/internal/model"
	"github.com/capitalize-ai/messaging-core/internal/store"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
	"github.com/capitalize-ai/messaging-core/pkg/metrics"
)

// CursorService advances and reads per-user read cursors. Advances are
// monotone: the store applies an atomic set-if-greater, so interleaved calls
// from several sessions of the same user converge to the maximum.
type CursorService struct {
	store     *store.Store
	access    *AccessService
	publisher EventPublisher
	logger    *logger.Logger
}

// NewCursorService creates a cursor service.
func NewCursorService(st *store.Store, access *AccessService, pub EventPublisher, log *logger.Logger) *CursorService {
	return &CursorService{store: st, access: access, publisher: pub, logger: log}
}

// MarkRead authorizes the caller and advances their cursor. candidate 0 means
// "newest message not authored by me". When the cursor actually moved, a
// cursorAdvanced event is broadcast to the room so other members can update
// their seen indicators; origin names the session to exclude from delivery.
func (s *CursorService) MarkRead(ctx context.Context, ident model.Identity, ref string, candidate int64, origin string) (int64, error) {
	conv, err := s.access.Authorize(ctx, ref, ident.ID)
	if err != nil {
		return 0, err
	}
	return s.advance(ctx, ident, conv, candidate, origin)
}

// AdvanceAuthorized advances the cursor for a conversation the caller has
// already passed the gate for in the same request.
func (s *CursorService) AdvanceAuthorized(ctx context.Context, ident model.Identity, conv *model.Conversation, candidate int64, origin string) (int64, error) {
	return s.advance(ctx, ident, conv, candidate, origin)
}

func (s *CursorService) advance(ctx context.Context, ident model.Identity, conv *model.Conversation, candidate int64, origin string) (int64, error) {
	before, err := s.store.Cursor(ctx, conv.ID, ident.ID)
	if err != nil {
		return 0, err
	}

	cursor, err := s.store.AdvanceCursor(ctx, conv.ID, ident.ID, candidate)
	if err != nil {
		return 0, err
	}

	if cursor > before {
		metrics.CursorAdvancesTotal.Inc()
		if err := s.publisher.Publish(ctx, conv.ID, origin, &model.Event{
			Type:           model.EventCursorAdvanced,
			ConversationID: conv.ID,
			UserID:         ident.ID,
			Cursor:         cursor,
		}); err != nil {
			s.logger.Warn("cursor event publish failed",
				zap.Int64("conversation_id", conv.ID),
				zap.Error(err),
			)
		}
	}

	return cursor, nil
}

// Get returns the caller's cursor after passing the gate.
func (s *CursorService) Get(ctx context.Context, ident model.Identity, ref string) (int64, error) {
	conv, err := s.access.Authorize(ctx, ref, ident.ID)
	if err != nil {
		return 0, err
	}
	return s.store.Cursor(ctx, conv.ID, ident.ID)
}
