package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-core/internal/model"
	"github.com/capitalize-ai/messaging-core/internal/store"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
	"github.com/capitalize-ai/messaging-core/pkg/metrics"
)

// MessageService appends messages to conversation logs and hands them to the
// fan-out layer. The order is always persist first, publish second: the hub
// only ever sees state that is already durable.
type MessageService struct {
	store     *store.Store
	access    *AccessService
	publisher EventPublisher
	logger    *logger.Logger

	mu        sync.Mutex
	convLocks map[int64]*sync.Mutex
}

// NewMessageService creates a message service.
func NewMessageService(st *store.Store, access *AccessService, pub EventPublisher, log *logger.Logger) *MessageService {
	return &MessageService{
		store:     st,
		access:    access,
		publisher: pub,
		logger:    log,
		convLocks: make(map[int64]*sync.Mutex),
	}
}

// lockConversation returns the ordering lock for one conversation. Holding it
// across append and publish keeps broadcast order aligned with commit order:
// two concurrent sends cannot publish in the opposite order of their appends.
func (s *MessageService) lockConversation(conversationID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.convLocks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.convLocks[conversationID] = l
	}
	return l
}

// Send validates, authorizes, persists and then broadcasts a message.
// Validation and the access gate run before any mutation; a store failure
// never produces a broadcast.
func (s *MessageService) Send(ctx context.Context, ident model.Identity, ref string, body string) (*model.Message, error) {
	if err := store.ValidateBody(body); err != nil {
		return nil, err
	}

	conv, err := s.access.Authorize(ctx, ref, ident.ID)
	if err != nil {
		return nil, err
	}

	lock := s.lockConversation(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := s.store.AppendMessage(ctx, conv.ID, ident.ID, body)
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(conv.Kind)).Inc()

	if err := s.publisher.Publish(ctx, conv.ID, "", &model.Event{
		Type:           model.EventNewMessage,
		ConversationID: conv.ID,
		Message:        msg,
	}); err != nil {
		// The message is durable; a dropped broadcast is recovered by the
		// client re-fetching history on reconnect.
		s.logger.Warn("message event publish failed",
			zap.Int64("conversation_id", conv.ID),
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
	}

	return msg, nil
}
