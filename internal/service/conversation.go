package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-core/internal/model"
	"github.com/capitalize-ai/messaging-core/internal/store"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
	"github.com/capitalize-ai/messaging-core/pkg/metrics"
)

const maxConversationName = 64

// ConversationService manages conversation lifecycle and the per-user
// directory.
type ConversationService struct {
	store  *store.Store
	access *AccessService
	logger *logger.Logger
}

// NewConversationService creates a conversation service.
func NewConversationService(st *store.Store, access *AccessService, log *logger.Logger) *ConversationService {
	return &ConversationService{store: st, access: access, logger: log}
}

// CreateDirect opens a direct conversation between the caller and the user
// named by username. Exactly two memberships, immutable afterwards. A second
// call for the same pair reports the existing conversation with
// created = false.
func (s *ConversationService) CreateDirect(ctx context.Context, ident model.Identity, username string) (*model.Conversation, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, false, model.ErrValidation("username is required")
	}
	if username == ident.Username {
		return nil, false, model.ErrValidation("cannot open a direct conversation with yourself")
	}

	other, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		return nil, false, err
	}
	if other.ID == ident.ID {
		return nil, false, model.ErrValidation("cannot open a direct conversation with yourself")
	}

	conv, created, err := s.store.CreateDirect(ctx, ident.ID, other.ID)
	if err != nil {
		return nil, false, err
	}
	if created {
		metrics.ConversationsTotal.WithLabelValues(string(model.KindDirect)).Inc()
		s.logger.Info("direct conversation created",
			zap.Int64("conversation_id", conv.ID),
			zap.String("user_id", ident.ID),
		)
	}
	return conv, created, nil
}

// CreatePublic creates a named open-membership conversation; the creator
// becomes its first member.
func (s *ConversationService) CreatePublic(ctx context.Context, ident model.Identity, name string) (*model.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.ErrValidation("conversation name is required")
	}
	if utf8.RuneCountInString(name) > maxConversationName || !utf8.ValidString(name) {
		return nil, model.ErrValidation("invalid conversation name")
	}

	conv, err := s.store.CreatePublic(ctx, name, ident.ID)
	if err != nil {
		return nil, err
	}

	metrics.ConversationsTotal.WithLabelValues(string(model.KindPublic)).Inc()
	s.logger.Info("public conversation created",
		zap.Int64("conversation_id", conv.ID),
		zap.String("name", name),
		zap.String("user_id", ident.ID),
	)
	return conv, nil
}

// Join adds the caller to a public conversation. Direct memberships are
// immutable, so joining one is denied.
func (s *ConversationService) Join(ctx context.Context, ident model.Identity, ref string) (*model.Conversation, error) {
	conv, err := s.access.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if conv.Kind != model.KindPublic {
		return nil, model.ErrAccessDenied("direct conversations cannot be joined")
	}
	if err := s.store.AddMember(ctx, conv.ID, ident.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// List returns the caller's conversation directory.
func (s *ConversationService) List(ctx context.Context, ident model.Identity) ([]model.ConversationSummary, error) {
	return s.store.Summaries(ctx, ident.ID)
}

// AvailablePeers lists users the caller can still open a direct conversation
// with.
func (s *ConversationService) AvailablePeers(ctx context.Context, ident model.Identity) ([]model.Participant, error) {
	return s.store.AvailableDirectPeers(ctx, ident.ID)
}
