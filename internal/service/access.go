package service

import (
	"context"
	"strconv"

	"github.com/capitalize-ai/messaging-core/internal/model"
	"github.com/capitalize-ai/messaging-core/internal/store"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
)

// AccessService decides whether a caller may touch a conversation. It is a
// read-only check, evaluated on every operation; membership is never cached
// across requests.
type AccessService struct {
	store  *store.Store
	logger *logger.Logger
}

// NewAccessService creates the access control gate.
func NewAccessService(st *store.Store, log *logger.Logger) *AccessService {
	return &AccessService{store: st, logger: log}
}

// Resolve maps a conversation reference (numeric id, or unique name for
// public conversations) to the conversation, without an access decision.
func (s *AccessService) Resolve(ctx context.Context, ref string) (*model.Conversation, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.store.ConversationByID(ctx, id)
	}
	return s.store.ConversationByName(ctx, ref)
}

// Authorize resolves ref and checks that userID may read and write the
// conversation. Direct conversations require a membership set of exactly two
// users including the caller; public conversations require the caller to be
// a member.
func (s *AccessService) Authorize(ctx context.Context, ref string, userID string) (*model.Conversation, error) {
	conv, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	members, err := s.store.Members(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	isMember := false
	for _, m := range members {
		if m.UserID == userID {
			isMember = true
			break
		}
	}

	switch conv.Kind {
	case model.KindDirect:
		if len(members) != 2 || !isMember {
			return nil, model.ErrAccessDenied("not a participant of this conversation")
		}
	default:
		if !isMember {
			return nil, model.ErrAccessDenied("not a member of this conversation")
		}
	}

	return conv, nil
}
