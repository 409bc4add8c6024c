// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/messaging-core/internal/middleware"
	"github.com/capitalize-ai/messaging-core/internal/model"
	"github.com/capitalize-ai/messaging-core/internal/service"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	conversations *service.ConversationService
	logger        *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{conversations: svc, logger: log}
}

// CreateDirect handles POST /api/v1/conversations/direct
func (h *ConversationHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, model.ErrAuthRequired("no identity attached"))
		return
	}

	var req model.CreateDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.ErrValidation("invalid request body"))
		return
	}

	conv, created, err := h.conversations.CreateDirect(ctx, ident, req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	if !created {
		// The pair already shares a direct conversation; report it as a
		// conflict together with the existing id.
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"kind":            model.KindConflict,
			"message":         "direct conversation already exists",
			"conversation_id": conv.ID,
		})
		return
	}

	writeJSON(w, http.StatusCreated, &model.CreateConversationResponse{ConversationID: conv.ID})
}

// CreatePublic handles POST /api/v1/conversations/public
func (h *ConversationHandler) CreatePublic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, model.ErrAuthRequired("no identity attached"))
		return
	}

	var req model.CreatePublicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.ErrValidation("invalid request body"))
		return
	}

	conv, err := h.conversations.CreatePublic(ctx, ident, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &model.CreateConversationResponse{ConversationID: conv.ID})
}

// Join handles POST /api/v1/conversations/{ref}/join
func (h *ConversationHandler) Join(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, model.ErrAuthRequired("no identity attached"))
		return
	}

	if _, err := h.conversations.Join(ctx, ident, chi.URLParam(r, "ref")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, model.ErrAuthRequired("no identity attached"))
		return
	}

	summaries, err := h.conversations.List(ctx, ident)
	if err != nil {
		h.logger.Error("failed to list conversations")
		writeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []model.ConversationSummary{}
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{Conversations: summaries})
}

// AvailablePeers handles GET /api/v1/users/available
func (h *ConversationHandler) AvailablePeers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, model.ErrAuthRequired("no identity attached"))
		return
	}

	peers, err := h.conversations.AvailablePeers(ctx, ident)
	if err != nil {
		writeError(w, err)
		return
	}
	if peers == nil {
		peers = []model.Participant{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"users": peers})
}
