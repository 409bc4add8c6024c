package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/messaging-core/internal/middleware"
	"github.com/capitalize-ai/messaging-core/internal/model"
	"github.com/capitalize-ai/messaging-core/internal/service"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
)

// MessageHandler handles message and read-cursor endpoints.
type MessageHandler struct {
	messages *service.MessageService
	history  *service.HistoryService
	cursors  *service.CursorService
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	messages *service.MessageService,
	history *service.HistoryService,
	cursors *service.CursorService,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		history:  history,
		cursors:  cursors,
		logger:   log,
	}
}

// History handles GET /api/v1/conversations/{ref}/messages?page=N
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, model.ErrAuthRequired("no identity attached"))
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 1 {
			writeError(w, model.ErrValidation("invalid page number"))
			return
		}
		page = parsed
	}

	result, err := h.history.FetchPage(ctx, ident, chi.URLParam(r, "ref"), page)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Messages == nil {
		result.Messages = []model.HistoryMessage{}
	}

	writeJSON(w, http.StatusOK, result)
}

// Send handles POST /api/v1/conversations/{ref}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, model.ErrAuthRequired("no identity attached"))
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.ErrValidation("invalid request body"))
		return
	}

	msg, err := h.messages.Send(ctx, ident, chi.URLParam(r, "ref"), req.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /api/v1/conversations/{ref}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, model.ErrAuthRequired("no identity attached"))
		return
	}

	var req model.MarkReadRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, model.ErrValidation("invalid request body"))
			return
		}
	}

	cursor, err := h.cursors.MarkRead(ctx, ident, chi.URLParam(r, "ref"), req.MessageID, "")
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.MarkReadResponse{Cursor: cursor})
}
