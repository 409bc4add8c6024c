package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-core/internal/hub"
	"github.com/capitalize-ai/messaging-core/internal/middleware"
	"github.com/capitalize-ai/messaging-core/internal/model"
	"github.com/capitalize-ai/messaging-core/internal/service"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
)

const (
	wsReadTimeout = 60 * time.Second
	wsReadLimit   = 64 * 1024
	wsOpTimeout   = 5 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler handles the live channel endpoint. Frames from the client are
// joinRoom, leaveRoom and sendMessage; the server answers with joinedRoom,
// newMessage, cursorAdvanced and session-scoped error events.
type WSHandler struct {
	hub      *hub.Hub
	access   *service.AccessService
	messages *service.MessageService
	cursors  *service.CursorService
	logger   *logger.Logger
}

// NewWSHandler creates the live channel handler.
func NewWSHandler(
	h *hub.Hub,
	access *service.AccessService,
	messages *service.MessageService,
	cursors *service.CursorService,
	log *logger.Logger,
) *WSHandler {
	return &WSHandler{
		hub:      h,
		access:   access,
		messages: messages,
		cursors:  cursors,
		logger:   log,
	}
}

// Serve handles GET /api/v1/ws. Identity must be attached before any frame
// is processed; without it the upgrade is refused.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, model.ErrAuthRequired("no identity attached"))
		return
	}

	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	sess := hub.NewSession(ident.ID, ws)
	h.hub.Attach(sess)
	defer func() {
		// Release every room membership no matter how the connection ends.
		h.hub.Detach(sess)
		sess.Close(websocket.CloseNormalClosure, "session closed")
	}()

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("live channel closed abnormally",
					zap.String("session_id", sess.ID),
					zap.Error(err),
				)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var frame model.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.replyError(sess, "bad_request", "invalid payload")
			continue
		}

		ctx, cancel := context.WithTimeout(r.Context(), wsOpTimeout)
		switch frame.Type {
		case model.FrameJoinRoom:
			h.handleJoin(ctx, sess, ident, frame)
		case model.FrameLeaveRoom:
			h.handleLeave(sess, frame)
		case model.FrameSendMessage:
			h.handleSend(ctx, sess, ident, frame)
		default:
			h.replyError(sess, "bad_request", "unknown frame type")
		}
		cancel()
	}
}

func (h *WSHandler) handleJoin(ctx context.Context, sess *hub.Session, ident model.Identity, frame model.ClientFrame) {
	if frame.ConversationID == 0 {
		h.replyError(sess, "bad_request", "conversation_id is required")
		return
	}
	ref := strconv.FormatInt(frame.ConversationID, 10)

	conv, err := h.access.Authorize(ctx, ref, ident.ID)
	if err != nil {
		h.replyServiceError(sess, err)
		return
	}

	h.hub.Join(conv.ID, sess)

	// Joining a room implies seeing its latest state: advance the cursor to
	// the newest message by somebody else. The advance broadcasts a
	// cursorAdvanced event to the room, excluding this session.
	if _, err := h.cursors.AdvanceAuthorized(ctx, ident, conv, 0, sess.ID); err != nil && model.KindOf(err) != model.KindNotFound {
		h.logger.Warn("implicit cursor advance failed",
			zap.Int64("conversation_id", conv.ID),
			zap.Error(err),
		)
	}

	h.reply(sess, &model.Event{Type: model.EventJoinedRoom, ConversationID: conv.ID})
}

func (h *WSHandler) handleLeave(sess *hub.Session, frame model.ClientFrame) {
	if frame.ConversationID == 0 {
		h.replyError(sess, "bad_request", "conversation_id is required")
		return
	}
	h.hub.Leave(frame.ConversationID, sess)
}

func (h *WSHandler) handleSend(ctx context.Context, sess *hub.Session, ident model.Identity, frame model.ClientFrame) {
	if frame.ConversationID == 0 {
		h.replyError(sess, "bad_request", "conversation_id is required")
		return
	}
	ref := strconv.FormatInt(frame.ConversationID, 10)

	// The message is delivered back through the room broadcast; only
	// failures are reported directly to the sender.
	if _, err := h.messages.Send(ctx, ident, ref, frame.Body); err != nil {
		h.replyServiceError(sess, err)
	}
}

func (h *WSHandler) reply(sess *hub.Session, event *model.Event) {
	if payload, err := json.Marshal(event); err == nil {
		_ = sess.Send(payload)
	}
}

func (h *WSHandler) replyError(sess *hub.Session, code, reason string) {
	h.reply(sess, &model.Event{Type: model.EventError, Code: code, Reason: reason})
}

func (h *WSHandler) replyServiceError(sess *hub.Session, err error) {
	var e *model.Error
	if errors.As(err, &e) {
		h.replyError(sess, e.Kind, e.Message)
		return
	}
	h.replyError(sess, model.KindTransientStore, "operation failed")
}
