package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-core/internal/hub"
	"github.com/capitalize-ai/messaging-core/internal/middleware"
	"github.com/capitalize-ai/messaging-core/internal/model"
	"github.com/capitalize-ai/messaging-core/internal/service"
	"github.com/capitalize-ai/messaging-core/internal/store"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
)

const testSecret = "test-secret"

type apiFixture struct {
	t      *testing.T
	server *httptest.Server
	store  *store.Store
	rooms  *hub.Hub
	client *http.Client
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logger.NewNop()
	rooms := hub.New()
	t.Cleanup(rooms.Close)
	publisher := hub.NewPublisher(rooms)

	accessSvc := service.NewAccessService(st, log)
	cursorSvc := service.NewCursorService(st, accessSvc, publisher, log)
	messageSvc := service.NewMessageService(st, accessSvc, publisher, log)
	historySvc := service.NewHistoryService(st, accessSvc, cursorSvc, log)
	conversationSvc := service.NewConversationService(st, accessSvc, log)

	conversationHandler := NewConversationHandler(conversationSvc, log)
	messageHandler := NewMessageHandler(messageSvc, historySvc, cursorSvc, log)
	wsHandler := NewWSHandler(rooms, accessSvc, messageSvc, cursorSvc, log)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(testSecret))
		r.Use(middleware.Provision(st, log))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/direct", conversationHandler.CreateDirect)
			r.Post("/public", conversationHandler.CreatePublic)

			r.Route("/{ref}", func(r chi.Router) {
				r.Post("/join", conversationHandler.Join)
				r.Get("/messages", messageHandler.History)
				r.Post("/messages", messageHandler.Send)
				r.Post("/read", messageHandler.MarkRead)
			})
		})

		r.Get("/users/available", conversationHandler.AvailablePeers)
		r.Get("/ws", wsHandler.Serve)
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &apiFixture{t: t, server: server, store: st, rooms: rooms, client: server.Client()}
}

func token(t *testing.T, userID, username string) string {
	t.Helper()
	claims := &middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Username: username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *apiFixture) do(method, path, bearer string, body interface{}) *http.Response {
	f.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(f.t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	require.NoError(f.t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// provision makes one authenticated call so the identity lands in the users
// table, the way a real client's first request does.
func (f *apiFixture) provision(userID, username string) string {
	f.t.Helper()
	bearer := token(f.t, userID, username)
	resp := f.do(http.MethodGet, "/api/v1/conversations", bearer, nil)
	resp.Body.Close()
	require.Equal(f.t, http.StatusOK, resp.StatusCode)
	return bearer
}

func (f *apiFixture) createDirect(bearer, username string) int64 {
	f.t.Helper()
	resp := f.do(http.MethodPost, "/api/v1/conversations/direct", bearer, model.CreateDirectRequest{Username: username})
	require.Equal(f.t, http.StatusCreated, resp.StatusCode)
	var created model.CreateConversationResponse
	decode(f.t, resp, &created)
	return created.ConversationID
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(http.MethodGet, "/api/v1/conversations", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(http.MethodGet, "/api/v1/conversations", "not-a-token", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDirectConversationFlow(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	bobTok := f.provision("u-bob", "bob")

	convID := f.createDirect(aliceTok, "bob")
	ref := fmt.Sprintf("/api/v1/conversations/%d", convID)

	// Alice sends; the echo carries her name.
	resp := f.do(http.MethodPost, ref+"/messages", aliceTok, model.SendMessageRequest{Body: "oi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent model.Message
	decode(t, resp, &sent)
	assert.Equal(t, "alice", sent.SenderName)
	assert.Equal(t, "oi", sent.Body)

	// Bob reads the page; the fetch moves his cursor onto the message.
	resp = f.do(http.MethodGet, ref+"/messages", bobTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page model.HistoryPage
	decode(t, resp, &page)
	require.Len(t, page.Messages, 1)
	assert.False(t, page.Messages[0].IsMine)
	assert.True(t, page.Messages[0].Seen)
	assert.Equal(t, sent.ID, page.Cursor)

	// Bob's directory shows the conversation fully read.
	resp = f.do(http.MethodGet, "/api/v1/conversations", bobTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list model.ListConversationsResponse
	decode(t, resp, &list)
	require.Len(t, list.Conversations, 1)
	assert.Zero(t, list.Conversations[0].UnreadCount)
	assert.Equal(t, "oi", list.Conversations[0].LastMessage)
}

func TestDirectConversationConflict(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	bobTok := f.provision("u-bob", "bob")

	convID := f.createDirect(aliceTok, "bob")

	// The same pair again, from either side, reports the existing id.
	resp := f.do(http.MethodPost, "/api/v1/conversations/direct", bobTok, model.CreateDirectRequest{Username: "alice"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var conflict struct {
		Kind           string `json:"kind"`
		ConversationID int64  `json:"conversation_id"`
	}
	decode(t, resp, &conflict)
	assert.Equal(t, model.KindConflict, conflict.Kind)
	assert.Equal(t, convID, conflict.ConversationID)
}

func TestDirectConversationValidation(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")

	resp := f.do(http.MethodPost, "/api/v1/conversations/direct", aliceTok, model.CreateDirectRequest{Username: "alice"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(http.MethodPost, "/api/v1/conversations/direct", aliceTok, model.CreateDirectRequest{Username: "nobody"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAccessGateOnEveryOperation(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	f.provision("u-bob", "bob")
	carolTok := f.provision("u-carol", "carol")

	convID := f.createDirect(aliceTok, "bob")
	ref := fmt.Sprintf("/api/v1/conversations/%d", convID)

	resp := f.do(http.MethodGet, ref+"/messages", carolTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(http.MethodPost, ref+"/messages", carolTok, model.SendMessageRequest{Body: "let me in"})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(http.MethodPost, ref+"/read", carolTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Direct membership is immutable; carol cannot join her way in.
	resp = f.do(http.MethodPost, ref+"/join", carolTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPublicConversationByName(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	bobTok := f.provision("u-bob", "bob")

	resp := f.do(http.MethodPost, "/api/v1/conversations/public", aliceTok, model.CreatePublicRequest{Name: "general"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.CreateConversationResponse
	decode(t, resp, &created)

	// Name collision.
	resp = f.do(http.MethodPost, "/api/v1/conversations/public", bobTok, model.CreatePublicRequest{Name: "general"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Bob is not a member yet.
	resp = f.do(http.MethodGet, "/api/v1/conversations/general/messages", bobTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Joining by name opens the gate.
	resp = f.do(http.MethodPost, "/api/v1/conversations/general/join", bobTok, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(http.MethodPost, "/api/v1/conversations/general/messages", bobTok, model.SendMessageRequest{Body: "hello room"})
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestSendValidation(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	f.provision("u-bob", "bob")

	convID := f.createDirect(aliceTok, "bob")
	ref := fmt.Sprintf("/api/v1/conversations/%d", convID)

	resp := f.do(http.MethodPost, ref+"/messages", aliceTok, model.SendMessageRequest{Body: "   "})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(http.MethodPost, ref+"/messages", aliceTok, model.SendMessageRequest{Body: strings.Repeat("x", model.MaxBodyLength+1)})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The log stays empty after rejected sends.
	resp = f.do(http.MethodGet, ref+"/messages", aliceTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page model.HistoryPage
	decode(t, resp, &page)
	assert.Empty(t, page.Messages)
}

func TestMarkRead(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	bobTok := f.provision("u-bob", "bob")

	convID := f.createDirect(aliceTok, "bob")
	ref := fmt.Sprintf("/api/v1/conversations/%d", convID)

	resp := f.do(http.MethodPost, ref+"/messages", aliceTok, model.SendMessageRequest{Body: "oi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent model.Message
	decode(t, resp, &sent)

	// Empty body: the newest message by somebody else.
	resp = f.do(http.MethodPost, ref+"/read", bobTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var marked model.MarkReadResponse
	decode(t, resp, &marked)
	assert.Equal(t, sent.ID, marked.Cursor)

	// Unknown message id.
	resp = f.do(http.MethodPost, ref+"/read", bobTok, model.MarkReadRequest{MessageID: 9999})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Nothing foreign for alice to read yet.
	resp = f.do(http.MethodPost, ref+"/read", aliceTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryPageValidation(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	f.provision("u-bob", "bob")

	convID := f.createDirect(aliceTok, "bob")
	ref := fmt.Sprintf("/api/v1/conversations/%d/messages", convID)

	for _, q := range []string{"?page=0", "?page=-1", "?page=abc"} {
		resp := f.do(http.MethodGet, ref+q, aliceTok, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}

	resp := f.do(http.MethodGet, ref+"?page=5", aliceTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page model.HistoryPage
	decode(t, resp, &page)
	assert.Equal(t, 5, page.Page)
	assert.Empty(t, page.Messages)
}

func TestAvailablePeers(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	f.provision("u-bob", "bob")
	f.provision("u-carol", "carol")

	f.createDirect(aliceTok, "bob")

	resp := f.do(http.MethodGet, "/api/v1/users/available", aliceTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Users []model.Participant `json:"users"`
	}
	decode(t, resp, &out)
	require.Len(t, out.Users, 1)
	assert.Equal(t, "carol", out.Users[0].Username)
}

func TestWebSocketLiveDelivery(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	bobTok := f.provision("u-bob", "bob")

	convID := f.createDirect(aliceTok, "bob")

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws"
	header := http.Header{"Authorization": []string{"Bearer " + bobTok}}
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	join, err := json.Marshal(model.ClientFrame{Type: model.FrameJoinRoom, ConversationID: convID})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, join))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var joined model.Event
	require.NoError(t, json.Unmarshal(data, &joined))
	assert.Equal(t, model.EventJoinedRoom, joined.Type)
	assert.Equal(t, convID, joined.ConversationID)

	// Alice posts over REST; bob's live session receives the broadcast.
	sendResp := f.do(http.MethodPost, fmt.Sprintf("/api/v1/conversations/%d/messages", convID), aliceTok, model.SendMessageRequest{Body: "oi"})
	require.Equal(t, http.StatusCreated, sendResp.StatusCode)
	sendResp.Body.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err = ws.ReadMessage()
	require.NoError(t, err)
	var event model.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, model.EventNewMessage, event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, "oi", event.Message.Body)
	assert.Equal(t, "u-alice", event.Message.SenderID)
}

func TestWebSocketUnauthorizedJoin(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	f.provision("u-bob", "bob")
	carolTok := f.provision("u-carol", "carol")

	convID := f.createDirect(aliceTok, "bob")

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws"
	header := http.Header{"Authorization": []string{"Bearer " + carolTok}}
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	join, err := json.Marshal(model.ClientFrame{Type: model.FrameJoinRoom, ConversationID: convID})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, join))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var event model.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, model.EventError, event.Type)
	assert.Equal(t, model.KindAccessDenied, event.Code)
}

func TestWebSocketDetachOnClose(t *testing.T) {
	f := newAPIFixture(t)
	aliceTok := f.provision("u-alice", "alice")
	f.provision("u-bob", "bob")

	convID := f.createDirect(aliceTok, "bob")

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws"
	header := http.Header{"Authorization": []string{"Bearer " + aliceTok}}
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	join, err := json.Marshal(model.ClientFrame{Type: model.FrameJoinRoom, ConversationID: convID})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, join))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)

	// Drop the connection without a close frame; the server must still tear
	// the session down and release its room memberships.
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		sessions, rooms := f.rooms.Stats()
		return sessions == 0 && rooms == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
