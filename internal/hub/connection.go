// Package hub implements the live fan-out layer: one broadcast room per
// conversation, populated by the WebSocket sessions currently joined to it.
// Everything here is soft state, rebuildable from whoever is connected; the
// store remains the source of truth.
package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/capitalize-ai/messaging-core/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// sendBuffer bounds the per-session outbound queue. The live channel is
	// best-effort: a session that cannot drain its buffer is closed rather
	// than allowed to stall the fan-out.
	sendBuffer = 128
)

// ErrSessionClosed is returned by Send after the session has shut down.
var ErrSessionClosed = errors.New("session closed")

// wsConn is the subset of *websocket.Conn the session writes through.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Session wraps one client connection. Outbound writes go through a buffered
// channel drained by a dedicated write loop, so broadcasts never block on a
// slow receiver.
type Session struct {
	ID     string
	UserID string

	ws     wsConn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewSession constructs a session for an authenticated user.
func NewSession(userID string, ws wsConn) *Session {
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// Start launches the write loop. Called exactly once, by Hub.Attach.
func (s *Session) Start() {
	go s.writeLoop()
}

// Send enqueues payload for delivery. A full buffer closes the session: the
// client reconnects and recovers missed events from history.
func (s *Session) Send(payload []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	case s.send <- payload:
		return nil
	default:
		metrics.BroadcastDropsTotal.Inc()
		s.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("send buffer exceeded")
	}
}

// Close terminates the session and stops the write loop. Safe to call more
// than once.
func (s *Session) Close(code int, reason string) {
	s.once.Do(func() {
		close(s.closed)
		_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = s.ws.Close()
	})
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.send:
			if err := s.writeMessage(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.writePing(); err != nil {
				return
			}
		}
	}
}

func (s *Session) writeMessage(payload []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) writePing() error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.PingMessage, nil)
}
