package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-core/internal/model"
)

// fakeConn records text frames; control traffic is ignored.
type fakeConn struct {
	frames chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 32)}
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.TextMessage {
		c.frames <- data
	}
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) Close() error                              { return nil }

func (c *fakeConn) next(t *testing.T) []byte {
	t.Helper()
	select {
	case frame := <-c.frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func attach(t *testing.T, h *Hub, userID string) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := NewSession(userID, conn)
	h.Attach(s)
	t.Cleanup(func() {
		h.Detach(s)
		s.Close(websocket.CloseNormalClosure, "test done")
	})
	return s, conn
}

func TestBroadcastReachesRoomMembers(t *testing.T) {
	h := New()
	defer h.Close()

	s1, c1 := attach(t, h, "u-alice")
	s2, c2 := attach(t, h, "u-bob")
	_, c3 := attach(t, h, "u-carol")

	h.Join(7, s1)
	h.Join(7, s2)
	// carol never joins room 7.

	delivered := h.Broadcast(7, []byte("hello"), "")
	assert.Equal(t, 2, delivered)
	assert.Equal(t, "hello", string(c1.next(t)))
	assert.Equal(t, "hello", string(c2.next(t)))

	select {
	case frame := <-c3.frames:
		t.Fatalf("unjoined session received %q", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	h := New()
	defer h.Close()

	s1, c1 := attach(t, h, "u-alice")
	s2, c2 := attach(t, h, "u-alice") // second device, same user

	h.Join(7, s1)
	h.Join(7, s2)

	delivered := h.Broadcast(7, []byte("ping"), s1.ID)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, "ping", string(c2.next(t)))

	select {
	case frame := <-c1.frames:
		t.Fatalf("origin session received %q", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := New()
	defer h.Close()

	s1, _ := attach(t, h, "u-alice")
	h.Join(7, s1)
	require.Equal(t, 1, h.RoomSize(7))

	h.Leave(7, s1)
	assert.Zero(t, h.RoomSize(7))
	assert.Zero(t, h.Broadcast(7, []byte("gone"), ""))
}

func TestDetachReleasesAllRooms(t *testing.T) {
	h := New()

	conn := newFakeConn()
	s := NewSession("u-alice", conn)
	h.Attach(s)
	h.Join(1, s)
	h.Join(2, s)

	h.Detach(s)
	h.Detach(s) // idempotent

	assert.Zero(t, h.RoomSize(1))
	assert.Zero(t, h.RoomSize(2))
	sessions, rooms := h.Stats()
	assert.Zero(t, sessions)
	assert.Zero(t, rooms)
}

func TestJoinUnknownSessionIgnored(t *testing.T) {
	h := New()

	s := NewSession("u-ghost", newFakeConn())
	h.Join(7, s) // never attached
	assert.Zero(t, h.RoomSize(7))
}

func TestSendBufferFullClosesSession(t *testing.T) {
	s := NewSession("u-alice", newFakeConn())
	// No write loop: the buffer only fills.

	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, s.Send([]byte("x")))
	}
	require.Error(t, s.Send([]byte("overflow")))

	// The session is closed now; later sends report that instead.
	assert.ErrorIs(t, s.Send([]byte("x")), ErrSessionClosed)
}

func TestPublisherDeliversEvents(t *testing.T) {
	h := New()
	defer h.Close()

	s1, c1 := attach(t, h, "u-bob")
	h.Join(7, s1)

	pub := NewPublisher(h)
	err := pub.Publish(context.Background(), 7, "", &model.Event{
		Type:           model.EventNewMessage,
		ConversationID: 7,
		Message:        &model.Message{ID: 42, ConversationID: 7, SenderID: "u-alice", Body: "oi"},
	})
	require.NoError(t, err)

	var event model.Event
	require.NoError(t, json.Unmarshal(c1.next(t), &event))
	assert.Equal(t, model.EventNewMessage, event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, int64(42), event.Message.ID)
}
