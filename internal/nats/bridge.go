package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-core/internal/hub"
	"github.com/capitalize-ai/messaging-core/internal/model"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
	"github.com/capitalize-ai/messaging-core/pkg/metrics"
)

const (
	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"
)

// envelope wraps an event with its origin session so the receiving side can
// exclude that session from delivery. Core NATS is deliberate here: the live
// channel is best-effort with the store as recovery path, so a durable stream
// would only duplicate what history fetches already provide.
type envelope struct {
	Origin string      `json:"origin,omitempty"`
	Event  model.Event `json:"event"`
}

// Bridge publishes persisted conversation events to NATS and feeds the
// subscription back into the local hub. Per-conversation order is preserved
// end to end: sends serialize per conversation before publishing, and one
// subscription dispatches sequentially on the receiving side.
type Bridge struct {
	client *Client
	hub    *hub.Hub
	logger *logger.Logger
}

// NewBridge creates a bridge between the services and the hub.
func NewBridge(client *Client, h *hub.Hub, log *logger.Logger) *Bridge {
	return &Bridge{client: client, hub: h, logger: log}
}

// MessageSubject returns the subject new-message events are published on.
func MessageSubject(conversationID int64) string {
	return fmt.Sprintf("%s.%d.msg", SubjectPrefix, conversationID)
}

// CursorSubject returns the subject cursor-advance events are published on.
func CursorSubject(conversationID int64) string {
	return fmt.Sprintf("%s.%d.cursor", SubjectPrefix, conversationID)
}

// Publish implements service.EventPublisher. Only durably stored state ever
// reaches this point.
func (b *Bridge) Publish(_ context.Context, conversationID int64, origin string, event *model.Event) error {
	data, err := json.Marshal(envelope{Origin: origin, Event: *event})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := MessageSubject(conversationID)
	if event.Type == model.EventCursorAdvanced {
		subject = CursorSubject(conversationID)
	}

	if err := b.client.Conn().Publish(subject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	metrics.BridgePublishesTotal.WithLabelValues(string(event.Type)).Inc()
	return nil
}

// Start subscribes to all conversation subjects and forwards incoming events
// to the hub. NATS delivers messages for one subscription sequentially, which
// keeps per-conversation FIFO order intact end to end.
func (b *Bridge) Start() error {
	_, err := b.client.Conn().Subscribe(SubjectPrefix+".>", func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn("bridge: bad event payload", zap.Error(err))
			return
		}
		payload, err := json.Marshal(env.Event)
		if err != nil {
			return
		}
		b.hub.Broadcast(env.Event.ConversationID, payload, env.Origin)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}
