package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capitalize-ai/messaging-core/internal/model"
)

// Publisher is the in-process event publisher: it fans events straight out to
// the local hub. Used when no message bus is configured (single-instance
// deployments and tests); multi-instance deployments bridge through NATS
// instead.
type Publisher struct {
	hub *Hub
}

// NewPublisher creates an in-process publisher over h.
func NewPublisher(h *Hub) *Publisher {
	return &Publisher{hub: h}
}

// Publish marshals the event and broadcasts it to the conversation's room,
// excluding the origin session when set.
func (p *Publisher) Publish(_ context.Context, conversationID int64, origin string, event *model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.hub.Broadcast(conversationID, payload, origin)
	return nil
}
