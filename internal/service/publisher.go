// Package service provides the business logic of the messaging core.
package service

import (
	"context"

	"github.com/capitalize-ai/messaging-core/internal/model"
)

// EventPublisher distributes events for a conversation to its live room.
// origin, when non-empty, is the session id that triggered the event; the
// fan-out layer excludes that session from delivery. Publishing happens only
// after the underlying state change is durable.
type EventPublisher interface {
	Publish(ctx context.Context, conversationID int64, origin string, event *model.Event) error
}
