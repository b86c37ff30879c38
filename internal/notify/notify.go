// Package notify delivers reply-ready events to interested consumers once
// an assistant reply has been persisted.
package notify

import (
	"context"
	"time"
)

// ReplyEvent announces that an assistant reply is available.
type ReplyEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notifier publishes reply events. Delivery is best effort; a failed
// publish never fails the reply itself.
type Notifier interface {
	Notify(ctx context.Context, event ReplyEvent) error
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, ReplyEvent) error { return nil }
