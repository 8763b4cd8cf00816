// Package events publishes committed notifications to NATS so realtime
// clients can be pushed without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"agora/api/internal/store"
)

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

type NatsPublisher struct {
	nc      msgPublisher
	subject string
}

// NewNatsPublisher publishes on "<subject>.<userID>".
func NewNatsPublisher(nc *nats.Conn, subject string) *NatsPublisher {
	return &NatsPublisher{nc: nc, subject: subject}
}

// NotificationEvent is the wire shape of a published notification.
type NotificationEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	RelatedID string    `json:"related_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *NatsPublisher) Subject(userID string) string {
	return p.subject + "." + userID
}

func (p *NatsPublisher) PublishNotification(ctx context.Context, n store.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event := NotificationEvent{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	}
	if n.RelatedID != nil {
		event.RelatedID = *n.RelatedID
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.Subject(n.UserID),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Agora-Notification-Type", n.Type)
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish notification %s: %w", n.ID, err)
	}
	return nil
}
