// Package store defines the durable Message Store contract: every accepted
// chat message with its undelivered/deliveredAt lifecycle flags.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is the central persisted entity. SenderID and ReceiverID are
// immutable after creation; Undelivered is true from creation until the
// receiver acknowledges delivery, at which point DeliveredAt is set.
type Message struct {
	MessageID   uuid.UUID
	SenderID    string
	ReceiverID  string
	Content     string
	Timestamp   time.Time
	Undelivered bool
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// Store is the Message Store contract. Implementations must make Create
// atomic (durable or failed, never partial) and every mutation a single
// atomic update.
type Store interface {
	// Create persists a new message, server-assigning MessageID and setting
	// Undelivered=true.
	Create(ctx context.Context, senderID, receiverID, content string, timestamp time.Time) (*Message, error)

	// FindByID returns the message, or ErrMessageNotFound when absent.
	FindByID(ctx context.Context, messageID uuid.UUID) (*Message, error)

	// MarkDelivered sets Undelivered=false and DeliveredAt=now.
	MarkDelivered(ctx context.Context, messageID uuid.UUID) error

	// MarkUndelivered is the delivery-ack compensator: clears DeliveredAt
	// and sets Undelivered=true.
	MarkUndelivered(ctx context.Context, messageID uuid.UUID) error

	// DeleteByID is the ingress compensator, used only when a queue publish
	// fails after the row was created.
	DeleteByID(ctx context.Context, messageID uuid.UUID) error

	// FindUndelivered returns receiverID's undelivered messages, ascending
	// by timestamp.
	FindUndelivered(ctx context.Context, receiverID string) ([]*Message, error)

	// ChatHistory returns messages between a and b, descending by
	// timestamp, optionally before a given instant, capped at limit (<=50).
	ChatHistory(ctx context.Context, a, b string, before *time.Time, limit int) ([]*Message, error)

	// DeleteDeliveredOlderThan removes delivered messages whose DeliveredAt
	// predates the retention horizon. Used by the background retention
	// sweep; returns the number of rows removed.
	DeleteDeliveredOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}
