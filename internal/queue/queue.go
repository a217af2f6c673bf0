// Package queue defines the durable Message Queue contract: the at-least-once
// FIFO handoff between Ingress and the Dispatcher.
package queue

import (
	"context"
	"time"
)

// Item is the on-wire payload crossing the durable queue.
type Item struct {
	MessageID  string    `json:"messageId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Handler processes one dequeued item. Returning nil acks the item;
// returning an error nacks it with requeue, per §4.4 — including when the
// payload itself failed to decode, a deliberate pessimism against losing
// messages to transient decode bugs.
type Handler func(ctx context.Context, item Item) error

// Queue is the Message Queue contract.
type Queue interface {
	// Publish durably enqueues item. Failure bubbles QueuePublishFailed and
	// triggers the Ingress compensator.
	Publish(ctx context.Context, item Item) error

	// Consume runs the long-running consumer loop, invoking handler for
	// each item with manual acknowledgment semantics, until ctx is
	// cancelled. Returns QueueConsumeFailed if consumer setup fails.
	Consume(ctx context.Context, handler Handler) error

	// Depth reports the current number of undelivered items, for metrics.
	Depth(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close() error
}
