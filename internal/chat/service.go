// Package chat implements the Ingress send path and the delivery
// acknowledgment path, including their compensating rollbacks.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/histeeria/chatcore/internal/inbox"
	"github.com/histeeria/chatcore/internal/obs"
	"github.com/histeeria/chatcore/internal/queue"
	"github.com/histeeria/chatcore/internal/store"
	apperrors "github.com/histeeria/chatcore/pkg/errors"
)

const (
	minContentLength = 1
	maxContentLength = 1000
)

// Service wires the Message Store, Message Queue, and Inbox Cache into the
// Ingress and Delivery Acknowledgment operations of §4.5 and §4.8.
type Service struct {
	store   store.Store
	queue   queue.Queue
	inbox   *inbox.Cache
	metrics *obs.Metrics
	log     *obs.Logger
	tracer  trace.Tracer
}

// New builds a Service from its three stateful collaborators. A nil tracer
// falls back to a no-op tracer so call sites never need to branch on whether
// tracing is configured.
func New(st store.Store, q queue.Queue, ib *inbox.Cache, metrics *obs.Metrics, logger *obs.Logger, tracer trace.Tracer) *Service {
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("")
	}
	return &Service{store: st, queue: q, inbox: ib, metrics: metrics, log: logger, tracer: tracer}
}

// SendResult is returned to the sender's session on a successful send.
type SendResult struct {
	MessageID         uuid.UUID
	MessageIDByClient int64
	Timestamp         time.Time
}

// ValidateContent enforces the content length bound shared by Ingress and
// any other entry point that accepts message bodies.
func ValidateContent(content string) error {
	n := len([]rune(content))
	if n < minContentLength || n > maxContentLength {
		return apperrors.ErrValidation.WithDetails("content must be between 1 and 1000 characters")
	}
	return nil
}

// Send is the Ingress operation: persist, then enqueue, compensating the
// persisted row if enqueue fails. senderID is authoritative from the
// session binding, never taken from the payload.
func (s *Service) Send(ctx context.Context, senderID, receiverID, content string, clientTimestamp time.Time, messageIDByClient int64) (*SendResult, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	createCtx, createSpan := s.tracer.Start(ctx, "store.create")
	msg, err := s.store.Create(createCtx, senderID, receiverID, content, clientTimestamp)
	createSpan.End()
	if err != nil {
		return nil, err
	}

	item := queue.Item{
		MessageID:  msg.MessageID.String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  clientTimestamp,
	}

	publishCtx, publishSpan := s.tracer.Start(ctx, "queue.publish")
	err = s.queue.Publish(publishCtx, item)
	publishSpan.End()
	if err != nil {
		s.compensateCreate(ctx, msg.MessageID, err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IngestAccepted()
	}

	return &SendResult{
		MessageID:         msg.MessageID,
		MessageIDByClient: messageIDByClient,
		Timestamp:         time.Now(),
	}, nil
}

// compensateCreate deletes the row written by Create when the subsequent
// Publish fails. Failure here is logged, not retried inline — the
// compensation window (an undelivered row with no queue item) is left for
// an out-of-core reconciliation scan.
func (s *Service) compensateCreate(ctx context.Context, messageID uuid.UUID, publishErr error) {
	s.log.Error("queue publish failed for message %s, compensating: %v", messageID, publishErr)
	if s.metrics != nil {
		s.metrics.Compensation("ingress")
	}
	if err := s.store.DeleteByID(ctx, messageID); err != nil {
		s.log.Error("compensation failed to delete message %s: %v", messageID, err)
	}
}

// Acknowledge is the Delivery Acknowledgment operation of §4.8, triggered
// by the receiver's message_delivered event.
func (s *Service) Acknowledge(ctx context.Context, userID string, messageID uuid.UUID) error {
	if err := s.store.MarkDelivered(ctx, messageID); err != nil {
		return err
	}

	if err := s.inbox.RemoveFromInbox(ctx, userID, messageID.String()); err != nil {
		s.compensateDelivery(ctx, messageID, err)
		return err
	}

	if s.metrics != nil {
		s.metrics.Acknowledged()
	}
	return nil
}

// compensateDelivery reverts Store.MarkDelivered when the inbox removal
// fails, so the receiver may see the message again on next drain — the
// spec prefers duplicate delivery over silent loss.
func (s *Service) compensateDelivery(ctx context.Context, messageID uuid.UUID, removeErr error) {
	s.log.Error("inbox removal failed for message %s, compensating: %v", messageID, removeErr)
	if s.metrics != nil {
		s.metrics.Compensation("delivery_ack")
	}
	if err := s.store.MarkUndelivered(ctx, messageID); err != nil {
		s.log.Error("compensation failed to mark message %s undelivered: %v", messageID, err)
	}
}

// ChatHistory reuses the Message Store for the read-only HTTP surface.
func (s *Service) ChatHistory(ctx context.Context, a, b string, before *time.Time, limit int) ([]*store.Message, error) {
	return s.store.ChatHistory(ctx, a, b, before, limit)
}

// FindMessage reuses the Message Store for the read-only HTTP surface.
func (s *Service) FindMessage(ctx context.Context, messageID uuid.UUID) (*store.Message, error) {
	return s.store.FindByID(ctx, messageID)
}
