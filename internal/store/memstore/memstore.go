// Package memstore is an in-memory store.Store fake for use in tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/histeeria/chatcore/internal/store"
	apperrors "github.com/histeeria/chatcore/pkg/errors"
)

// Store is a goroutine-safe, in-memory store.Store.
type Store struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*store.Message

	// FailCreate, when set, makes Create return this error instead of
	// succeeding, to simulate a failed store write in tests.
	FailCreate error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{messages: make(map[uuid.UUID]*store.Message)}
}

func (s *Store) Create(ctx context.Context, senderID, receiverID, content string, timestamp time.Time) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCreate != nil {
		return nil, s.FailCreate
	}

	msg := &store.Message{
		MessageID:   uuid.New(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Content:     content,
		Timestamp:   timestamp,
		Undelivered: true,
	}
	s.messages[msg.MessageID] = msg

	cp := *msg
	return &cp, nil
}

func (s *Store) FindByID(ctx context.Context, messageID uuid.UUID) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *Store) MarkDelivered(ctx context.Context, messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return apperrors.ErrMessageNotFound
	}
	now := time.Now()
	msg.Undelivered = false
	msg.DeliveredAt = &now
	return nil
}

func (s *Store) MarkUndelivered(ctx context.Context, messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return apperrors.ErrMessageNotFound
	}
	msg.Undelivered = true
	msg.DeliveredAt = nil
	return nil
}

func (s *Store) DeleteByID(ctx context.Context, messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, messageID)
	return nil
}

func (s *Store) FindUndelivered(ctx context.Context, receiverID string) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*store.Message
	for _, msg := range s.messages {
		if msg.ReceiverID == receiverID && msg.Undelivered {
			cp := *msg
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

func (s *Store) ChatHistory(ctx context.Context, a, b string, before *time.Time, limit int) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > 50 {
		limit = 50
	}

	var result []*store.Message
	for _, msg := range s.messages {
		between := (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a)
		if !between {
			continue
		}
		if before != nil && !msg.Timestamp.Before(*before) {
			continue
		}
		cp := *msg
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteDeliveredOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := time.Now().Add(-olderThan)
	var removed int64
	for id, msg := range s.messages {
		if !msg.Undelivered && msg.DeliveredAt != nil && msg.DeliveredAt.Before(horizon) {
			delete(s.messages, id)
			removed++
		}
	}
	return removed, nil
}
