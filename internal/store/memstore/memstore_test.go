package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/histeeria/chatcore/pkg/errors"
)

func mustRandomID() uuid.UUID {
	return uuid.New()
}

func TestCreateThenFindByID(t *testing.T) {
	ctx := context.Background()
	s := New()

	ts := time.Unix(1_700_000_000, 0)
	msg, err := s.Create(ctx, "u_alice", "u_bob", "hi", ts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !msg.Undelivered || msg.DeliveredAt != nil {
		t.Fatalf("new message should be undelivered with no deliveredAt, got %+v", msg)
	}

	found, err := s.FindByID(ctx, msg.MessageID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if found.SenderID != "u_alice" || found.ReceiverID != "u_bob" || found.Content != "hi" || !found.Timestamp.Equal(ts) {
		t.Fatalf("FindByID mismatch: %+v", found)
	}
}

func TestFindByIDMissing(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.FindByID(ctx, mustRandomID())
	if !apperrors.Is(err, apperrors.KindMessageNotFound) {
		t.Fatalf("expected MessageNotFound, got %v", err)
	}
}

func TestMarkDeliveredThenUndeliveredRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := New()

	msg, _ := s.Create(ctx, "u_alice", "u_bob", "hi", time.Now())

	if err := s.MarkDelivered(ctx, msg.MessageID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	found, _ := s.FindByID(ctx, msg.MessageID)
	if found.Undelivered || found.DeliveredAt == nil {
		t.Fatalf("expected delivered, got %+v", found)
	}

	if err := s.MarkUndelivered(ctx, msg.MessageID); err != nil {
		t.Fatalf("MarkUndelivered: %v", err)
	}
	found, _ = s.FindByID(ctx, msg.MessageID)
	if !found.Undelivered || found.DeliveredAt != nil {
		t.Fatalf("expected undelivered with no deliveredAt, got %+v", found)
	}
}

func TestDeleteByID(t *testing.T) {
	ctx := context.Background()
	s := New()

	msg, _ := s.Create(ctx, "u_alice", "u_bob", "hi", time.Now())
	if err := s.DeleteByID(ctx, msg.MessageID); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if _, err := s.FindByID(ctx, msg.MessageID); !apperrors.Is(err, apperrors.KindMessageNotFound) {
		t.Fatalf("expected MessageNotFound after delete, got %v", err)
	}
}

func TestFindUndeliveredSortedAscending(t *testing.T) {
	ctx := context.Background()
	s := New()

	t2 := time.Unix(2000, 0)
	t1 := time.Unix(1000, 0)
	m2, _ := s.Create(ctx, "u_alice", "u_bob", "second", t2)
	m1, _ := s.Create(ctx, "u_alice", "u_bob", "first", t1)
	s.Create(ctx, "u_carol", "u_dave", "unrelated", t1)

	undelivered, err := s.FindUndelivered(ctx, "u_bob")
	if err != nil {
		t.Fatalf("FindUndelivered: %v", err)
	}
	if len(undelivered) != 2 || undelivered[0].MessageID != m1.MessageID || undelivered[1].MessageID != m2.MessageID {
		t.Fatalf("FindUndelivered order mismatch: %+v", undelivered)
	}
}

func TestChatHistoryDescendingAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 0; i < 5; i++ {
		s.Create(ctx, "u_alice", "u_bob", "msg", time.Unix(int64(1000+i), 0))
	}

	history, err := s.ChatHistory(ctx, "u_alice", "u_bob", nil, 3)
	if err != nil {
		t.Fatalf("ChatHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("ChatHistory len = %d, want 3", len(history))
	}
	for i := 0; i < len(history)-1; i++ {
		if !history[i].Timestamp.After(history[i+1].Timestamp) {
			t.Fatalf("ChatHistory not descending at index %d: %+v", i, history)
		}
	}
}

func TestDeleteDeliveredOlderThan(t *testing.T) {
	ctx := context.Background()
	s := New()

	msg, _ := s.Create(ctx, "u_alice", "u_bob", "hi", time.Now())
	s.MarkDelivered(ctx, msg.MessageID)

	// Freshly delivered messages should survive a sweep with a long horizon.
	removed, err := s.DeleteDeliveredOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteDeliveredOlderThan: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 removed, got %d", removed)
	}

	// Backdate delivery to simulate an old, delivered message.
	old := time.Now().Add(-48 * time.Hour)
	s.messages[msg.MessageID].DeliveredAt = &old

	removed, err = s.DeleteDeliveredOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteDeliveredOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}
