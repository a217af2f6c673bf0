package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/histeeria/chatcore/internal/obs"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := obs.New("error", "text", "queue-test")
	q := NewRedisQueue(client, Config{
		StreamName:    "chat:messages",
		ConsumerGroup: "dispatchers",
		ConsumerName:  "test-consumer",
	}, logger)
	return q, mr
}

func TestPublishThenConsumeDeliversItem(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q, _ := newTestQueue(t)

	item := Item{MessageID: "m1", SenderID: "u_alice", ReceiverID: "u_bob", Content: "hi", Timestamp: time.Now()}
	if err := q.Publish(ctx, item); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var mu sync.Mutex
	var received []Item
	go func() {
		q.Consume(ctx, func(_ context.Context, it Item) error {
			mu.Lock()
			received = append(received, it)
			mu.Unlock()
			cancel()
			return nil
		})
	}()

	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].MessageID != "m1" {
		t.Fatalf("received = %+v, want one item m1", received)
	}
}

func TestDepthReflectsPublishedItems(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	q.Publish(ctx, Item{MessageID: "m1", SenderID: "a", ReceiverID: "b", Content: "x", Timestamp: time.Now()})
	q.Publish(ctx, Item{MessageID: "m2", SenderID: "a", ReceiverID: "b", Content: "y", Timestamp: time.Now()})

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 2 {
		t.Fatalf("Depth = %d, want 2", depth)
	}
}
