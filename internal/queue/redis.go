package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/histeeria/chatcore/internal/obs"
	apperrors "github.com/histeeria/chatcore/pkg/errors"
)

// Config configures the Redis Streams queue.
type Config struct {
	StreamName      string
	ConsumerGroup   string
	ConsumerName    string // defaults to a random per-process name
	MaxRedeliveries int64  // redeliveries before a message is dead-lettered
	ClaimMinIdle    time.Duration
}

// RedisQueue implements Queue over a Redis stream, using a consumer group
// for manual-ack, at-least-once delivery, and a secondary ":dead" stream as
// the dead-letter destination for poison messages.
type RedisQueue struct {
	client *redis.Client
	cfg    Config
	log    *obs.Logger
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client *redis.Client, cfg Config, logger *obs.Logger) *RedisQueue {
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "dispatcher-" + uuid.New().String()[:8]
	}
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = 3
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = 30 * time.Second
	}
	return &RedisQueue{client: client, cfg: cfg, log: logger}
}

func (q *RedisQueue) deadLetterStream() string {
	return q.cfg.StreamName + ":dead"
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.StreamName, q.cfg.ConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Publish adds item to the stream with the persistent XADD default (Redis
// streams are append-only and AOF/RDB-durable; there is no separate
// per-message persistence flag to set).
func (q *RedisQueue) Publish(ctx context.Context, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return apperrors.ErrQueuePublishFailed.WithDetails(fmt.Sprintf("marshal item: %v", err))
	}

	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.StreamName,
		ID:     "*",
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return apperrors.ErrQueuePublishFailed.WithDetails(fmt.Sprintf("xadd: %v", err))
	}
	return nil
}

// Consume runs the single reader loop: blocking XREADGROUP for new
// messages, periodic reclaim of stale pending entries (crashed-consumer
// recovery), and dead-lettering after MaxRedeliveries.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return apperrors.ErrQueueConsumeFailed.WithDetails(fmt.Sprintf("ensure group: %v", err))
	}

	reclaimTicker := time.NewTicker(q.cfg.ClaimMinIdle)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reclaimTicker.C:
			q.reclaimStale(ctx, handler)
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.ConsumerGroup,
			Consumer: q.cfg.ConsumerName,
			Streams:  []string{q.cfg.StreamName, ">"},
			Count:    10,
			Block:    2 * time.Second,
		}).Result()

		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.log.Warn("XReadGroup error: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.dispatchOne(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisQueue) dispatchOne(ctx context.Context, msg redis.XMessage, handler Handler) {
	item, err := decodeItem(msg)
	if err != nil {
		// Poison payload: log and nack-requeue per §4.4 — leave unacked so
		// it is retried via reclaim, same as a handler failure.
		q.log.Error("invalid queue payload %s: %v", msg.ID, err)
		return
	}

	if err := handler(ctx, *item); err != nil {
		q.log.Warn("handler failed for %s: %v", msg.ID, err)
		return
	}

	if err := q.ack(ctx, msg.ID); err != nil {
		q.log.Error("failed to ack %s: %v", msg.ID, err)
	}
}

func (q *RedisQueue) ack(ctx context.Context, id string) error {
	if err := q.client.XAck(ctx, q.cfg.StreamName, q.cfg.ConsumerGroup, id).Err(); err != nil {
		return err
	}
	return q.client.XDel(ctx, q.cfg.StreamName, id).Err()
}

// reclaimStale claims pending entries idle longer than ClaimMinIdle —
// recovering work from a crashed consumer — and dead-letters entries that
// have exceeded MaxRedeliveries.
func (q *RedisQueue) reclaimStale(ctx context.Context, handler Handler) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.StreamName,
		Group:  q.cfg.ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		q.log.Warn("XPendingExt error: %v", err)
		return
	}

	for _, p := range pending {
		if p.Idle < q.cfg.ClaimMinIdle {
			continue
		}

		// RetryCount is the delivery count, which includes the first delivery.
		if int64(p.RetryCount) > q.cfg.MaxRedeliveries {
			q.deadLetter(ctx, p.ID, fmt.Sprintf("exceeded %d redeliveries", q.cfg.MaxRedeliveries))
			continue
		}

		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.cfg.StreamName,
			Group:    q.cfg.ConsumerGroup,
			Consumer: q.cfg.ConsumerName,
			MinIdle:  q.cfg.ClaimMinIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			q.log.Warn("XClaim failed for %s: %v", p.ID, err)
			continue
		}
		for _, msg := range claimed {
			q.dispatchOne(ctx, msg, handler)
		}
	}
}

func (q *RedisQueue) deadLetter(ctx context.Context, id, reason string) {
	q.log.Error("dead-lettering message %s: %s", id, reason)
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadLetterStream(),
		ID:     "*",
		Values: map[string]interface{}{"original_id": id, "reason": reason, "failed_at": time.Now().Format(time.RFC3339)},
	}).Result()
	if err != nil {
		q.log.Error("failed to write dead letter for %s: %v", id, err)
	}
	if err := q.ack(ctx, id); err != nil {
		q.log.Error("failed to ack dead-lettered message %s: %v", id, err)
	}
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	length, err := q.client.XLen(ctx, q.cfg.StreamName).Result()
	if err != nil {
		return 0, apperrors.ErrQueueConnection.WithDetails(fmt.Sprintf("xlen: %v", err))
	}
	return length, nil
}

func (q *RedisQueue) Close() error {
	return nil
}

func decodeItem(msg redis.XMessage) (*Item, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data field")
	}
	var item Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, err
	}
	return &item, nil
}
