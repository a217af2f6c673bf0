// Package inbox implements the Redis-backed Inbox Cache: per-recipient
// ordered pending-message lists and the presence hint used for the
// online/offline dispatch decision.
package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "github.com/histeeria/chatcore/pkg/errors"
)

// TTLs per the bit-exact cache key schema. Presence is short so a silent
// crash does not leave a user falsely online; inbox is long so a backlog
// survives an extended absence.
const (
	presenceTTL = 3600 * time.Second       // 1 hour
	inboxTTL    = 31_536_000 * time.Second // 1 year
	msgCacheTTL = 86_400 * time.Second     // 24 hours
)

const (
	keyConnection = "ws:connection:%s" // STRING -> serverId
	keyInbox      = "inbox:%s"         // LIST -> []messageId
	keyMessage    = "msg:%s"           // HASH -> {senderId, receiverId, content, timestamp}
)

// Cache is the Inbox Cache: a thin, typed wrapper over a Redis client
// implementing the operations of §4.3.
type Cache struct {
	redis *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Cache {
	return &Cache{redis: client}
}

// AddToInbox appends messageId to userId's pending list and refreshes the
// list's TTL. Callers SHOULD check membership first (see Contains) to avoid
// duplicate entries under queue redelivery.
func (c *Cache) AddToInbox(ctx context.Context, userID, messageID string) error {
	key := fmt.Sprintf(keyInbox, userID)
	if err := c.redis.RPush(ctx, key, messageID).Err(); err != nil {
		return apperrors.CacheOpFailed("AddToInbox", key, err)
	}
	if err := c.redis.Expire(ctx, key, inboxTTL).Err(); err != nil {
		return apperrors.CacheOpFailed("AddToInbox", key, err)
	}
	return nil
}

// Contains reports whether messageId is already present in userId's inbox,
// used to gate AddToInbox against duplicate deposits on redelivery.
func (c *Cache) Contains(ctx context.Context, userID, messageID string) (bool, error) {
	key := fmt.Sprintf(keyInbox, userID)
	ids, err := c.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return false, apperrors.CacheOpFailed("Contains", key, err)
	}
	for _, id := range ids {
		if id == messageID {
			return true, nil
		}
	}
	return false, nil
}

// GetInbox returns all pending message ids for userId, in the order they
// were appended.
func (c *Cache) GetInbox(ctx context.Context, userID string) ([]string, error) {
	key := fmt.Sprintf(keyInbox, userID)
	ids, err := c.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, apperrors.CacheOpFailed("GetInbox", key, err)
	}
	return ids, nil
}

// RemoveFromInbox removes the first occurrence of messageId from userId's
// pending list.
func (c *Cache) RemoveFromInbox(ctx context.Context, userID, messageID string) error {
	key := fmt.Sprintf(keyInbox, userID)
	if err := c.redis.LRem(ctx, key, 1, messageID).Err(); err != nil {
		return apperrors.CacheOpFailed("RemoveFromInbox", key, err)
	}
	return nil
}

// ClearInbox drops userId's entire pending list.
func (c *Cache) ClearInbox(ctx context.Context, userID string) error {
	key := fmt.Sprintf(keyInbox, userID)
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return apperrors.CacheOpFailed("ClearInbox", key, err)
	}
	return nil
}

// SetUserConnection records that userId has a live session on serverId,
// with the short presence TTL.
func (c *Cache) SetUserConnection(ctx context.Context, userID, serverID string) error {
	key := fmt.Sprintf(keyConnection, userID)
	if err := c.redis.Set(ctx, key, serverID, presenceTTL).Err(); err != nil {
		return apperrors.CacheOpFailed("SetUserConnection", key, err)
	}
	return nil
}

// IsUserOnline reports the presence hint for userId. This is advisory: the
// Dispatcher must still attempt delivery and fall back to inbox deposit if
// the hint turns out stale.
func (c *Cache) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf(keyConnection, userID)
	_, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, apperrors.CacheOpFailed("IsUserOnline", key, err)
	}
	return true, nil
}

// RemoveUserConnection clears the presence hint for userId.
func (c *Cache) RemoveUserConnection(ctx context.Context, userID string) error {
	key := fmt.Sprintf(keyConnection, userID)
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return apperrors.CacheOpFailed("RemoveUserConnection", key, err)
	}
	return nil
}

// GetUserServerId returns the server instance userId is bound to, or
// ("", false) if there is no presence hint.
func (c *Cache) GetUserServerId(ctx context.Context, userID string) (string, bool, error) {
	key := fmt.Sprintf(keyConnection, userID)
	serverID, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.CacheOpFailed("GetUserServerId", key, err)
	}
	return serverID, true, nil
}

// CacheMessage stores a short-horizon copy of a message for fast fetch,
// independent of the durable store.
func (c *Cache) CacheMessage(ctx context.Context, messageID, senderID, receiverID, content string, timestamp time.Time) error {
	key := fmt.Sprintf(keyMessage, messageID)
	fields := map[string]interface{}{
		"senderId":   senderID,
		"receiverId": receiverID,
		"content":    content,
		"timestamp":  timestamp.Format(time.RFC3339Nano),
	}
	if err := c.redis.HSet(ctx, key, fields).Err(); err != nil {
		return apperrors.CacheOpFailed("CacheMessage", key, err)
	}
	if err := c.redis.Expire(ctx, key, msgCacheTTL).Err(); err != nil {
		return apperrors.CacheOpFailed("CacheMessage", key, err)
	}
	return nil
}
