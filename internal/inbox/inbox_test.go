package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client), mr
}

func TestAddToInboxThenRemove(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	if err := c.AddToInbox(ctx, "u_bob", "m1"); err != nil {
		t.Fatalf("AddToInbox: %v", err)
	}
	if err := c.AddToInbox(ctx, "u_bob", "m2"); err != nil {
		t.Fatalf("AddToInbox: %v", err)
	}

	ids, err := c.GetInbox(ctx, "u_bob")
	if err != nil {
		t.Fatalf("GetInbox: %v", err)
	}
	if len(ids) != 2 || ids[0] != "m1" || ids[1] != "m2" {
		t.Fatalf("GetInbox = %v, want [m1 m2]", ids)
	}

	if err := c.RemoveFromInbox(ctx, "u_bob", "m1"); err != nil {
		t.Fatalf("RemoveFromInbox: %v", err)
	}
	ids, _ = c.GetInbox(ctx, "u_bob")
	if len(ids) != 1 || ids[0] != "m2" {
		t.Fatalf("GetInbox after remove = %v, want [m2]", ids)
	}
}

func TestContainsGatesDuplicateDeposit(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	c.AddToInbox(ctx, "u_bob", "m1")

	present, err := c.Contains(ctx, "u_bob", "m1")
	if err != nil || !present {
		t.Fatalf("Contains(m1) = %v, %v, want true, nil", present, err)
	}
	present, err = c.Contains(ctx, "u_bob", "m2")
	if err != nil || present {
		t.Fatalf("Contains(m2) = %v, %v, want false, nil", present, err)
	}
}

func TestPresenceHint(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	online, err := c.IsUserOnline(ctx, "u_bob")
	if err != nil || online {
		t.Fatalf("IsUserOnline before connect = %v, %v, want false, nil", online, err)
	}

	if err := c.SetUserConnection(ctx, "u_bob", "gateway-1"); err != nil {
		t.Fatalf("SetUserConnection: %v", err)
	}

	online, err = c.IsUserOnline(ctx, "u_bob")
	if err != nil || !online {
		t.Fatalf("IsUserOnline after connect = %v, %v, want true, nil", online, err)
	}

	serverID, ok, err := c.GetUserServerId(ctx, "u_bob")
	if err != nil || !ok || serverID != "gateway-1" {
		t.Fatalf("GetUserServerId = %q, %v, %v, want gateway-1, true, nil", serverID, ok, err)
	}

	if err := c.RemoveUserConnection(ctx, "u_bob"); err != nil {
		t.Fatalf("RemoveUserConnection: %v", err)
	}
	online, _ = c.IsUserOnline(ctx, "u_bob")
	if online {
		t.Fatal("IsUserOnline after RemoveUserConnection should be false")
	}
}

func TestClearInbox(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	c.AddToInbox(ctx, "u_bob", "m1")
	c.AddToInbox(ctx, "u_bob", "m2")

	if err := c.ClearInbox(ctx, "u_bob"); err != nil {
		t.Fatalf("ClearInbox: %v", err)
	}
	ids, _ := c.GetInbox(ctx, "u_bob")
	if len(ids) != 0 {
		t.Fatalf("GetInbox after clear = %v, want empty", ids)
	}
}

func TestCacheMessage(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	now := time.Now()
	if err := c.CacheMessage(ctx, "m1", "u_alice", "u_bob", "hi", now); err != nil {
		t.Fatalf("CacheMessage: %v", err)
	}
	if !mr.Exists("msg:m1") {
		t.Fatal("expected msg:m1 hash to exist")
	}
}
