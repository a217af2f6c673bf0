package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/histeeria/chatcore/internal/chat"
	"github.com/histeeria/chatcore/internal/inbox"
	"github.com/histeeria/chatcore/internal/obs"
	"github.com/histeeria/chatcore/internal/queue/memqueue"
	"github.com/histeeria/chatcore/internal/registry"
	"github.com/histeeria/chatcore/internal/store/memstore"
)

// newConnPair dials a real websocket connection against a throwaway upgrade
// server, giving tests a pair of live *websocket.Conn without a fake
// transport — Session's Close/readPump/writePump all call methods on conn
// directly and a nil conn would panic.
func newConnPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	upgraded := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		upgraded <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn := <-upgraded:
		t.Cleanup(func() { serverConn.Close() })
		return serverConn, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side upgrade")
		return nil, nil
	}
}

func newTestGateway(t *testing.T) (*Gateway, *chat.Service, *inbox.Cache) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ib := inbox.New(client)
	st := memstore.New()
	q := memqueue.New()
	logger := obs.New("error", "text", "gateway-test")
	chatSvc := chat.New(st, q, ib, nil, logger, nil)

	reg := registry.New()
	gw := New(reg, ib, chatSvc, nil, nil, nil, logger, "instance-test")
	return gw, chatSvc, ib
}

// TestBindEvictsPriorSessionOnReconnect exercises S5: a second bind for the
// same userId evicts and closes the prior session, and the registry ends up
// pointing at only the new one.
func TestBindEvictsPriorSessionOnReconnect(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	serverConn1, _ := newConnPair(t)
	session1 := newSession(uuid.NewString(), "u_alice", serverConn1, gw)
	gw.bind(session1)

	serverConn2, _ := newConnPair(t)
	session2 := newSession(uuid.NewString(), "u_alice", serverConn2, gw)
	gw.bind(session2)

	handle, ok := gw.registry.HandleOf("u_alice")
	if !ok {
		t.Fatal("expected u_alice to have a bound handle")
	}
	if handle.ID() != session2.ID() {
		t.Fatalf("expected registry to point at the reconnected session, got handle %s", handle.ID())
	}

	deadline := time.Now().Add(2 * time.Second)
	for !session1.closed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !session1.closed {
		t.Fatal("expected the evicted prior session to be closed")
	}
}

// TestDrainReplaysPendingMessagesInOrder exercises R5: N offline sends
// followed by one reconnect replay deliver in the same order they were
// deposited.
func TestDrainReplaysPendingMessagesInOrder(t *testing.T) {
	ctx := context.Background()
	gw, chatSvc, ib := newTestGateway(t)

	var sentIDs []string
	for i, content := range []string{"first", "second", "third"} {
		result, err := chatSvc.Send(ctx, "u_alice", "u_bob", content, time.Unix(1_700_000_000+int64(i), 0), int64(i))
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if err := ib.AddToInbox(ctx, "u_bob", result.MessageID.String()); err != nil {
			t.Fatalf("AddToInbox: %v", err)
		}
		sentIDs = append(sentIDs, result.MessageID.String())
	}

	serverConn, clientConn := newConnPair(t)
	session := newSession(uuid.NewString(), "u_bob", serverConn, gw)
	gw.bind(session)

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var gotIDs []string
	for range sentIDs {
		_, raw, err := clientConn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		var evt chat.IncomingMessageEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.Fatalf("unmarshal incoming_message: %v", err)
		}
		gotIDs = append(gotIDs, evt.MessageID)
	}

	if len(gotIDs) != len(sentIDs) {
		t.Fatalf("got %d replayed messages, want %d", len(gotIDs), len(sentIDs))
	}
	for i := range sentIDs {
		if gotIDs[i] != sentIDs[i] {
			t.Fatalf("replay order mismatch at %d: got %s, want %s", i, gotIDs[i], sentIDs[i])
		}
	}
}

// TestUnbindClearsRegistryAndPresence exercises the Bound -> Closed
// transition: the registry binding and the presence hint are both cleared.
func TestUnbindClearsRegistryAndPresence(t *testing.T) {
	ctx := context.Background()
	gw, _, ib := newTestGateway(t)

	serverConn, _ := newConnPair(t)
	session := newSession(uuid.NewString(), "u_carol", serverConn, gw)
	gw.bind(session)

	online, err := ib.IsUserOnline(ctx, "u_carol")
	if err != nil {
		t.Fatalf("IsUserOnline: %v", err)
	}
	if !online {
		t.Fatal("expected u_carol to be marked online after bind")
	}

	gw.unbind(session)

	if gw.registry.Has("u_carol") {
		t.Fatal("expected registry binding to be cleared after unbind")
	}
	online, err = ib.IsUserOnline(ctx, "u_carol")
	if err != nil {
		t.Fatalf("IsUserOnline: %v", err)
	}
	if online {
		t.Fatal("expected presence hint cleared after unbind")
	}
}

// TestUnbindIsNoopWhenSessionAlreadyEvicted guards the race RemoveIfCurrent
// exists for: a stale session's own cleanup must not tear down a newer
// reconnect's binding.
func TestUnbindIsNoopWhenSessionAlreadyEvicted(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	serverConn1, _ := newConnPair(t)
	session1 := newSession(uuid.NewString(), "u_dave", serverConn1, gw)
	gw.bind(session1)

	serverConn2, _ := newConnPair(t)
	session2 := newSession(uuid.NewString(), "u_dave", serverConn2, gw)
	gw.bind(session2)

	gw.unbind(session1)

	handle, ok := gw.registry.HandleOf("u_dave")
	if !ok || handle.ID() != session2.ID() {
		t.Fatal("expected the newer session's binding to survive the stale session's unbind")
	}
}

// TestHandleUpgradeRejectsMissingUserID exercises the boundary behavior: no
// userId closes the transport (the upgrade never happens) and leaves the
// registry unchanged.
func TestHandleUpgradeRejectsMissingUserID(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", gw.HandleUpgrade)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if gw.registry.Count() != 0 {
		t.Fatalf("expected no registry binding on rejected handshake, got %d", gw.registry.Count())
	}
}
