// Package gateway implements the Session Gateway: the per-client transport
// event loop that binds a handshake identity to the Connection Registry,
// drains the offline inbox on reconnect, and routes inbound events to the
// Ingress and Delivery Acknowledgment operations.
package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/histeeria/chatcore/internal/auth"
	"github.com/histeeria/chatcore/internal/chat"
	"github.com/histeeria/chatcore/internal/inbox"
	"github.com/histeeria/chatcore/internal/obs"
	"github.com/histeeria/chatcore/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway wires the Connection Registry, Inbox Cache, and chat Service into
// the transport-facing half of the pipeline.
type Gateway struct {
	registry    *registry.Registry
	inboxCache  *inbox.Cache
	chatSvc     *chat.Service
	jwtVerifier *auth.Verifier
	fanout      *Fanout
	metrics     *obs.Metrics
	log         *obs.Logger
	serverID    string
}

// New builds a Gateway. jwtVerifier and fanout are both optional (nil
// disables the credential upgrade and the cross-instance hook
// respectively).
func New(reg *registry.Registry, ib *inbox.Cache, chatSvc *chat.Service, jwtVerifier *auth.Verifier, fanout *Fanout, metrics *obs.Metrics, logger *obs.Logger, serverID string) *Gateway {
	return &Gateway{
		registry:    reg,
		inboxCache:  ib,
		chatSvc:     chatSvc,
		jwtVerifier: jwtVerifier,
		fanout:      fanout,
		metrics:     metrics,
		log:         logger,
		serverID:    serverID,
	}
}

// HandleUpgrade is the gin handler for the WebSocket upgrade endpoint. It
// resolves the handshake identity, upgrades the transport, and — only on
// success — binds the session.
func (g *Gateway) HandleUpgrade(c *gin.Context) {
	userID, ok := g.resolveIdentity(c)
	if !ok {
		g.log.Warn("gateway: handshake rejected, no resolvable user identity from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing session identity"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Error("gateway: upgrade failed for user %s: %v", userID, err)
		return
	}

	session := newSession(uuid.NewString(), userID, conn, g)
	g.bind(session)
}

// resolveIdentity implements the handshake identity policy: an optional
// verified credential upgrade over the spec's bare query-parameter carrier.
func (g *Gateway) resolveIdentity(c *gin.Context) (userID string, ok bool) {
	if g.jwtVerifier != nil {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token != "" {
			uid, err := g.jwtVerifier.VerifyUserID(token)
			if err == nil && uid != "" {
				return uid, true
			}
			g.log.Warn("gateway: session token verification failed, falling back to query userId: %v", err)
		}
	}

	userID = c.Query("userId")
	if userID == "" {
		return "", false
	}
	g.log.Warn("gateway: binding session from unverified userId query parameter (user=%s)", userID)
	return userID, true
}

// bind performs the Connecting -> Bound transition of §4.7: registry add
// with eviction of any prior session, presence hint, then inbox drain.
func (g *Gateway) bind(s *Session) {
	evicted, hadPrior := g.registry.Add(s.userID, s)
	if hadPrior {
		g.log.Info("gateway: evicting prior session for user %s on reconnect", s.userID)
		if prior, ok := evicted.(*Session); ok {
			prior.Close()
		}
	}

	ctx := context.Background()
	if err := g.inboxCache.SetUserConnection(ctx, s.userID, g.serverID); err != nil {
		g.log.Error("gateway: SetUserConnection failed for user %s: %v", s.userID, err)
	}
	if g.metrics != nil {
		g.metrics.SetConnectedUsers(g.registry.Count())
	}

	go s.writePump()
	go s.readPump()

	g.drain(ctx, s)
}

// drain implements the reconnect replay: every pending inbox entry is
// fetched from the store and emitted in insertion order; per-id failures
// are logged and skipped, leaving the id in the inbox for a future drain.
func (g *Gateway) drain(ctx context.Context, s *Session) {
	ids, err := g.inboxCache.GetInbox(ctx, s.userID)
	if err != nil {
		g.log.Error("gateway: GetInbox failed during drain for user %s: %v", s.userID, err)
		return
	}

	for _, rawID := range ids {
		messageID, err := uuid.Parse(rawID)
		if err != nil {
			g.log.Warn("gateway: skipping malformed inbox entry %q for user %s: %v", rawID, s.userID, err)
			continue
		}
		msg, err := g.chatSvc.FindMessage(ctx, messageID)
		if err != nil {
			g.log.Warn("gateway: skipping undeliverable inbox entry %s for user %s: %v", rawID, s.userID, err)
			continue
		}
		event := chat.NewIncomingMessageEvent(msg.MessageID.String(), msg.SenderID, msg.Content, msg.Timestamp.UnixMilli())
		s.emit(event)
	}
}

// unbind performs the Bound -> Draining -> Closed transition triggered by
// transport loss, heartbeat loss, or explicit disconnect.
func (g *Gateway) unbind(s *Session) {
	if g.registry.RemoveIfCurrent(s.userID, s.ID()) {
		ctx := context.Background()
		if err := g.inboxCache.RemoveUserConnection(ctx, s.userID); err != nil {
			g.log.Error("gateway: RemoveUserConnection failed for user %s: %v", s.userID, err)
		}
		if g.metrics != nil {
			g.metrics.SetConnectedUsers(g.registry.Count())
		}
	}
}

// SendToUser is the Dispatcher's live-delivery primitive: it reports true
// iff a local session handle exists for userID and the transport-level
// emit was attempted.
func (g *Gateway) SendToUser(ctx context.Context, userID string, event chat.IncomingMessageEvent) bool {
	handle, ok := g.registry.HandleOf(userID)
	if !ok {
		return false
	}
	session, ok := handle.(*Session)
	if !ok {
		return false
	}
	return session.emit(event)
}
