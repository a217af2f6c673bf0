package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/histeeria/chatcore/internal/chat"
	apperrors "github.com/histeeria/chatcore/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// envelopeHeader peeks at an inbound frame's discriminator before decoding
// the rest of the payload into its concrete event type.
type envelopeHeader struct {
	Type string `json:"type"`
}

// Session is a live binding between one client and the server, scoped to
// one resolved user identity. It implements registry.Handle.
type Session struct {
	id      string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	gateway *Gateway

	mu     sync.Mutex
	closed bool
}

func newSession(id, userID string, conn *websocket.Conn, g *Gateway) *Session {
	return &Session{
		id:      id,
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		gateway: g,
	}
}

// ID satisfies registry.Handle.
func (s *Session) ID() string { return s.id }

// Close is idempotent; it marks the session closed and tears down the
// transport. Safe to call from both the owning readPump and a racing
// eviction by a newer session for the same user.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
	s.conn.Close()
}

// emit marshals event and attempts a non-blocking transport-level send.
// Returns false if the session is closed or the send buffer is full (the
// receiver's client is not draining fast enough — treated the same as "no
// local session" by the Dispatcher, which falls back to inbox deposit).
func (s *Session) emit(event interface{}) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		s.gateway.log.Error("gateway: failed to marshal outbound event for user %s: %v", s.userID, err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.send <- payload:
		return true
	default:
		s.gateway.log.Warn("gateway: send buffer full for user %s, treating as undelivered", s.userID)
		return false
	}
}

// readPump pumps inbound frames from the transport to the event handlers,
// until the transport errors or closes.
func (s *Session) readPump() {
	defer func() {
		s.gateway.unbind(s)
		s.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.gateway.log.Warn("gateway: read error for user %s: %v", s.userID, err)
			}
			return
		}
		s.handleInbound(message)
	}
}

// writePump pumps queued outbound frames to the transport and keeps the
// connection alive with periodic pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleInbound decodes the frame's discriminator and routes it to the
// matching operation, per §4.7's incoming-event table.
func (s *Session) handleInbound(raw []byte) {
	var header envelopeHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		s.emit(chat.ErrorEvent{Message: "malformed event"})
		return
	}

	switch header.Type {
	case "send_message":
		s.handleSendMessage(raw)
	case "message_delivered":
		s.handleMessageDelivered(raw)
	default:
		s.gateway.log.Warn("gateway: unknown inbound event type %q from user %s", header.Type, s.userID)
	}
}

func (s *Session) handleSendMessage(raw []byte) {
	var evt chat.SendMessageEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		s.emit(chat.ErrorEvent{Message: "malformed send_message payload"})
		return
	}

	ctx := context.Background()
	result, err := s.gateway.chatSvc.Send(ctx, s.userID, evt.ReceiverID, evt.Content, time.UnixMilli(evt.Timestamp), evt.MessageIDByClient)
	if err != nil {
		s.emit(chat.ErrorEvent{Message: apperrors.GetAppError(err).Message})
		return
	}

	s.emit(chat.NewMessageReceivedEvent(result.MessageID.String(), result.MessageIDByClient, result.Timestamp.UnixMilli()))
}

func (s *Session) handleMessageDelivered(raw []byte) {
	var evt chat.MessageDeliveredEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		// Per §7, message_delivered failures are dropped silently rather
		// than surfaced to the client.
		s.gateway.log.Warn("gateway: malformed message_delivered from user %s: %v", s.userID, err)
		return
	}

	messageID, err := uuid.Parse(evt.MessageID)
	if err != nil {
		s.gateway.log.Warn("gateway: malformed message_delivered id %q from user %s", evt.MessageID, s.userID)
		return
	}

	ctx := context.Background()
	if err := s.gateway.chatSvc.Acknowledge(ctx, s.userID, messageID); err != nil {
		s.gateway.log.Warn("gateway: acknowledge failed for message %s from user %s: %v", evt.MessageID, s.userID, err)
	}
}
