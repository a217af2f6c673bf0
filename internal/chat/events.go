package chat

// Wire event shapes exchanged with the client over the transport, per the
// bit-exact payloads of §6.

// SendMessageEvent is the inbound send_message payload.
type SendMessageEvent struct {
	ReceiverID        string `json:"receiver_id"`
	Content           string `json:"content"`
	MessageIDByClient int64  `json:"message_id_by_client"`
	Timestamp         int64  `json:"timestamp"`
}

// MessageDeliveredEvent is the inbound message_delivered payload.
type MessageDeliveredEvent struct {
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

// MessageReceivedEvent is the outbound ack to the sender.
type MessageReceivedEvent struct {
	Action            string `json:"action"`
	MessageID         string `json:"message_id"`
	MessageIDByClient int64  `json:"message_id_by_client"`
	Timestamp         int64  `json:"timestamp"`
}

// NewMessageReceivedEvent builds the sender-facing ack for a completed send.
func NewMessageReceivedEvent(messageID string, messageIDByClient int64, timestamp int64) MessageReceivedEvent {
	return MessageReceivedEvent{
		Action:            "message_received",
		MessageID:         messageID,
		MessageIDByClient: messageIDByClient,
		Timestamp:         timestamp,
	}
}

// IncomingMessageEvent is the outbound event delivered to a receiver, both
// for live dispatch and for inbox drain on reconnect.
type IncomingMessageEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NewIncomingMessageEvent builds the receiver-facing delivery event.
func NewIncomingMessageEvent(messageID, senderID, content string, timestamp int64) IncomingMessageEvent {
	return IncomingMessageEvent{
		Type:      "incoming_message",
		MessageID: messageID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: timestamp,
	}
}

// ErrorEvent is the outbound error payload for rejected inbound events.
type ErrorEvent struct {
	Message string `json:"message"`
}
