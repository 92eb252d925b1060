package bus

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies bus traffic
type MessageType string

const (
	MessageTask         MessageType = "task"
	MessageQuery        MessageType = "query"
	MessageResponse     MessageType = "response"
	MessageNotification MessageType = "notification"
	MessageError        MessageType = "error"
)

// Message is the envelope carried by the bus
type Message struct {
	ID            string            `json:"id"`
	Type          MessageType       `json:"type"`
	Sender        string            `json:"sender"`
	Receiver      string            `json:"receiver,omitempty"`
	Topic         string            `json:"topic,omitempty"`
	Payload       interface{}       `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewMessage creates a message with a generated id and timestamp
func NewMessage(msgType MessageType, sender string, payload interface{}) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Sender:    sender,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// ReplyTopic is the topic a responder publishes to for a correlated request
func ReplyTopic(correlationID string) string {
	return "reply:" + correlationID
}
