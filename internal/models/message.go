package models

import "time"

// Message statuses form a monotonic progression; a message never moves
// backwards. New messages are persisted as delivered: the server only
// acknowledges a send after the row is durably stored.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

var statusRank = map[string]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// StatusRank orders message statuses. Unknown statuses rank lowest so they
// never overwrite a known one.
func StatusRank(status string) int {
	return statusRank[status]
}

// MaxContentLength bounds a single message body.
const MaxContentLength = 4000

// Message is one entry in a conversation's append-only log. Seq is assigned
// by the store and breaks created-at ties, giving every conversation a total
// order; it doubles as the catch-up cursor.
type Message struct {
	ID             string    `db:"id" json:"id"`
	Seq            int64     `db:"seq" json:"seq"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	ReceiverID     string    `db:"receiver_id" json:"receiver_id"`
	Content        string    `db:"content" json:"content"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Before reports whether m sorts ahead of other in the conversation's total
// order (created_at, then seq).
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Event types broadcast through the realtime channel.
const (
	EventMessageCreated = "message.created"
	EventMessageUpdated = "message.updated"
)

// MessageEvent is the payload delivered to websocket clients and in-process
// subscribers.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}
