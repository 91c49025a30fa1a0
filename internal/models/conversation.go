package models

import (
	"strings"
	"time"
)

// Presence hints shown next to a conversation. The stored value is a
// placeholder; the live value comes from the presence tracker at read time.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// LastMessagePlaceholder seeds the preview of a conversation that has no
// messages yet.
const LastMessagePlaceholder = "New conversation"

// Conversation pairs exactly two users for messaging. At most one
// conversation exists per unordered participant pair; PairKey carries the
// uniqueness constraint in the store.
type Conversation struct {
	ID           string    `db:"id" json:"id"`
	ClientID     string    `db:"client_id" json:"client_id"`
	FreelancerID string    `db:"freelancer_id" json:"freelancer_id"`
	PairKey      string    `db:"pair_key" json:"-"`
	Status       string    `db:"status" json:"status"`
	LastMessage  string    `db:"last_message" json:"last_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// OtherParticipant returns the participant that is not the viewer.
func (c Conversation) OtherParticipant(viewerID string) string {
	if c.ClientID == viewerID {
		return c.FreelancerID
	}
	return c.ClientID
}

// HasParticipant reports whether the user belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return c.ClientID == userID || c.FreelancerID == userID
}

// PairKey normalizes an unordered participant pair into a single key.
// PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

// ConversationSummary is the per-viewer projection of a conversation used by
// the inbox list.
type ConversationSummary struct {
	ConversationID string    `db:"id" json:"conversation_id"`
	ParticipantID  string    `json:"participant_id"`
	LastMessage    string    `db:"last_message" json:"last_message"`
	UnreadCount    int       `db:"unread_count" json:"unread_count"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
