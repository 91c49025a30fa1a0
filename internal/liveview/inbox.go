package liveview

import (
	"sync"

	"messaging-service/internal/models"
)

// Inbox keeps the viewer's conversation list consistent as message events
// arrive: most recent activity first, unread counts tracked per entry.
type Inbox struct {
	mu       sync.Mutex
	viewerID string
	entries  []models.ConversationSummary
	index    map[string]int
	active   string
}

// NewInbox seeds the list from a fetched snapshot, assumed already ordered
// most recent first.
func NewInbox(viewerID string, snapshot []models.ConversationSummary) *Inbox {
	in := &Inbox{
		viewerID: viewerID,
		entries:  make([]models.ConversationSummary, len(snapshot)),
		index:    make(map[string]int, len(snapshot)),
	}
	copy(in.entries, snapshot)
	for i, entry := range in.entries {
		in.index[entry.ConversationID] = i
	}
	return in
}

// SetActive marks the conversation the viewer is currently looking at. Its
// unread count drops to zero and incoming messages for it no longer count as
// unread. An empty id means no conversation is open.
func (in *Inbox) SetActive(conversationID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.active = conversationID
	if pos, ok := in.index[conversationID]; ok {
		in.entries[pos].UnreadCount = 0
	}
}

// Upsert inserts or refreshes an entry, keeping the list order.
func (in *Inbox) Upsert(summary models.ConversationSummary) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if pos, ok := in.index[summary.ConversationID]; ok {
		in.entries[pos] = summary
		return
	}
	in.entries = append(in.entries, summary)
	in.index[summary.ConversationID] = len(in.entries) - 1
}

// Apply folds a message event into the list: the touched conversation moves
// to the front with a fresh preview, and its unread count adjusts depending
// on who sent the message and whether the viewer has the conversation open.
func (in *Inbox) Apply(ev models.MessageEvent) {
	if ev.Message == nil {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	msg := *ev.Message
	switch ev.Type {
	case models.EventMessageCreated:
		in.applyCreateLocked(msg)
	case models.EventMessageUpdated:
		in.applyUpdateLocked(msg)
	}
}

func (in *Inbox) applyCreateLocked(msg models.Message) {
	pos, ok := in.index[msg.ConversationID]
	if !ok {
		participant := msg.SenderID
		if participant == in.viewerID {
			participant = msg.ReceiverID
		}
		in.entries = append(in.entries, models.ConversationSummary{
			ConversationID: msg.ConversationID,
			ParticipantID:  participant,
		})
		pos = len(in.entries) - 1
		in.index[msg.ConversationID] = pos
	}

	entry := &in.entries[pos]
	entry.LastMessage = msg.Content
	entry.UpdatedAt = msg.CreatedAt
	if msg.SenderID != in.viewerID && msg.ConversationID != in.active {
		entry.UnreadCount++
	}
	in.moveToFrontLocked(pos)
}

func (in *Inbox) applyUpdateLocked(msg models.Message) {
	pos, ok := in.index[msg.ConversationID]
	if !ok {
		return
	}
	// A read receipt for a message the viewer received clears it from the
	// unread count; receipts for the viewer's own messages change nothing.
	if msg.Status == models.StatusRead && msg.SenderID != in.viewerID {
		if in.entries[pos].UnreadCount > 0 {
			in.entries[pos].UnreadCount--
		}
	}
}

func (in *Inbox) moveToFrontLocked(pos int) {
	if pos == 0 {
		return
	}
	entry := in.entries[pos]
	copy(in.entries[1:pos+1], in.entries[:pos])
	in.entries[0] = entry
	for i := 0; i <= pos; i++ {
		in.index[in.entries[i].ConversationID] = i
	}
}

// Entries returns a copy of the current list.
func (in *Inbox) Entries() []models.ConversationSummary {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]models.ConversationSummary, len(in.entries))
	copy(out, in.entries)
	return out
}
