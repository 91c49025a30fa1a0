package liveview

import (
	"context"
	"errors"
	"sort"
	"sync"

	"messaging-service/internal/models"
)

// ErrViewClosed is returned when an operation races with Close.
var ErrViewClosed = errors.New("view is closed")

// State of an open conversation view.
type State int

const (
	// StateLoading: the snapshot fetch is in flight; stream events are
	// buffered so the visible list never shows a live event ahead of its
	// history.
	StateLoading State = iota
	// StateLive: snapshot applied; events merge as they arrive.
	StateLive
	// StateClosed: view torn down; nothing merges anymore.
	StateClosed
)

// FetchFunc loads the messages of a conversation after the given cursor.
// A zero cursor means full history.
type FetchFunc func(ctx context.Context, conversationID string, sinceSeq int64) ([]models.Message, error)

// SubscribeFunc attaches a handler to the conversation's event stream and
// returns the disposer that detaches it.
type SubscribeFunc func(conversationID string, handler func(models.MessageEvent)) (func(), error)

// orphanLimit bounds how many updates we hold for messages whose create we
// have not seen yet.
const orphanLimit = 64

// View reconciles an initial snapshot with a live event stream into one
// duplicate-free, correctly ordered message list for a single conversation.
type View struct {
	conversationID string
	fetch          FetchFunc
	subscribe      SubscribeFunc

	mu          sync.Mutex
	state       State
	messages    []models.Message
	index       map[string]int
	buffered    []models.MessageEvent
	orphans     map[string]models.Message
	orphanOrder []string
	lastSeq     int64
	unsub       func()
}

// NewView builds a view for one conversation. Call Open to load it.
func NewView(conversationID string, fetch FetchFunc, subscribe SubscribeFunc) *View {
	return &View{
		conversationID: conversationID,
		fetch:          fetch,
		subscribe:      subscribe,
		index:          make(map[string]int),
		orphans:        make(map[string]models.Message),
	}
}

// Open subscribes to the stream, loads the snapshot and goes Live. The
// subscription is established first so nothing slips between snapshot and
// stream; events arriving during the fetch are buffered and drained after
// the snapshot applies. On any failure the subscription is torn down.
func (v *View) Open(ctx context.Context) error {
	return v.sync(ctx, 0)
}

// Resync recovers from a dropped stream: it re-subscribes, fetches only the
// messages after the last seen cursor and merges them, then resumes Live.
func (v *View) Resync(ctx context.Context) error {
	v.mu.Lock()
	since := v.lastSeq
	v.mu.Unlock()
	return v.sync(ctx, since)
}

func (v *View) sync(ctx context.Context, sinceSeq int64) error {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	v.state = StateLoading
	if v.unsub != nil {
		v.unsub()
		v.unsub = nil
	}
	v.mu.Unlock()

	unsub, err := v.subscribe(v.conversationID, v.handleEvent)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		unsub()
		return ErrViewClosed
	}
	v.unsub = unsub
	v.mu.Unlock()

	snapshot, err := v.fetch(ctx, v.conversationID, sinceSeq)
	if err != nil {
		v.teardown()
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateClosed {
		return ErrViewClosed
	}
	for _, msg := range snapshot {
		v.applyCreateLocked(msg)
	}
	buffered := v.buffered
	v.buffered = nil
	v.state = StateLive
	for _, ev := range buffered {
		v.applyLocked(ev)
	}
	return nil
}

// Close tears the view down unconditionally. Safe to call at any time, from
// any exit path, more than once.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateClosed {
		return
	}
	v.state = StateClosed
	if v.unsub != nil {
		v.unsub()
		v.unsub = nil
	}
	v.buffered = nil
	v.orphans = map[string]models.Message{}
	v.orphanOrder = nil
}

func (v *View) teardown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unsub != nil {
		v.unsub()
		v.unsub = nil
	}
	v.buffered = nil
}

// handleEvent is the stream callback. Events are buffered while Loading,
// merged while Live and dropped once Closed.
func (v *View) handleEvent(ev models.MessageEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.state {
	case StateLoading:
		v.buffered = append(v.buffered, ev)
	case StateLive:
		v.applyLocked(ev)
	}
}

func (v *View) applyLocked(ev models.MessageEvent) {
	if ev.Message == nil {
		return
	}
	switch ev.Type {
	case models.EventMessageCreated:
		v.applyCreateLocked(*ev.Message)
	case models.EventMessageUpdated:
		v.applyUpdateLocked(*ev.Message)
	}
}

// applyCreateLocked inserts a message at its (created_at, seq) position.
// Duplicate delivery of the same id is a no-op. The common case appends at
// the tail; out-of-order delivery falls back to a sorted insert.
func (v *View) applyCreateLocked(msg models.Message) {
	if _, ok := v.index[msg.ID]; ok {
		return
	}

	n := len(v.messages)
	if n == 0 || !msg.Before(v.messages[n-1]) {
		v.messages = append(v.messages, msg)
		v.index[msg.ID] = n
	} else {
		pos := sort.Search(n, func(i int) bool { return msg.Before(v.messages[i]) })
		v.messages = append(v.messages, models.Message{})
		copy(v.messages[pos+1:], v.messages[pos:])
		v.messages[pos] = msg
		for i := pos; i < len(v.messages); i++ {
			v.index[v.messages[i].ID] = i
		}
	}

	if msg.Seq > v.lastSeq {
		v.lastSeq = msg.Seq
	}

	// An update that raced ahead of this create reconciles now.
	if orphan, ok := v.orphans[msg.ID]; ok {
		delete(v.orphans, msg.ID)
		v.dropOrphanOrder(msg.ID)
		v.applyUpdateLocked(orphan)
	}
}

// applyUpdateLocked replaces a message in place, keeping its position and
// never regressing its status. Updates for unknown messages are parked until
// the create shows up, within a bounded buffer.
func (v *View) applyUpdateLocked(msg models.Message) {
	pos, ok := v.index[msg.ID]
	if !ok {
		v.parkOrphanLocked(msg)
		return
	}

	current := v.messages[pos]
	if models.StatusRank(msg.Status) < models.StatusRank(current.Status) {
		return
	}
	// Ordering keys stay authoritative from the create.
	msg.CreatedAt = current.CreatedAt
	msg.Seq = current.Seq
	v.messages[pos] = msg
}

func (v *View) parkOrphanLocked(msg models.Message) {
	if existing, ok := v.orphans[msg.ID]; ok {
		if models.StatusRank(msg.Status) >= models.StatusRank(existing.Status) {
			v.orphans[msg.ID] = msg
		}
		return
	}
	if len(v.orphanOrder) >= orphanLimit {
		oldest := v.orphanOrder[0]
		v.orphanOrder = v.orphanOrder[1:]
		delete(v.orphans, oldest)
	}
	v.orphans[msg.ID] = msg
	v.orphanOrder = append(v.orphanOrder, msg.ID)
}

func (v *View) dropOrphanOrder(id string) {
	for i, existing := range v.orphanOrder {
		if existing == id {
			v.orphanOrder = append(v.orphanOrder[:i], v.orphanOrder[i+1:]...)
			return
		}
	}
}

// Messages returns a copy of the current list.
func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// State reports the view's lifecycle state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// LastSeq is the highest cursor the view has seen.
func (v *View) LastSeq() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeq
}
