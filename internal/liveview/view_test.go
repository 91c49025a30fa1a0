package liveview

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, seq int64, offset time.Duration, senderID string) models.Message {
	return models.Message{
		ID:             id,
		Seq:            seq,
		ConversationID: "conv-1",
		SenderID:       senderID,
		ReceiverID:     "viewer",
		Content:        "content-" + id,
		Status:         models.StatusDelivered,
		CreatedAt:      base.Add(offset),
	}
}

func created(m models.Message) models.MessageEvent {
	return models.MessageEvent{Type: models.EventMessageCreated, Message: &m}
}

func updated(m models.Message) models.MessageEvent {
	return models.MessageEvent{Type: models.EventMessageUpdated, Message: &m}
}

// streamStub is an in-memory stand-in for the realtime channel boundary.
type streamStub struct {
	mu           sync.Mutex
	handlers     map[int]func(models.MessageEvent)
	nextID       int
	subscribed   int
	unsubscribed int
}

func newStreamStub() *streamStub {
	return &streamStub{handlers: make(map[int]func(models.MessageEvent))}
}

func (s *streamStub) subscribe(conversationID string, handler func(models.MessageEvent)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	s.subscribed++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.handlers[id]; ok {
			delete(s.handlers, id)
			s.unsubscribed++
		}
	}, nil
}

func (s *streamStub) emit(ev models.MessageEvent) {
	s.mu.Lock()
	handlers := make([]func(models.MessageEvent), 0, len(s.handlers))
	for _, fn := range s.handlers {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (s *streamStub) activeSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

func fetchReturning(msgs ...models.Message) FetchFunc {
	return func(ctx context.Context, conversationID string, sinceSeq int64) ([]models.Message, error) {
		out := make([]models.Message, 0, len(msgs))
		for _, m := range msgs {
			if m.Seq > sinceSeq {
				out = append(out, m)
			}
		}
		return out, nil
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestOpenAppliesSnapshotAndGoesLive(t *testing.T) {
	stream := newStreamStub()
	m1 := msg("m1", 1, 0, "other")
	m2 := msg("m2", 2, time.Second, "viewer")

	view := NewView("conv-1", fetchReturning(m1, m2), stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	assert.Equal(t, StateLive, view.State())
	assert.Equal(t, []string{"m1", "m2"}, ids(view.Messages()))
	assert.Equal(t, int64(2), view.LastSeq())
}

func TestEventsDuringLoadingAreBufferedNotVisible(t *testing.T) {
	stream := newStreamStub()
	m1 := msg("m1", 1, 0, "other")
	m2 := msg("m2", 2, time.Second, "other")

	var view *View
	// The fetch races an incoming live event; it must not surface before
	// the snapshot does.
	fetch := func(ctx context.Context, conversationID string, sinceSeq int64) ([]models.Message, error) {
		stream.emit(created(m2))
		assert.Empty(t, view.Messages())
		return []models.Message{m1}, nil
	}

	view = NewView("conv-1", fetch, stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	assert.Equal(t, []string{"m1", "m2"}, ids(view.Messages()))
}

func TestDuplicateCreateIsIgnored(t *testing.T) {
	stream := newStreamStub()
	view := NewView("conv-1", fetchReturning(), stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	m1 := msg("m1", 1, 0, "other")
	stream.emit(created(m1))
	stream.emit(created(m1))

	assert.Equal(t, []string{"m1"}, ids(view.Messages()))
}

func TestOutOfOrderCreateInsertsSorted(t *testing.T) {
	stream := newStreamStub()
	view := NewView("conv-1", fetchReturning(), stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	stream.emit(created(msg("m1", 1, 0, "other")))
	stream.emit(created(msg("m3", 3, 3*time.Second, "other")))
	stream.emit(created(msg("m2", 2, 2*time.Second, "other")))

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(view.Messages()))
}

func TestEqualTimestampsBreakTiesBySeq(t *testing.T) {
	stream := newStreamStub()
	view := NewView("conv-1", fetchReturning(), stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	stream.emit(created(msg("m1", 1, time.Second, "other")))
	stream.emit(created(msg("m3", 3, time.Second, "other")))
	stream.emit(created(msg("m2", 2, time.Second, "other")))

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(view.Messages()))
}

func TestUpdateReplacesInPlace(t *testing.T) {
	stream := newStreamStub()
	m1 := msg("m1", 1, 0, "other")
	m2 := msg("m2", 2, time.Second, "other")
	view := NewView("conv-1", fetchReturning(m1, m2), stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	readM1 := m1
	readM1.Status = models.StatusRead
	stream.emit(updated(readM1))

	msgs := view.Messages()
	require.Equal(t, []string{"m1", "m2"}, ids(msgs))
	assert.Equal(t, models.StatusRead, msgs[0].Status)
	assert.Equal(t, models.StatusDelivered, msgs[1].Status)
}

func TestUpdateNeverRegressesStatus(t *testing.T) {
	stream := newStreamStub()
	m1 := msg("m1", 1, 0, "other")
	m1.Status = models.StatusRead
	view := NewView("conv-1", fetchReturning(m1), stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	stale := m1
	stale.Status = models.StatusDelivered
	stream.emit(updated(stale))

	assert.Equal(t, models.StatusRead, view.Messages()[0].Status)
}

func TestUpdateBeforeCreateReconcilesOnCreate(t *testing.T) {
	stream := newStreamStub()
	view := NewView("conv-1", fetchReturning(), stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	m1 := msg("m1", 1, 0, "other")
	readM1 := m1
	readM1.Status = models.StatusRead

	stream.emit(updated(readM1))
	assert.Empty(t, view.Messages())

	stream.emit(created(m1))
	msgs := view.Messages()
	require.Equal(t, []string{"m1"}, ids(msgs))
	assert.Equal(t, models.StatusRead, msgs[0].Status)
}

func TestOrphanUpdateBufferIsBounded(t *testing.T) {
	stream := newStreamStub()
	view := NewView("conv-1", fetchReturning(), stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	for i := 0; i < orphanLimit+1; i++ {
		m := msg(fmt.Sprintf("x%d", i), int64(i+10), time.Duration(i)*time.Second, "other")
		m.Status = models.StatusRead
		stream.emit(updated(m))
	}

	// The oldest orphan was evicted: its create lands with its own status.
	evicted := msg("x0", 10, 0, "other")
	stream.emit(created(evicted))
	assert.Equal(t, models.StatusDelivered, view.Messages()[0].Status)

	// A survivor still reconciles.
	kept := msg("x1", 11, time.Second, "other")
	stream.emit(created(kept))
	msgs := view.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.StatusRead, msgs[1].Status)
}

func TestResyncCatchesUpAfterDrop(t *testing.T) {
	stream := newStreamStub()
	m1 := msg("m1", 1, 0, "other")
	m2 := msg("m2", 2, time.Second, "other")
	m3 := msg("m3", 3, 2*time.Second, "other")

	store := []models.Message{m1, m2}
	var mu sync.Mutex
	fetch := func(ctx context.Context, conversationID string, sinceSeq int64) ([]models.Message, error) {
		mu.Lock()
		defer mu.Unlock()
		var out []models.Message
		for _, m := range store {
			if m.Seq > sinceSeq {
				out = append(out, m)
			}
		}
		return out, nil
	}

	view := NewView("conv-1", fetch, stream.subscribe)
	require.NoError(t, view.Open(context.Background()))
	require.Equal(t, []string{"m1", "m2"}, ids(view.Messages()))

	// Stream drops; a message lands while disconnected.
	mu.Lock()
	store = append(store, m3)
	mu.Unlock()

	require.NoError(t, view.Resync(context.Background()))

	assert.Equal(t, StateLive, view.State())
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(view.Messages()))
	assert.Equal(t, 1, stream.activeSubscriptions())
}

func TestResyncDoesNotDuplicateOverlap(t *testing.T) {
	stream := newStreamStub()
	m1 := msg("m1", 1, 0, "other")
	m2 := msg("m2", 2, time.Second, "other")

	view := NewView("conv-1", fetchReturning(m1, m2), stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	// A catch-up that re-reads already-seen rows must stay duplicate-free.
	require.NoError(t, view.Open(context.Background()))
	assert.Equal(t, []string{"m1", "m2"}, ids(view.Messages()))
}

func TestCloseTearsDownSubscription(t *testing.T) {
	stream := newStreamStub()
	view := NewView("conv-1", fetchReturning(), stream.subscribe)
	require.NoError(t, view.Open(context.Background()))

	view.Close()
	view.Close()

	assert.Equal(t, StateClosed, view.State())
	assert.Equal(t, 0, stream.activeSubscriptions())

	stream.emit(created(msg("m1", 1, 0, "other")))
	assert.Empty(t, view.Messages())
}

func TestFetchFailureReleasesSubscription(t *testing.T) {
	stream := newStreamStub()
	fetch := func(ctx context.Context, conversationID string, sinceSeq int64) ([]models.Message, error) {
		return nil, assert.AnError
	}

	view := NewView("conv-1", fetch, stream.subscribe)
	err := view.Open(context.Background())

	require.Error(t, err)
	assert.Equal(t, 0, stream.activeSubscriptions())
	assert.NotEqual(t, StateLive, view.State())
}

func TestCloseDuringLoadingWins(t *testing.T) {
	stream := newStreamStub()
	var view *View
	fetch := func(ctx context.Context, conversationID string, sinceSeq int64) ([]models.Message, error) {
		view.Close()
		return []models.Message{msg("m1", 1, 0, "other")}, nil
	}

	view = NewView("conv-1", fetch, stream.subscribe)
	err := view.Open(context.Background())

	require.ErrorIs(t, err, ErrViewClosed)
	assert.Equal(t, StateClosed, view.State())
	assert.Equal(t, 0, stream.activeSubscriptions())
	assert.Empty(t, view.Messages())
}

func TestOpenAfterCloseFails(t *testing.T) {
	stream := newStreamStub()
	view := NewView("conv-1", fetchReturning(), stream.subscribe)
	view.Close()

	require.ErrorIs(t, view.Open(context.Background()), ErrViewClosed)
	assert.Equal(t, 0, stream.activeSubscriptions())
}
