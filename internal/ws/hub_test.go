package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub(nil)

	hub.AddClient("conv-1", nil, ConnInfo{ConnID: "c1"})
	require.Len(t, hub.rooms, 1)

	hub.RemoveClient("conv-1", nil)
	require.Empty(t, hub.rooms)
}

func TestHubSubscribeReceivesEvents(t *testing.T) {
	hub := NewHub(nil)

	var received []models.MessageEvent
	unsubscribe := hub.Subscribe("conv-1", func(ev models.MessageEvent) {
		received = append(received, ev)
	})
	defer unsubscribe()

	hub.BroadcastMessageCreated("conv-1", models.Message{ID: "m1", ConversationID: "conv-1"})
	hub.BroadcastMessageUpdated("conv-1", models.Message{ID: "m1", ConversationID: "conv-1", Status: models.StatusRead})

	require.Len(t, received, 2)
	assert.Equal(t, models.EventMessageCreated, received[0].Type)
	assert.Equal(t, models.EventMessageUpdated, received[1].Type)
}

func TestHubSubscriberScopedToConversation(t *testing.T) {
	hub := NewHub(nil)

	var received []models.MessageEvent
	unsubscribe := hub.Subscribe("conv-1", func(ev models.MessageEvent) {
		received = append(received, ev)
	})
	defer unsubscribe()

	hub.BroadcastMessageCreated("conv-2", models.Message{ID: "m1", ConversationID: "conv-2"})

	assert.Empty(t, received)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(nil)

	var received int
	unsubscribe := hub.Subscribe("conv-1", func(models.MessageEvent) {
		received++
	})

	hub.BroadcastMessageCreated("conv-1", models.Message{ID: "m1"})
	unsubscribe()
	unsubscribe() // idempotent
	hub.BroadcastMessageCreated("conv-1", models.Message{ID: "m2"})

	assert.Equal(t, 1, received)
	assert.Empty(t, hub.subscribers)
}

func TestHubUnsubscribeFromInsideHandler(t *testing.T) {
	hub := NewHub(nil)

	var unsubscribe func()
	var received int
	unsubscribe = hub.Subscribe("conv-1", func(models.MessageEvent) {
		received++
		unsubscribe()
	})

	// Delivery happens outside the hub lock, so this must not deadlock.
	hub.BroadcastMessageCreated("conv-1", models.Message{ID: "m1"})
	hub.BroadcastMessageCreated("conv-1", models.Message{ID: "m2"})

	assert.Equal(t, 1, received)
}
