package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishQueuesEncodedEvent(t *testing.T) {
	hub := NewHub(zap.NewNop())

	hub.Publish("stock_changed", map[string]int{"stock": 4})

	require.Len(t, hub.Broadcast, 1)
	var ev struct {
		Event string         `json:"event"`
		Data  map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(<-hub.Broadcast, &ev))
	assert.Equal(t, "stock_changed", ev.Event)
	assert.Equal(t, 4, ev.Data["stock"])
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(zap.NewNop())

	for i := 0; i < cap(hub.Broadcast)+10; i++ {
		hub.Publish("cash_movement", i)
	}

	assert.Equal(t, cap(hub.Broadcast), len(hub.Broadcast))
	assert.Equal(t, 0, hub.ClientCount())
}
