package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalBus_Delivers(t *testing.T) {
	bus := NewLocalBus(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Event
	require.NoError(t, bus.Subscribe(ctx, StreamNotify, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}))

	require.NoError(t, bus.Publish(ctx, StreamNotify, Notification(LevelSuccess, "Channel created", "ch_1")))
	require.NoError(t, bus.Publish(ctx, StreamChannels, Event{Type: EventChannelActivity}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventNotification, got[0].Type)
	assert.Equal(t, LevelSuccess, got[0].Payload["level"])
}

func TestLocalBus_UnsubscribesOnCancel(t *testing.T) {
	bus := NewLocalBus(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, bus.Subscribe(ctx, StreamChannels, func(Event) {}))
	cancel()

	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subs[StreamChannels]) == 0
	}, time.Second, 5*time.Millisecond)

	assert.NoError(t, bus.Publish(context.Background(), StreamChannels, Event{Type: EventChannelActivity}))
}
