package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "delivery channel closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(ChannelScans, 4)
	defer cancel()

	hub.Publish(ChannelScans, EventTypeScanStarted, map[string]any{"hosts": 3})

	ev := receiveEvent(t, ch)
	assert.Equal(t, EventTypeScanStarted, ev.Type)
	assert.Equal(t, ChannelScans, ev.Channel)
	assert.Equal(t, 3, ev.Payload["hosts"])
	assert.False(t, ev.Timestamp.IsZero())
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub()
	ch1, cancel1 := hub.Subscribe(ChannelAlerts, 4)
	defer cancel1()
	ch2, cancel2 := hub.Subscribe(ChannelAlerts, 4)
	defer cancel2()

	assert.Equal(t, 2, hub.SubscriberCount(ChannelAlerts))

	hub.Publish(ChannelAlerts, EventTypeAlertCreated, map[string]any{"check": "disk"})

	ev1 := receiveEvent(t, ch1)
	ev2 := receiveEvent(t, ch2)
	assert.Equal(t, EventTypeAlertCreated, ev1.Type)
	assert.Equal(t, EventTypeAlertCreated, ev2.Type)
}

func TestHub_ChannelIsolation(t *testing.T) {
	hub := NewHub()
	scans, cancelScans := hub.Subscribe(ChannelScans, 4)
	defer cancelScans()
	alerts, cancelAlerts := hub.Subscribe(ChannelAlerts, 4)
	defer cancelAlerts()

	hub.Publish(ChannelScans, EventTypeScanCompleted, nil)

	receiveEvent(t, scans)
	select {
	case ev := <-alerts:
		t.Fatalf("alerts subscriber received cross-channel event %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(ChannelChecks, 4)

	cancel()
	// Idempotent.
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "delivery channel should be closed after cancel")
	assert.Equal(t, 0, hub.SubscriberCount(ChannelChecks))

	// Publishing to a channel with no subscribers is a no-op.
	hub.Publish(ChannelChecks, EventTypeCheckResult, nil)
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(ChannelScans, 1)
	defer cancel()

	// Buffer holds one event; the rest are dropped rather than blocking.
	hub.Publish(ChannelScans, EventTypeScanProgress, map[string]any{"seq": 1})
	hub.Publish(ChannelScans, EventTypeScanProgress, map[string]any{"seq": 2})
	hub.Publish(ChannelScans, EventTypeScanProgress, map[string]any{"seq": 3})

	ev := receiveEvent(t, ch)
	assert.Equal(t, 1, ev.Payload["seq"])

	select {
	case ev := <-ch:
		t.Fatalf("expected overflow events to be dropped, got seq %v", ev.Payload["seq"])
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ConcurrentPublishAndCancel(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		ch, cancel := hub.Subscribe(ChannelCI, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	for i := 0; i < 50; i++ {
		hub.Publish(ChannelCI, EventTypeCIAnalysis, nil)
	}
	wg.Wait()

	assert.Equal(t, 0, hub.SubscriberCount(ChannelCI))
}
