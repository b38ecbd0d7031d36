package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBroker(16)
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventInstanceReady, Workload: "api", Instance: "i-1"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventInstanceReady, ev.Type)
		assert.Equal(t, "api", ev.Workload)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRecentOrderedAndBounded(t *testing.T) {
	b := NewBroker(3)
	b.Start()
	defer b.Stop()

	for i, typ := range []EventType{
		EventRolloutStarted,
		EventInstanceCreated,
		EventInstanceReady,
		EventRolloutConverged,
	} {
		b.Publish(&Event{Type: typ, Timestamp: time.Date(2026, 3, 1, 0, i, 0, 0, time.UTC)})
	}

	recent := b.Recent(0)
	require.Len(t, recent, 3)
	// Oldest event fell out of the ring
	assert.Equal(t, EventInstanceCreated, recent[0].Type)
	assert.Equal(t, EventRolloutConverged, recent[2].Type)

	limited := b.Recent(2)
	require.Len(t, limited, 2)
	assert.Equal(t, EventInstanceReady, limited[0].Type)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroker(16)
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	// Overflow the subscriber buffer without draining it
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(&Event{Type: EventInstanceCreated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
