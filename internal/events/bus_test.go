package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus(8)

	b.Publish(Event{Type: EventRefresh, Email: "a@x", Message: "refreshed"})

	id, ch, backlog := b.Subscribe()
	defer b.Unsubscribe(id)

	require.Len(t, backlog, 1)
	require.Equal(t, EventRefresh, backlog[0].Type)
	require.False(t, backlog[0].Timestamp.IsZero())

	b.Publish(Event{Type: EventRateLimit, Email: "a@x", Message: "cooled"})
	select {
	case ev := <-ch:
		require.Equal(t, EventRateLimit, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	b := NewBus(2)
	b.Publish(Event{Type: EventRefresh, Message: "1"})
	b.Publish(Event{Type: EventRefresh, Message: "2"})
	b.Publish(Event{Type: EventRefresh, Message: "3"})

	recent := b.Recent()
	require.Len(t, recent, 2)
	require.Equal(t, "2", recent[0].Message)
	require.Equal(t, "3", recent[1].Message)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBus(4)
	id, _, _ := b.Subscribe()
	defer b.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(Event{Type: EventDispatch, Message: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
