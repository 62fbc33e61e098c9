package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamctl/streamd/internal/infrastructure/logging"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster(logging.NewNop(), 8)
	defer b.Close()

	ch1 := b.Subscribe("s1")
	ch2 := b.Subscribe("s2")

	b.Publish(EOS("p0"))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, TypeEOS, ev.Event)
			assert.Equal(t, EOSData{PipelineID: "p0"}, ev.Data)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDegradesOnlyItself(t *testing.T) {
	b := NewBroadcaster(logging.NewNop(), 1)
	defer b.Close()

	slow := b.Subscribe("slow")
	b.Publish(EOS("p0")) // fills slow's single-slot buffer

	fast := b.Subscribe("fast")
	b.Publish(EOS("p1")) // slow is full and drops; fast receives

	require.Equal(t, uint64(1), b.Dropped())

	ev := <-slow
	assert.Equal(t, EOSData{PipelineID: "p0"}, ev.Data)
	ev = <-fast
	assert.Equal(t, EOSData{PipelineID: "p1"}, ev.Data)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(logging.NewNop(), 8)
	defer b.Close()

	ch := b.Subscribe("s1")
	b.Unsubscribe("s1")

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())

	// Unsubscribing twice is harmless.
	b.Unsubscribe("s1")
}

func TestPerPipelineOrderPreserved(t *testing.T) {
	b := NewBroadcaster(logging.NewNop(), 16)
	defer b.Close()

	ch := b.Subscribe("s1")
	b.Publish(StateChanged("p0", "null", "ready"))
	b.Publish(StateChanged("p0", "ready", "paused"))
	b.Publish(StateChanged("p0", "paused", "playing"))

	want := []string{"ready", "paused", "playing"}
	for _, state := range want {
		ev := <-ch
		data := ev.Data.(StateChangedData)
		assert.Equal(t, state, data.NewState)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := NewBroadcaster(logging.NewNop(), 8)
	ch := b.Subscribe("s1")
	b.Close()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after close must not panic.
	b.Publish(EOS("p0"))
}
