package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	b := NewBus()
	all := b.Subscribe(10)
	mfc := b.Subscribe(10, ForDevice("mfc"))
	failures := b.Subscribe(10, OfKind(TaskFailed, PollFailed))

	b.Publish(Event{Kind: PollSucceeded, Device: "mfc"})
	b.Publish(Event{Kind: TaskFailed, Device: "rf", Reason: "timeout"})

	require.Len(t, all.C, 2)
	require.Len(t, mfc.C, 1)
	require.Len(t, failures.C, 1)

	e := <-failures.C
	assert.Equal(t, "rf", e.Device)
	assert.Equal(t, "timeout", e.Reason)
	assert.False(t, e.Time.IsZero())
	assert.True(t, e.Kind.Failure())
}

func TestBusNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(1)

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: Reading, Device: "tc", Reading: &Value{Name: "pv", Value: float64(i)}})
	}

	e := <-s.C
	assert.Equal(t, 0.0, e.Reading.Value)
	assert.Empty(t, s.C)
}

func TestSubscriptionClose(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(1)
	assert.Equal(t, 1, b.Len())

	s.Close()
	s.Close()
	assert.Equal(t, 0, b.Len())

	_, ok := <-s.C
	assert.False(t, ok)

	b.Publish(Event{Kind: PollSucceeded})
}
