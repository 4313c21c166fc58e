package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerSequenceOrdering(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Open("stream-1", "chat-1", func() {}))

	events, unsubscribe, err := b.Subscribe("stream-1")
	require.NoError(t, err)
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		require.True(t, b.Publish("stream-1", Event{Type: EventTextDelta, Delta: "x"}))
	}
	b.Close("stream-1")

	var seqs []int64
	for ev := range events {
		seqs = append(seqs, ev.Seq)
	}
	require.Len(t, seqs, 10)
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestBrokerRejectsSecondStreamPerChat(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Open("stream-1", "chat-1", func() {}))

	err := b.Open("stream-2", "chat-1", func() {})
	assert.ErrorIs(t, err, ErrChatBusy)

	// A different chat is fine.
	assert.NoError(t, b.Open("stream-3", "chat-2", func() {}))

	// Closing frees the chat for a new generation.
	b.Close("stream-1")
	assert.NoError(t, b.Open("stream-4", "chat-1", func() {}))
}

func TestBrokerSubscribeAfterClose(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Open("stream-1", "chat-1", func() {}))
	b.Close("stream-1")

	_, _, err := b.Subscribe("stream-1")
	assert.ErrorIs(t, err, ErrNoActiveStream)

	_, _, err = b.Subscribe("never-existed")
	assert.ErrorIs(t, err, ErrNoActiveStream)
}

func TestBrokerPublishAfterCloseReturnsFalse(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Open("stream-1", "chat-1", func() {}))
	b.Close("stream-1")

	assert.False(t, b.Publish("stream-1", Event{Type: EventTextDelta}))
}

func TestBrokerDropsSlowSubscriber(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Open("stream-1", "chat-1", func() {}))

	events, unsubscribe, err := b.Subscribe("stream-1")
	require.NoError(t, err)
	defer unsubscribe()

	// Nobody reads: the buffer fills, then the subscriber is cut loose.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish("stream-1", Event{Type: EventTextDelta, Delta: fmt.Sprintf("%d", i)})
	}

	var count int
	for range events {
		count++
	}
	// Everything that was buffered is still delivered in order; nothing after.
	assert.Equal(t, subscriberBuffer, count)
}

func TestBrokerLateSubscriberSeesOnlyNewEvents(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Open("stream-1", "chat-1", func() {}))

	b.Publish("stream-1", Event{Type: EventTextDelta, Delta: "early"})

	events, unsubscribe, err := b.Subscribe("stream-1")
	require.NoError(t, err)
	defer unsubscribe()

	b.Publish("stream-1", Event{Type: EventTextDelta, Delta: "late"})
	b.Close("stream-1")

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].Delta)
	assert.Equal(t, int64(2), got[0].Seq)
}

func TestBrokerCancelInvokesStreamCancel(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Open("stream-1", "chat-1", cancel))

	require.True(t, b.Cancel("stream-1"))
	<-ctx.Done()

	assert.False(t, b.Cancel("unknown"))
}

func TestBrokerActiveStreamID(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Open("stream-1", "chat-1", func() {}))

	id, ok := b.ActiveStreamID("chat-1")
	require.True(t, ok)
	assert.Equal(t, "stream-1", id)

	_, ok = b.ActiveStreamID("chat-2")
	assert.False(t, ok)

	b.Close("stream-1")
	_, ok = b.ActiveStreamID("chat-1")
	assert.False(t, ok)
}
