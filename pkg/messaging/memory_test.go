package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestMemoryBrokerFanOut(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	first, err := b.Subscribe(ctx, ChannelNotifications)
	require.NoError(t, err)
	second, err := b.Subscribe(ctx, ChannelNotifications)
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, ChannelWorkflowBadges)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, ChannelNotifications, Message{Type: "invoice.paid", Payload: 80}))

	want := `{"type":"invoice.paid","payload":80}`
	assert.JSONEq(t, want, string(receive(t, first)))
	assert.JSONEq(t, want, string(receive(t, second)))
	assert.Empty(t, other)
}

func TestMemoryBrokerUnsubscribeOnCancel(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, ChannelInvalidations)
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.NoError(t, b.Publish(context.Background(), ChannelInvalidations, "x"))
}

func TestMemoryBrokerClose(t *testing.T) {
	b := NewMemoryBroker()
	ch, err := b.Subscribe(context.Background(), ChannelInvalidations)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, ok := <-ch
	assert.False(t, ok)
	assert.Error(t, b.Publish(context.Background(), ChannelInvalidations, "x"))
	_, err = b.Subscribe(context.Background(), ChannelInvalidations)
	assert.Error(t, err)
}
