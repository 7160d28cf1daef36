package queue

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBrokerFansOut(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBroker()
	defer b.Close()

	a, cancelA, err := b.Subscribe("ws#u1")
	require.NoError(t, err)
	defer cancelA()
	c, cancelC, err := b.Subscribe("ws#u1")
	require.NoError(t, err)
	defer cancelC()
	other, cancelOther, err := b.Subscribe("ws#u2")
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, b.Publish(ctx, "ws#u1", []byte("hello")))

	assert.Equal(t, "hello", string(receive(t, a)))
	assert.Equal(t, "hello", string(receive(t, c)))
	assert.Empty(t, other)
}

func TestLocalBrokerCancelClosesStream(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()

	ch, cancel, err := b.Subscribe("chan")
	require.NoError(t, err)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, b.Publish(context.Background(), "chan", []byte("x")))
}

func TestLocalBrokerDropsForSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBroker()
	defer b.Close()

	ch, cancel, err := b.Subscribe("chan")
	require.NoError(t, err)
	defer cancel()

	for range subscriberBuffer + 10 {
		require.NoError(t, b.Publish(ctx, "chan", []byte("x")))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestLocalBrokerClose(t *testing.T) {
	b := NewLocalBroker()
	ch, cancel, err := b.Subscribe("chan")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, cancel)

	assert.ErrorIs(t, b.Publish(context.Background(), "chan", nil), ErrBrokerClosed)
	_, _, err = b.Subscribe("chan")
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestNATSBrokerConnectFailure(t *testing.T) {
	_, err := NewNATSBroker("nats://127.0.0.1:1", slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
