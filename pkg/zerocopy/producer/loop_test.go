package producer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramePayload(t *testing.T) {
	before := time.Now()
	payload := FramePayload(64)(42)
	require.Len(t, payload, 64)

	seq, sent, ok := ParseFrame(payload)
	require.True(t, ok)
	assert.Equal(t, uint64(42), seq)
	assert.False(t, sent.Before(before.Truncate(time.Nanosecond)))
	assert.Equal(t, byte(42), payload[63])

	t.Run("short payload", func(t *testing.T) {
		short := FramePayload(8)(1)
		assert.Len(t, short, 8)
		_, _, ok := ParseFrame(short)
		assert.False(t, ok)
	})
}

func TestProduce_SendsUntilCancelled(t *testing.T) {
	h := newHarness(t, 4)
	client, _ := h.connectClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.Produce(ctx, time.Millisecond, FramePayload(32)) }()

	var seqs []uint64
	require.Eventually(t, func() bool {
		token, err := client.ReceiveSlot()
		require.NoError(t, err)
		if token == nil {
			return false
		}
		content, err := client.AccessSlotContent(token)
		require.NoError(t, err)
		seq, _, ok := ParseFrame(content)
		require.True(t, ok)
		seqs = append(seqs, seq)
		require.NoError(t, client.ReleaseSlot(token))
		return len(seqs) == 3
	}, waitFor, tick)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []uint64{0, 1, 2}, seqs)
}

func TestProduce_StopsOnShutdown(t *testing.T) {
	h := newHarness(t, 2)
	h.connectClient(t)
	require.NoError(t, h.server.Shutdown())

	err := h.server.Produce(context.Background(), time.Millisecond, FramePayload(8))
	assert.NoError(t, err)
}

func TestProduce_PayloadTooLarge(t *testing.T) {
	h := newHarness(t, 2)
	h.connectClient(t)

	err := h.server.Produce(context.Background(), time.Millisecond, FramePayload(128))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestReclaimEvery(t *testing.T) {
	h := newHarness(t, 2)
	client, _ := h.connectClient(t)

	sent, err := h.server.SendSlot([]byte("x"))
	require.NoError(t, err)
	require.True(t, sent)
	_, _, release := receive(t, client)
	release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.ReclaimEvery(ctx, time.Millisecond) }()

	require.Eventually(t, func() bool { return h.server.FreeSlots() == 2 }, waitFor, tick)
	cancel()
	require.NoError(t, <-done)
}
