package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/platform"
)

func TestHubDropsSlowClientOnMultiEventReceipt(t *testing.T) {
	hub := NewHub()
	slow := &client{addr: "slow", send: make(chan StreamMessage, 1)}
	fast := &client{addr: "fast", send: make(chan StreamMessage, 8)}
	hub.clients[slow] = struct{}{}
	hub.clients[fast] = struct{}{}

	r := &platform.Receipt{
		Op: platform.OpStartSaleRound,
		Events: []domain.Event{
			{Type: domain.EventRemoveOrder, Forced: true},
			{Type: domain.EventRemoveOrder, Forced: true},
			{Type: domain.EventSaleRoundStarted},
		},
	}
	require.NotPanics(t, func() {
		require.NoError(t, hub.HandleReceipt(context.Background(), r))
	})
	assert.Equal(t, 1, hub.Len())

	// 慢客户端收到第一条后被关闭
	msg, ok := <-slow.send
	require.True(t, ok)
	assert.Equal(t, domain.EventRemoveOrder, msg.Type)
	_, ok = <-slow.send
	assert.False(t, ok)

	require.Len(t, fast.send, 3)
	for _, want := range []domain.EventType{domain.EventRemoveOrder, domain.EventRemoveOrder, domain.EventSaleRoundStarted} {
		got := <-fast.send
		assert.Equal(t, platform.OpStartSaleRound, got.Op)
		assert.Equal(t, want, got.Type)
	}

	// 已断开的客户端不再收到后续回执
	require.NotPanics(t, func() {
		require.NoError(t, hub.HandleReceipt(context.Background(), r))
	})
	assert.Len(t, fast.send, 3)
	hub.Close()
	assert.Equal(t, 0, hub.Len())
}
