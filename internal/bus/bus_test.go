package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/mealclaw/internal/logging"
)

func TestSessionKey(t *testing.T) {
	m := InboundMessage{Channel: "telegram", ChatID: "42"}
	assert.Equal(t, "telegram:42", m.SessionKey())
}

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(4, logging.Nop())
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(m OutboundMessage) { got <- m })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "other", Content: "dropped"}
	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"}

	select {
	case m := <-got:
		assert.Equal(t, "hi", m.Content)
	case <-time.After(time.Second):
		require.FailNow(t, "outbound message not delivered")
	}
}

func TestNewMessageBusMinimumBuffer(t *testing.T) {
	b := NewMessageBus(0, logging.Nop())
	assert.Equal(t, 1, cap(b.Inbound))
	assert.Equal(t, 1, cap(b.Outbound))
}
