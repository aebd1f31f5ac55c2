package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MessageBus decouples channels from the agent loop.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string][]func(OutboundMessage)
	log  zerolog.Logger
}

func NewMessageBus(bufSize int, log zerolog.Logger) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		subs:     make(map[string][]func(OutboundMessage)),
		log:      log,
	}
}

// SubscribeOutbound registers fn for messages addressed to channel.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], fn)
}

// DispatchOutbound delivers outbound messages to subscribers until ctx ends.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			subs := b.subs[msg.Channel]
			b.mu.RUnlock()
			if len(subs) == 0 {
				b.log.Warn().Str("channel", msg.Channel).Msg("no subscriber for outbound message")
				continue
			}
			for _, fn := range subs {
				fn(msg)
			}
		case <-ctx.Done():
			return
		}
	}
}
