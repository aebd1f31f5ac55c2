package channel

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/mealclaw/internal/bus"
	"github.com/stellarlinkco/mealclaw/internal/config"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	log      zerolog.Logger
}

func NewChannelManager(cfg config.ChannelsConfig, b *bus.MessageBus, log zerolog.Logger) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		log:      log,
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b, log)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Register(ch)
	}
	return m, nil
}

// Register adds ch and routes its outbound messages to it.
func (m *ChannelManager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.log.Error().Err(err).Str("channel", ch.Name()).Msg("send failed")
		}
	})
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	for _, name := range m.EnabledChannels() {
		m.log.Info().Str("channel", name).Msg("starting channel")
		if err := m.channels[name].Start(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for _, name := range m.EnabledChannels() {
		m.log.Info().Str("channel", name).Msg("stopping channel")
		if err := m.channels[name].Stop(); err != nil {
			m.log.Error().Err(err).Str("channel", name).Msg("stop failed")
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
