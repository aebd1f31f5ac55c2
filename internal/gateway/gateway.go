// Package gateway runs mealclaw as a long-lived chat service: channel
// messages go through the agent one at a time and a daily calorie report is
// pushed on a schedule.
package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/mealclaw/internal/agent"
	"github.com/stellarlinkco/mealclaw/internal/bus"
	"github.com/stellarlinkco/mealclaw/internal/channel"
	"github.com/stellarlinkco/mealclaw/internal/config"
	"github.com/stellarlinkco/mealclaw/internal/cron"
	"github.com/stellarlinkco/mealclaw/internal/llm"
	"github.com/stellarlinkco/mealclaw/internal/logging"
	"github.com/stellarlinkco/mealclaw/internal/meal"
	"github.com/stellarlinkco/mealclaw/internal/tracker"
)

const (
	dailyReportJob = "daily_report"
	resetCommand   = "/reset"
	errorReply     = "Sorry, I encountered an error processing your message."
)

// Handler answers one utterance given the chat history.
type Handler interface {
	Handle(ctx context.Context, utterance string, history []llm.Turn) (agent.Reply, error)
}

// Reporter provides the figures of the daily report.
type Reporter interface {
	Day(ctx context.Context, day time.Time) tracker.Outcome
	Total(ctx context.Context, day time.Time) tracker.Outcome
	Today() time.Time
}

// ChannelFactory builds the channel manager on the gateway's bus.
type ChannelFactory func(cfg config.ChannelsConfig, b *bus.MessageBus, log zerolog.Logger) (*channel.ChannelManager, error)

// Options for creating a Gateway
type Options struct {
	ChannelFactory ChannelFactory
	SignalChan     chan os.Signal // for testing signal handling
	Logger         zerolog.Logger
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	handler    Handler
	reporter   Reporter
	channels   *channel.ChannelManager
	cron       *cron.Service
	sessions   *Sessions
	signalChan chan os.Signal
	log        zerolog.Logger
}

func New(cfg *config.Config, h Handler, r Reporter, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize, logging.Component(opts.Logger, "bus")),
		handler:    h,
		reporter:   r,
		sessions:   NewSessions(cfg.Agent.HistoryTurns),
		signalChan: opts.SignalChan,
		log:        opts.Logger,
	}

	factory := opts.ChannelFactory
	if factory == nil {
		factory = channel.NewChannelManager
	}
	chMgr, err := factory(cfg.Channels, g.bus, logging.Component(opts.Logger, "channel"))
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.cron = cron.NewService(logging.Component(opts.Logger, "cron"))
	if r != nil && len(cfg.Channels.Telegram.ReportChats) > 0 {
		if err := g.cron.AddJob(dailyReportJob, cfg.Gateway.DailyReport, g.sendDailyReport); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	g.log.Info().Strs("channels", g.channels.EnabledChannels()).Msg("channels started")

	g.cron.Start(ctx)
	go g.processLoop(ctx)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.log.Info().Msg("shutting down")
	return g.Shutdown()
}

// processLoop handles inbound messages one at a time, in arrival order.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()
	g.log.Info().Str("session", key).Str("sender", msg.SenderID).Str("content", truncate(msg.Content, 80)).Msg("inbound")

	if strings.EqualFold(strings.TrimSpace(msg.Content), resetCommand) {
		g.sessions.Reset(key)
		g.reply(msg, "Conversation cleared.")
		return
	}

	reply, err := g.handler.Handle(ctx, msg.Content, g.sessions.History(key))
	if err != nil {
		g.log.Error().Err(err).Str("session", key).Msg("agent error")
		g.reply(msg, errorReply)
		return
	}
	for _, inv := range reply.Invocations {
		g.log.Debug().Str("session", key).Str("capability", inv.Capability).Str("result", truncate(inv.Result, 120)).Msg("invocation")
	}
	if reply.Text == "" {
		return
	}
	g.sessions.Record(key, msg.Content, reply.Text)
	g.reply(msg, reply.Text)
}

func (g *Gateway) reply(msg bus.InboundMessage, text string) {
	g.bus.Outbound <- bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
	}
}

func (g *Gateway) sendDailyReport(ctx context.Context) (string, error) {
	report, err := g.DailyReport(ctx)
	if err != nil {
		return "", err
	}
	for _, chat := range g.cfg.Channels.Telegram.ReportChats {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: channel.TelegramChannelName,
			ChatID:  strconv.FormatInt(chat, 10),
			Content: report,
		}
	}
	return fmt.Sprintf("report sent to %d chat(s)", len(g.cfg.Channels.Telegram.ReportChats)), nil
}

// DailyReport summarizes today's meals against the calorie target.
func (g *Gateway) DailyReport(ctx context.Context) (string, error) {
	day := g.reporter.Today()
	total := g.reporter.Total(ctx, day)
	if total.Failed() {
		return "", fmt.Errorf("daily total: %s", total.Error)
	}
	meals := g.reporter.Day(ctx, day)
	if meals.Failed() {
		return "", fmt.Errorf("daily meals: %s", meals.Error)
	}
	return FormatReport(*total.Totals, meals.Meals), nil
}

// FormatReport renders the daily summary sent to report chats.
func FormatReport(t tracker.Totals, meals []meal.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Daily report %s**\n", t.Date)
	if len(meals) == 0 {
		sb.WriteString("No meals logged today.\n")
	}
	for _, m := range meals {
		fmt.Fprintf(&sb, "- %s %s: %s (%d kcal)\n", m.Date.Format("15:04"), m.Category, m.Name, m.Calories)
	}
	fmt.Fprintf(&sb, "Total: %d of %d kcal", t.Calories, t.Target)
	if t.Remaining >= 0 {
		fmt.Fprintf(&sb, ", %d remaining.", t.Remaining)
	} else {
		fmt.Fprintf(&sb, ", %d over target.", -t.Remaining)
	}
	return sb.String()
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	g.log.Info().Msg("shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
