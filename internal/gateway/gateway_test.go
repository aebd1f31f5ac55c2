package gateway

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/mealclaw/internal/agent"
	"github.com/stellarlinkco/mealclaw/internal/bus"
	"github.com/stellarlinkco/mealclaw/internal/channel"
	"github.com/stellarlinkco/mealclaw/internal/config"
	"github.com/stellarlinkco/mealclaw/internal/llm"
	"github.com/stellarlinkco/mealclaw/internal/logging"
	"github.com/stellarlinkco/mealclaw/internal/meal"
	"github.com/stellarlinkco/mealclaw/internal/tracker"
)

type fakeHandler struct {
	mu        sync.Mutex
	reply     string
	err       error
	histories [][]llm.Turn
}

func (f *fakeHandler) Handle(_ context.Context, utterance string, history []llm.Turn) (agent.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, history)
	if f.err != nil {
		return agent.Reply{}, f.err
	}
	return agent.Reply{Text: f.reply + ": " + utterance}, nil
}

type fakeReporter struct {
	day   tracker.Outcome
	total tracker.Outcome
}

func (f *fakeReporter) Day(context.Context, time.Time) tracker.Outcome   { return f.day }
func (f *fakeReporter) Total(context.Context, time.Time) tracker.Outcome { return f.total }
func (f *fakeReporter) Today() time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
}

type mockChannel struct {
	name string
	sent chan bus.OutboundMessage
}

func (m *mockChannel) Name() string                    { return m.name }
func (m *mockChannel) Start(ctx context.Context) error { return nil }
func (m *mockChannel) Stop() error                     { return nil }
func (m *mockChannel) Send(msg bus.OutboundMessage) error {
	m.sent <- msg
	return nil
}

func withMock(mock *mockChannel) ChannelFactory {
	return func(cfg config.ChannelsConfig, b *bus.MessageBus, log zerolog.Logger) (*channel.ChannelManager, error) {
		m, err := channel.NewChannelManager(cfg, b, log)
		if err != nil {
			return nil, err
		}
		m.Register(mock)
		return m, nil
	}
}

func newGateway(t *testing.T, h Handler, r Reporter, mutate func(*config.Config)) *Gateway {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	g, err := New(cfg, h, r, Options{Logger: logging.Nop()})
	require.NoError(t, err)
	return g
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{Channel: "telegram", ChatID: "7", SenderID: "1", Content: content}
}

func TestHandleInboundKeepsHistory(t *testing.T) {
	h := &fakeHandler{reply: "ok"}
	g := newGateway(t, h, nil, func(c *config.Config) { c.Agent.HistoryTurns = 2 })
	ctx := context.Background()

	g.handleInbound(ctx, inbound("a hamburger"))
	out := <-g.bus.Outbound
	assert.Equal(t, "ok: a hamburger", out.Content)
	assert.Equal(t, "7", out.ChatID)
	assert.Equal(t, "telegram", out.Channel)

	g.handleInbound(ctx, inbound("and fries"))
	<-g.bus.Outbound
	require.Len(t, h.histories, 2)
	assert.Empty(t, h.histories[0])
	assert.Equal(t, []llm.Turn{llm.UserTurn("a hamburger"), llm.AssistantTurn("ok: a hamburger")}, h.histories[1])

	g.handleInbound(ctx, inbound("and a shake"))
	<-g.bus.Outbound
	assert.Equal(t, "and fries", h.histories[2][0].Content)
	assert.Len(t, g.sessions.History("telegram:7"), 2)
}

func TestHandleInboundReset(t *testing.T) {
	h := &fakeHandler{reply: "ok"}
	g := newGateway(t, h, nil, nil)
	g.sessions.Record("telegram:7", "hi", "hello")

	g.handleInbound(context.Background(), inbound("/reset"))
	assert.Equal(t, "Conversation cleared.", (<-g.bus.Outbound).Content)
	assert.Empty(t, g.sessions.History("telegram:7"))
	assert.Empty(t, h.histories)
}

func TestHandleInboundAgentError(t *testing.T) {
	h := &fakeHandler{err: errors.New("model down")}
	g := newGateway(t, h, nil, nil)

	g.handleInbound(context.Background(), inbound("toast"))
	assert.Equal(t, errorReply, (<-g.bus.Outbound).Content)
	assert.Empty(t, g.sessions.History("telegram:7"))
}

func TestDailyReport(t *testing.T) {
	lunch := time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local)
	r := &fakeReporter{
		total: tracker.Outcome{Status: tracker.StatusOK, Totals: &tracker.Totals{Date: "2024-03-01", Calories: 250, Target: 2000, Remaining: 1750}},
		day: tracker.Outcome{Status: tracker.StatusOK, Meals: []meal.Record{
			{ID: "m1", Name: "Hamburger", Calories: 250, Category: "Lunch", Date: lunch},
		}},
	}
	g := newGateway(t, &fakeHandler{}, r, func(c *config.Config) { c.Channels.Telegram.ReportChats = []int64{11, 12} })
	require.Len(t, g.cron.ListJobs(), 1)

	report, err := g.DailyReport(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report, "Daily report 2024-03-01")
	assert.Contains(t, report, "- 12:30 Lunch: Hamburger (250 kcal)")
	assert.Contains(t, report, "Total: 250 of 2000 kcal, 1750 remaining.")

	result, err := g.sendDailyReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "report sent to 2 chat(s)", result)
	assert.Equal(t, "11", (<-g.bus.Outbound).ChatID)
	assert.Equal(t, "12", (<-g.bus.Outbound).ChatID)

	r.total = tracker.Outcome{Status: tracker.StatusFailed, Error: "store closed"}
	_, err = g.DailyReport(context.Background())
	assert.ErrorContains(t, err, "store closed")
}

func TestFormatReportOverTarget(t *testing.T) {
	got := FormatReport(tracker.Totals{Date: "2024-03-01", Calories: 2300, Target: 2000, Remaining: -300}, nil)
	assert.Contains(t, got, "No meals logged today.")
	assert.True(t, strings.HasSuffix(got, "300 over target."))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Channels.Telegram.ReportChats = []int64{1}
	cfg.Gateway.DailyReport = "every evening"
	_, err := New(cfg, &fakeHandler{}, &fakeReporter{}, Options{Logger: logging.Nop()})
	assert.Error(t, err)

	// Without report chats no job is scheduled.
	g := newGateway(t, &fakeHandler{}, &fakeReporter{}, nil)
	assert.Empty(t, g.cron.ListJobs())
}

func TestRunRoutesMessagesEndToEnd(t *testing.T) {
	mock := &mockChannel{name: "telegram", sent: make(chan bus.OutboundMessage, 1)}
	sig := make(chan os.Signal, 1)
	g, err := New(config.DefaultConfig(), &fakeHandler{reply: "logged"}, nil, Options{
		ChannelFactory: withMock(mock),
		SignalChan:     sig,
		Logger:         logging.Nop(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	g.bus.Inbound <- inbound("a salad")
	select {
	case msg := <-mock.sent:
		assert.Equal(t, "logged: a salad", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("reply not delivered")
	}

	sig <- os.Interrupt
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestSessionsCopyHistory(t *testing.T) {
	s := NewSessions(4)
	s.Record("k", "u1", "a1")
	h := s.History("k")
	h[0].Content = "changed"
	assert.Equal(t, "u1", s.History("k")[0].Content)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "this is a ...", truncate("this is a long message", 10))
	assert.Equal(t, "две ...", truncate("две котлеты", 4))
	assert.Equal(t, "寿司", truncate("寿司", 2))
}
