// Package app assembles the meal tracker from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/mealclaw/internal/agent"
	"github.com/stellarlinkco/mealclaw/internal/config"
	"github.com/stellarlinkco/mealclaw/internal/estimator"
	"github.com/stellarlinkco/mealclaw/internal/knowledge"
	"github.com/stellarlinkco/mealclaw/internal/llm"
	"github.com/stellarlinkco/mealclaw/internal/logging"
	"github.com/stellarlinkco/mealclaw/internal/store"
	"github.com/stellarlinkco/mealclaw/internal/tracker"
)

// ModelFactory builds the reasoning model from cfg.
type ModelFactory func(ctx context.Context, cfg *config.Config) (llm.Model, error)

// DefaultModelFactory uses the configured agentsdk-go provider.
func DefaultModelFactory(ctx context.Context, cfg *config.Config) (llm.Model, error) {
	return llm.NewModel(ctx, cfg)
}

type Options struct {
	ModelFactory ModelFactory
	Embedder     knowledge.Embedder
	Now          func() time.Time
}

type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	Store     *store.Store
	Client    *llm.Client
	Index     *knowledge.Index
	Engine    *knowledge.Engine
	Ingester  *knowledge.Ingester
	Estimator *estimator.Estimator
	Tracker   *tracker.Tracker
	Agent     *agent.Agent
}

// New opens the store, seeds reference data and wires every component.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	if opts.ModelFactory == nil {
		opts.ModelFactory = DefaultModelFactory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	st, err := store.Open(ctx, cfg.Store.DBPath, logging.Component(log, "store"))
	if err != nil {
		return nil, err
	}
	if err := st.EnsureDefaultCategories(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := st.EnsureDefaultSettings(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	m, err := opts.ModelFactory(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create model: %w", err)
	}
	client := llm.NewClient(m, llm.ConfiguredOptions(cfg, logging.Component(log, "llm")))

	embedder := opts.Embedder
	if embedder == nil {
		embedder = knowledge.NewEmbedder(cfg)
	}
	index := knowledge.NewIndex(st.DB())
	engine := knowledge.NewEngine(client, embedder, index, st, knowledge.Options{
		TopK:   cfg.Knowledge.TopK,
		Now:    opts.Now,
		Logger: logging.Component(log, "knowledge"),
	})
	ingester := knowledge.NewIngester(embedder, index,
		knowledge.Splitter{Size: cfg.Knowledge.ChunkSize, Overlap: cfg.Knowledge.ChunkOverlap},
		cfg.Knowledge.SourceBaseURL, logging.Component(log, "ingest"))

	est := estimator.New(client, estimator.Options{
		MaxAttempts: cfg.Estimator.MaxAttempts,
		ExecTimeout: time.Duration(cfg.Estimator.ExecTimeoutMs) * time.Millisecond,
		Logger:      logging.Component(log, "estimator"),
	})
	tr := tracker.New(engine, est, st, tracker.Options{Now: opts.Now, Logger: logging.Component(log, "tracker")})
	ag := agent.New(client, tr, agent.Options{
		MaxIterations: cfg.Agent.MaxToolIterations,
		Now:           opts.Now,
		Logger:        logging.Component(log, "agent"),
	})

	return &App{
		Config:    cfg,
		Log:       log,
		Store:     st,
		Client:    client,
		Index:     index,
		Engine:    engine,
		Ingester:  ingester,
		Estimator: est,
		Tracker:   tr,
		Agent:     ag,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
