package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultModel             = "gpt-4o-mini"
	DefaultMaxTokens         = 2048
	DefaultTemperature       = 0.0
	DefaultMaxToolIterations = 10
	DefaultProviderType      = "openai"
	DefaultMaxRetries        = 2
	DefaultTimeoutMs         = 60000
	DefaultTopK              = 4
	DefaultChunkSize         = 600
	DefaultChunkOverlap      = 50
	DefaultSourceBaseURL     = "https://www.calorieking.com/us/en/foods"
	DefaultEmbeddingProvider = "api"
	DefaultEmbeddingModel    = "text-embedding-3-small"
	DefaultEmbeddingDim      = 1536
	DefaultEmbeddingBatch    = 32
	DefaultEmbeddingTimeout  = 15000
	DefaultEstimatorAttempts = 3
	MaxEstimatorAttempts     = 5
	DefaultExecTimeoutMs     = 2000
	DefaultDailyReport       = "0 0 21 * * *"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
	DefaultHistoryTurns      = 20
	DefaultBufSize           = 100
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Store     StoreConfig     `json:"store"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Estimator EstimatorConfig `json:"estimator"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Log       LogConfig       `json:"log"`
}

type AgentConfig struct {
	Model             string  `json:"model"`
	MaxTokens         int     `json:"maxTokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"maxToolIterations"`
	HistoryTurns      int     `json:"historyTurns"`
}

type ProviderConfig struct {
	Type       string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey     string `json:"apiKey"`
	BaseURL    string `json:"baseUrl,omitempty"`
	MaxRetries int    `json:"maxRetries"`
	TimeoutMs  int    `json:"timeoutMs"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type KnowledgeConfig struct {
	TopK          int             `json:"topK"`
	ChunkSize     int             `json:"chunkSize"`
	ChunkOverlap  int             `json:"chunkOverlap"`
	SourceBaseURL string          `json:"sourceBaseUrl,omitempty"`
	Embedding     EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api" (default) or "ollama"
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	BatchSize int    `json:"batchSize"`
	TimeoutMs int    `json:"timeoutMs"`
}

type EstimatorConfig struct {
	MaxAttempts   int `json:"maxAttempts"`
	ExecTimeoutMs int `json:"execTimeoutMs"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled     bool     `json:"enabled"`
	Token       string   `json:"token"`
	AllowFrom   []string `json:"allowFrom"`
	Proxy       string   `json:"proxy,omitempty"`
	ReportChats []int64  `json:"reportChats,omitempty"`
}

type GatewayConfig struct {
	DailyReport string `json:"dailyReport"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "console" or "json"
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			Temperature:       DefaultTemperature,
			MaxToolIterations: DefaultMaxToolIterations,
			HistoryTurns:      DefaultHistoryTurns,
		},
		Provider: ProviderConfig{
			Type:       DefaultProviderType,
			MaxRetries: DefaultMaxRetries,
			TimeoutMs:  DefaultTimeoutMs,
		},
		Store: StoreConfig{
			DBPath: filepath.Join(ConfigDir(), "data", "meals.db"),
		},
		Knowledge: KnowledgeConfig{
			TopK:          DefaultTopK,
			ChunkSize:     DefaultChunkSize,
			ChunkOverlap:  DefaultChunkOverlap,
			SourceBaseURL: DefaultSourceBaseURL,
			Embedding: EmbeddingConfig{
				Provider:  DefaultEmbeddingProvider,
				Model:     DefaultEmbeddingModel,
				Dimension: DefaultEmbeddingDim,
				BatchSize: DefaultEmbeddingBatch,
				TimeoutMs: DefaultEmbeddingTimeout,
			},
		},
		Estimator: EstimatorConfig{
			MaxAttempts:   DefaultEstimatorAttempts,
			ExecTimeoutMs: DefaultExecTimeoutMs,
		},
		Gateway: GatewayConfig{
			DailyReport: DefaultDailyReport,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".mealclaw")
}

func ConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("MEALCLAW_CONFIG")); path != "" {
		return path
	}
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("MEALCLAW_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		cfg.Provider.Type = "anthropic"
	}
	if url := os.Getenv("MEALCLAW_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("MEALCLAW_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if dbPath := os.Getenv("MEALCLAW_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if provider := os.Getenv("MEALCLAW_EMBEDDING_PROVIDER"); provider != "" {
		cfg.Knowledge.Embedding.Provider = provider
	}
	if url := os.Getenv("MEALCLAW_EMBEDDING_BASE_URL"); url != "" {
		cfg.Knowledge.Embedding.BaseURL = url
	}
	if key := os.Getenv("MEALCLAW_EMBEDDING_API_KEY"); key != "" {
		cfg.Knowledge.Embedding.APIKey = key
	}
	if model := os.Getenv("MEALCLAW_EMBEDDING_MODEL"); model != "" {
		cfg.Knowledge.Embedding.Model = model
	}
	if dim := os.Getenv("MEALCLAW_EMBEDDING_DIMENSION"); dim != "" {
		if parsed, err := strconv.Atoi(dim); err == nil {
			cfg.Knowledge.Embedding.Dimension = parsed
		}
	}
	if token := os.Getenv("MEALCLAW_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if level := os.Getenv("MEALCLAW_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func normalize(cfg *Config) {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Provider.Type) == "" {
		cfg.Provider.Type = DefaultProviderType
	}
	if cfg.Provider.MaxRetries < 0 {
		cfg.Provider.MaxRetries = 0
	}
	if cfg.Provider.TimeoutMs <= 0 {
		cfg.Provider.TimeoutMs = DefaultTimeoutMs
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxToolIterations <= 0 {
		cfg.Agent.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.Agent.HistoryTurns <= 0 {
		cfg.Agent.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = def.Store.DBPath
	}
	if cfg.Knowledge.TopK <= 0 {
		cfg.Knowledge.TopK = DefaultTopK
	}
	if cfg.Knowledge.ChunkSize <= 0 {
		cfg.Knowledge.ChunkSize = DefaultChunkSize
	}
	if cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		cfg.Knowledge.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Knowledge.Embedding.Dimension <= 0 {
		cfg.Knowledge.Embedding.Dimension = DefaultEmbeddingDim
	}
	if cfg.Knowledge.Embedding.BatchSize <= 0 {
		cfg.Knowledge.Embedding.BatchSize = DefaultEmbeddingBatch
	}
	if cfg.Knowledge.Embedding.TimeoutMs <= 0 {
		cfg.Knowledge.Embedding.TimeoutMs = DefaultEmbeddingTimeout
	}
	if cfg.Estimator.MaxAttempts <= 0 {
		cfg.Estimator.MaxAttempts = DefaultEstimatorAttempts
	}
	if cfg.Estimator.MaxAttempts > MaxEstimatorAttempts {
		cfg.Estimator.MaxAttempts = MaxEstimatorAttempts
	}
	if cfg.Estimator.ExecTimeoutMs <= 0 {
		cfg.Estimator.ExecTimeoutMs = DefaultExecTimeoutMs
	}
	if cfg.Gateway.DailyReport == "" {
		cfg.Gateway.DailyReport = DefaultDailyReport
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
