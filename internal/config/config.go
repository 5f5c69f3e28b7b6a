package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	Retrieval RetrievalConfig
	Rollout   RolloutConfig
	Usage     UsageConfig
	CORS      CORSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

type JWTConfig struct {
	Secret string
}

// LLMConfig points at an OpenAI-compatible completion and embedding API.
type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// PipelineConfig controls the prompt-upgrade pipeline and conversation state.
type PipelineConfig struct {
	ConversationTTL  time.Duration
	SweepInterval    time.Duration
	MaxHistory       int
	StepTimeout      time.Duration
	RedactionEnabled bool
	SummaryEnabled   bool
	SummaryCacheTTL  time.Duration
}

// RetrievalConfig controls the retrieval decision engine.
type RetrievalConfig struct {
	TopK              int
	MinScore          float64
	FirstTurnLimit    int
	FollowUpLimit     int
	EmbeddingCacheTTL time.Duration
}

// RolloutConfig controls the canary rollout driver.
type RolloutConfig struct {
	DriverInterval time.Duration
	WindowHours    int
	MinSampleSize  int
	ErrorThreshold float64
}

// UsageConfig controls per-user quota limits.
type UsageConfig struct {
	MaxRequestsPerMinute int
	MaxTokensPerDay      int
	MaxRequestsPerDay    int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		JWT: JWTConfig{
			Secret: k.String("jwt.secret"),
		},
		LLM: LLMConfig{
			BaseURL:        k.String("llm.base.url"),
			APIKey:         k.String("llm.api.key"),
			Model:          k.String("llm.model"),
			EmbeddingModel: k.String("llm.embedding.model"),
		},
		Pipeline: PipelineConfig{
			MaxHistory:       k.Int("pipeline.max.history"),
			RedactionEnabled: !k.Bool("pipeline.redaction.disabled"),
			SummaryEnabled:   !k.Bool("pipeline.summary.disabled"),
		},
		Retrieval: RetrievalConfig{
			TopK:           k.Int("retrieval.topk"),
			MinScore:       k.Float64("retrieval.min.score"),
			FirstTurnLimit: k.Int("retrieval.first.turn.limit"),
			FollowUpLimit:  k.Int("retrieval.followup.limit"),
		},
		Rollout: RolloutConfig{
			WindowHours:    k.Int("rollout.window.hours"),
			MinSampleSize:  k.Int("rollout.min.sample"),
			ErrorThreshold: k.Float64("rollout.error.threshold"),
		},
		Usage: UsageConfig{
			MaxRequestsPerMinute: k.Int("usage.max.requests.minute"),
			MaxTokensPerDay:      k.Int("usage.max.tokens.day"),
			MaxRequestsPerDay:    k.Int("usage.max.requests.day"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitOrigins(k.String("cors.allowed.origins")),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "promptlift"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "promptlift"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.EmbeddingModel == "" {
		cfg.LLM.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Pipeline.MaxHistory == 0 {
		cfg.Pipeline.MaxHistory = 10
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}
	if cfg.Retrieval.MinScore == 0 {
		cfg.Retrieval.MinScore = 0.5
	}
	if cfg.Retrieval.FirstTurnLimit == 0 {
		cfg.Retrieval.FirstTurnLimit = 5
	}
	if cfg.Retrieval.FollowUpLimit == 0 {
		cfg.Retrieval.FollowUpLimit = 3
	}
	if cfg.Rollout.WindowHours == 0 {
		cfg.Rollout.WindowHours = 24
	}
	if cfg.Rollout.MinSampleSize == 0 {
		cfg.Rollout.MinSampleSize = 10
	}
	if cfg.Rollout.ErrorThreshold == 0 {
		cfg.Rollout.ErrorThreshold = 0.05
	}
	if cfg.Usage.MaxRequestsPerMinute == 0 {
		cfg.Usage.MaxRequestsPerMinute = 30
	}
	if cfg.Usage.MaxTokensPerDay == 0 {
		cfg.Usage.MaxTokensPerDay = 200_000
	}
	if cfg.Usage.MaxRequestsPerDay == 0 {
		cfg.Usage.MaxRequestsPerDay = 500
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	cfg.Pipeline.ConversationTTL, err = parseDuration(k, "pipeline.conversation.ttl", "1h")
	if err != nil {
		return nil, err
	}
	cfg.Pipeline.SweepInterval, err = parseDuration(k, "pipeline.sweep.interval", "10m")
	if err != nil {
		return nil, err
	}
	cfg.Pipeline.StepTimeout, err = parseDuration(k, "pipeline.step.timeout", "30s")
	if err != nil {
		return nil, err
	}
	cfg.Pipeline.SummaryCacheTTL, err = parseDuration(k, "pipeline.summary.cache.ttl", "1h")
	if err != nil {
		return nil, err
	}
	cfg.Retrieval.EmbeddingCacheTTL, err = parseDuration(k, "retrieval.embedding.cache.ttl", "24h")
	if err != nil {
		return nil, err
	}
	cfg.Rollout.DriverInterval, err = parseDuration(k, "rollout.driver.interval", "1h")
	if err != nil {
		return nil, err
	}
	cfg.LLM.Timeout, err = parseDuration(k, "llm.timeout", "60s")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseDuration(k *koanf.Koanf, key, fallback string) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		s = fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func splitOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
