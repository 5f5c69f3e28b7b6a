package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/promptlift/promptlift/internal/api"
	"github.com/promptlift/promptlift/internal/audit"
	"github.com/promptlift/promptlift/internal/auth"
	"github.com/promptlift/promptlift/internal/config"
	"github.com/promptlift/promptlift/internal/conversation"
	"github.com/promptlift/promptlift/internal/database"
	"github.com/promptlift/promptlift/internal/embedding"
	"github.com/promptlift/promptlift/internal/llm"
	mw "github.com/promptlift/promptlift/internal/middleware"
	inats "github.com/promptlift/promptlift/internal/nats"
	"github.com/promptlift/promptlift/internal/pipeline"
	iredis "github.com/promptlift/promptlift/internal/redis"
	"github.com/promptlift/promptlift/internal/retrieval"
	"github.com/promptlift/promptlift/internal/rollout"
	"github.com/promptlift/promptlift/internal/server"
	"github.com/promptlift/promptlift/internal/usage"
)

const jwtAccessExpiry = 15 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional)
	var (
		natsClient     *inats.Client
		pipelineEvents pipeline.EventPublisher
		rolloutEvents  rollout.EventPublisher
		consumerMgr    *inats.ConsumerManager
	)
	if cfg.NATS.Enabled {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		publisher := inats.NewPublisher(natsClient.JetStream())
		pipelineEvents = publisher
		rolloutEvents = publisher
		consumerMgr = inats.NewConsumerManager(natsClient.JetStream())
	}

	// Model providers
	completer := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout)
	embedder := embedding.NewCachedEmbedder(
		embedding.NewOpenAIEmbedder(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.EmbeddingModel, cfg.LLM.Timeout),
		redisClient,
		cfg.Retrieval.EmbeddingCacheTTL,
	)

	// Conversation state
	convRepo := conversation.NewPostgresRepository(pool)
	convSvc := conversation.NewService(convRepo, cfg.Pipeline.ConversationTTL, cfg.Pipeline.MaxHistory)
	go convSvc.StartSweeper(ctx, cfg.Pipeline.SweepInterval)
	convHandler := conversation.NewHandler(convSvc)

	// Retrieval
	knowledgeStore := retrieval.NewPostgresStore(pool)
	engine := retrieval.NewEngine(convSvc, embedder, knowledgeStore, nil, cfg.Retrieval)

	// Usage quotas
	usageSvc := usage.NewService(usage.NewRepository(pool), usage.NewRateLimiter(redisClient), cfg.Usage)
	usageHandler := usage.NewHandler(usageSvc)

	// Template rollout
	rolloutRepo := rollout.NewPostgresRepository(pool)
	rolloutSvc := rollout.NewService(rolloutRepo, rolloutEvents, cfg.Rollout)
	rolloutHandler := rollout.NewHandler(rolloutSvc, cfg.Rollout.WindowHours)
	go rollout.NewDriver(rolloutSvc, rolloutRepo, cfg.Rollout).Start(ctx)

	for name, content := range pipeline.DefaultTemplates() {
		if err := rolloutSvc.EnsureBaseline(ctx, name, content); err != nil {
			slog.Error("seeding baseline template", "error", err, "template", name)
			os.Exit(1)
		}
	}

	// Prompt pipeline
	pipe := pipeline.New(
		convSvc,
		engine,
		pipeline.NewRegexRedactor(),
		pipeline.NewLLMSummarizer(completer, redisClient, cfg.Pipeline.SummaryCacheTTL),
		pipeline.NewLLMUpgrader(completer),
		rolloutSvc,
		usageSvc,
		pipelineEvents,
		cfg.Pipeline,
	)
	pipelineHandler := pipeline.NewHandler(pipe)

	// Audit trail
	auditRepo := audit.NewRepository(pool)
	auditHandler := audit.NewHandler(auditRepo)
	if consumerMgr != nil {
		auditConsumer := audit.NewConsumer(auditRepo, consumerMgr)
		go func() {
			if err := auditConsumer.Start(ctx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
	}

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, jwtAccessExpiry)

	// Router
	upgradeLimiter := mw.NewRateLimiter(redisClient, cfg.Usage.MaxRequestsPerMinute, 60)
	router := api.NewRouter(pool, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		UpgradeRateLimiter: upgradeLimiter.Middleware,
	}, api.HandlerSet{
		UpgradePrompt: pipelineHandler.Upgrade,

		GetConversation:    convHandler.Get,
		DeleteConversation: convHandler.Delete,

		CreateTemplate:   rolloutHandler.Create,
		ListTemplates:    rolloutHandler.List,
		GetTemplate:      rolloutHandler.Get,
		TemplateStatus:   rolloutHandler.Status,
		IncrementRollout: rolloutHandler.Increment,
		RollbackRollout:  rolloutHandler.Rollback,

		UsageStatus:   usageHandler.Status,
		ListAuditLogs: auditHandler.List,

		AuthMiddleware: auth.Middleware(jwtManager),
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
