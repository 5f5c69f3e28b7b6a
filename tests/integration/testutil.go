//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/promptlift/promptlift/internal/api"
	"github.com/promptlift/promptlift/internal/audit"
	"github.com/promptlift/promptlift/internal/auth"
	"github.com/promptlift/promptlift/internal/config"
	"github.com/promptlift/promptlift/internal/conversation"
	"github.com/promptlift/promptlift/internal/embedding"
	"github.com/promptlift/promptlift/internal/llm"
	"github.com/promptlift/promptlift/internal/pipeline"
	"github.com/promptlift/promptlift/internal/retrieval"
	"github.com/promptlift/promptlift/internal/rollout"
	"github.com/promptlift/promptlift/internal/usage"
)

const embeddingDims = 1536

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Server      *httptest.Server
	JWTManager  *auth.JWTManager
	Store       *retrieval.PostgresStore
	Embedder    embedding.Embedder
	RolloutRepo *rollout.PostgresRepository
	RolloutSvc  *rollout.Service
}

var testEnv *TestEnv

// fakeCompleter answers summarization calls with plain text and upgrade
// calls (response_format json) with a canned upgrade envelope.
type fakeCompleter struct{}

func (fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if req.ResponseFormat == "json" {
		body, _ := json.Marshal(map[string]any{
			"final_prompt":      "upgraded: " + req.UserPrompt,
			"reasoning":         "expanded with available context",
			"confidence":        0.9,
			"missing_questions": []string{},
		})
		return &llm.CompletionResponse{
			Text:  string(body),
			Usage: llm.TokenUsage{PromptTokens: 80, CompletionTokens: 40, TotalTokens: 120},
		}, nil
	}
	return &llm.CompletionResponse{
		Text:  "summary of the conversation so far",
		Usage: llm.TokenUsage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40},
	}, nil
}

// fakeEmbedder produces deterministic unit-free vectors seeded by the
// text hash, good enough for cosine ordering in tests.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) (*embedding.Result, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, embeddingDims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33))/float32(1<<31) + 0.001
	}
	return &embedding.Result{Vector: vec, TokenCount: len(text) / 4}, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*embedding.Result, error) {
	results := make([]*embedding.Result, len(texts))
	for i, text := range texts {
		r, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container (pgvector build)
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:0.8.1-pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "promptlift_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/promptlift_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(
		fmt.Sprintf("file://%s", getMigrationsPath()),
		dsn,
	)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Services, wired with fake model providers
	pipelineCfg := config.PipelineConfig{
		ConversationTTL:  time.Hour,
		SweepInterval:    10 * time.Minute,
		MaxHistory:       10,
		StepTimeout:      10 * time.Second,
		RedactionEnabled: true,
		SummaryEnabled:   true,
		SummaryCacheTTL:  time.Hour,
	}
	retrievalCfg := config.RetrievalConfig{
		TopK:           10,
		MinScore:       -1, // hashed vectors score low; keep everything
		FirstTurnLimit: 5,
		FollowUpLimit:  3,
	}
	rolloutCfg := config.RolloutConfig{
		DriverInterval: time.Hour,
		WindowHours:    24,
		MinSampleSize:  10,
		ErrorThreshold: 0.05,
	}
	usageCfg := config.UsageConfig{
		MaxRequestsPerMinute: 100,
		MaxTokensPerDay:      200_000,
		MaxRequestsPerDay:    500,
	}

	convRepo := conversation.NewPostgresRepository(pool)
	convSvc := conversation.NewService(convRepo, pipelineCfg.ConversationTTL, pipelineCfg.MaxHistory)
	convHandler := conversation.NewHandler(convSvc)

	embedder := embedding.NewCachedEmbedder(fakeEmbedder{}, redisClient, time.Hour)
	knowledgeStore := retrieval.NewPostgresStore(pool)
	engine := retrieval.NewEngine(convSvc, embedder, knowledgeStore, nil, retrievalCfg)

	usageSvc := usage.NewService(usage.NewRepository(pool), usage.NewRateLimiter(redisClient), usageCfg)
	usageHandler := usage.NewHandler(usageSvc)

	rolloutRepo := rollout.NewPostgresRepository(pool)
	rolloutSvc := rollout.NewService(rolloutRepo, nil, rolloutCfg)
	rolloutHandler := rollout.NewHandler(rolloutSvc, rolloutCfg.WindowHours)
	for name, content := range pipeline.DefaultTemplates() {
		if err := rolloutSvc.EnsureBaseline(ctx, name, content); err != nil {
			t.Fatalf("seeding baseline template %s: %v", name, err)
		}
	}

	completer := fakeCompleter{}
	pipe := pipeline.New(
		convSvc,
		engine,
		pipeline.NewRegexRedactor(),
		pipeline.NewLLMSummarizer(completer, redisClient, pipelineCfg.SummaryCacheTTL),
		pipeline.NewLLMUpgrader(completer),
		rolloutSvc,
		usageSvc,
		nil,
		pipelineCfg,
	)
	pipelineHandler := pipeline.NewHandler(pipe)

	auditRepo := audit.NewRepository(pool)
	auditHandler := audit.NewHandler(auditRepo)

	jwtManager := auth.NewJWTManager("test-access-secret-32-chars-long!!", 15*time.Minute)

	router := api.NewRouter(pool, nil, api.RouterConfig{}, api.HandlerSet{
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

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Server:      server,
		JWTManager:  jwtManager,
		Store:       knowledgeStore,
		Embedder:    embedder,
		RolloutRepo: rolloutRepo,
		RolloutSvc:  rolloutSvc,
	}

	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

// AuthToken mints a signed token for a fresh user.
func AuthToken(t *testing.T, env *TestEnv, userID uuid.UUID) string {
	t.Helper()
	token, err := env.JWTManager.GenerateToken(userID.String(), "test@example.com")
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

// SeedKnowledge embeds and upserts documents for the given user.
func SeedKnowledge(t *testing.T, env *TestEnv, userID uuid.UUID, docs []retrieval.Document) {
	t.Helper()
	ctx := context.Background()

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	results, err := env.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("embedding documents: %v", err)
	}
	vectors := make([][]float32, len(results))
	for i, r := range results {
		vectors[i] = r.Vector
	}
	if err := env.Store.Upsert(ctx, userID, docs, vectors); err != nil {
		t.Fatalf("seeding knowledge: %v", err)
	}
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
