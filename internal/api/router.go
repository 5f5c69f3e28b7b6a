package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/promptlift/promptlift/internal/database"
	mw "github.com/promptlift/promptlift/internal/middleware"
	inats "github.com/promptlift/promptlift/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Prompt pipeline
	UpgradePrompt http.HandlerFunc

	// Conversation state
	GetConversation    http.HandlerFunc
	DeleteConversation http.HandlerFunc

	// Template rollout (admin)
	CreateTemplate   http.HandlerFunc
	ListTemplates    http.HandlerFunc
	GetTemplate      http.HandlerFunc
	TemplateStatus   http.HandlerFunc
	IncrementRollout http.HandlerFunc
	RollbackRollout  http.HandlerFunc

	// Usage and audit
	UsageStatus   http.HandlerFunc
	ListAuditLogs http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	UpgradeRateLimiter func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks DB and NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if natsClient != nil && !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if natsClient == nil {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1 — everything below requires a valid bearer token
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/prompts", func(r chi.Router) {
				if cfg.UpgradeRateLimiter != nil {
					r.Use(cfg.UpgradeRateLimiter)
				}
				r.Post("/upgrade", h.UpgradePrompt)
			})

			r.Route("/conversations/{conversationID}", func(r chi.Router) {
				r.Get("/", h.GetConversation)
				r.Delete("/", h.DeleteConversation)
			})

			r.Route("/templates", func(r chi.Router) {
				r.Post("/", h.CreateTemplate)
				r.Get("/", h.ListTemplates)

				r.Route("/{templateID}", func(r chi.Router) {
					r.Get("/", h.GetTemplate)
					r.Get("/status", h.TemplateStatus)
					r.Post("/increment", h.IncrementRollout)
					r.Post("/rollback", h.RollbackRollout)
				})
			})

			r.Get("/usage", h.UsageStatus)
			r.Get("/audit", h.ListAuditLogs)
		})
	})

	return r
}
