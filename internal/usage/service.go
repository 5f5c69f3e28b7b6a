package usage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/promptlift/promptlift/internal/config"
)

// QuotaError marks a request rejected for exceeding a usage limit, as
// opposed to malformed input. HTTP handlers map it to 429.
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string {
	return e.Reason
}

// Store is the durable side of usage accounting.
type Store interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*Record, error)
	IncrementDaily(ctx context.Context, userID uuid.UUID, tokens int) error
	ResetDailyIfStale(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Service combines the Redis sliding-window rate limit with PostgreSQL
// daily token and request accounting. Infrastructure failures fail open:
// a broken limiter or store must not block prompt upgrades.
type Service struct {
	store   Store
	limiter *RateLimiter
	cfg     config.UsageConfig
}

// NewService creates a usage Service.
func NewService(store Store, limiter *RateLimiter, cfg config.UsageConfig) *Service {
	return &Service{
		store:   store,
		limiter: limiter,
		cfg:     cfg,
	}
}

// CheckQuota verifies the user is under the per-minute and daily limits.
// Returns nil if allowed, or an error naming the exceeded limit.
func (s *Service) CheckQuota(ctx context.Context, userID uuid.UUID) error {
	allowed, err := s.limiter.CheckAndIncrement(ctx, userID, s.cfg.MaxRequestsPerMinute)
	if err != nil {
		slog.Warn("usage: rate limiter check failed, allowing request", "error", err)
	} else if !allowed {
		return &QuotaError{Reason: fmt.Sprintf("rate limit exceeded: max %d requests per minute", s.cfg.MaxRequestsPerMinute)}
	}

	if _, err := s.store.ResetDailyIfStale(ctx, userID); err != nil {
		slog.Warn("usage: daily reset check failed", "error", err)
	}

	rec, err := s.store.GetOrCreate(ctx, userID)
	if err != nil {
		slog.Warn("usage: fetching record failed, allowing request", "error", err)
		return nil
	}

	if rec.TokensUsedToday >= s.cfg.MaxTokensPerDay {
		return &QuotaError{Reason: fmt.Sprintf("daily token limit exceeded: %d/%d tokens used",
			rec.TokensUsedToday, s.cfg.MaxTokensPerDay)}
	}
	if rec.RequestsToday >= s.cfg.MaxRequestsPerDay {
		return &QuotaError{Reason: fmt.Sprintf("daily request limit exceeded: %d/%d requests",
			rec.RequestsToday, s.cfg.MaxRequestsPerDay)}
	}
	return nil
}

// DeductTokens records token usage after a completed pipeline run.
func (s *Service) DeductTokens(ctx context.Context, userID uuid.UUID, tokensUsed int) error {
	return s.store.IncrementDaily(ctx, userID, tokensUsed)
}

// GetStatus returns the user's current usage for API display.
func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID) (*Status, error) {
	if _, err := s.store.ResetDailyIfStale(ctx, userID); err != nil {
		slog.Warn("usage: daily reset check failed", "error", err)
	}

	rec, err := s.store.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting usage record: %w", err)
	}

	minuteUsage, err := s.limiter.MinuteUsage(ctx, userID)
	if err != nil {
		slog.Warn("usage: minute usage lookup failed", "error", err)
		minuteUsage = 0
	}

	return &Status{
		TokensUsedToday:    rec.TokensUsedToday,
		TokensLimitDay:     s.cfg.MaxTokensPerDay,
		RequestsToday:      rec.RequestsToday,
		RequestsLimitDay:   s.cfg.MaxRequestsPerDay,
		RequestsUsedMinute: minuteUsage,
		RequestsLimitMin:   s.cfg.MaxRequestsPerMinute,
	}, nil
}
