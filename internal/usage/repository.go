package usage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles usage_quotas PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new usage Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreate returns the user's usage row, creating one if absent.
func (r *Repository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*Record, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO usage_quotas (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("ensuring usage record: %w", err)
	}

	var rec Record
	err = r.pool.QueryRow(ctx,
		`SELECT user_id, tokens_used_today, requests_today, last_daily_reset, updated_at
		 FROM usage_quotas WHERE user_id = $1`, userID,
	).Scan(&rec.UserID, &rec.TokensUsedToday, &rec.RequestsToday,
		&rec.LastDailyReset, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("fetching usage record: %w", err)
	}
	return &rec, nil
}

// IncrementDaily adds tokens and bumps the request count for the day.
func (r *Repository) IncrementDaily(ctx context.Context, userID uuid.UUID, tokens int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE usage_quotas
		 SET tokens_used_today = tokens_used_today + $2,
		     requests_today = requests_today + 1,
		     updated_at = NOW()
		 WHERE user_id = $1`, userID, tokens)
	if err != nil {
		return fmt.Errorf("incrementing daily usage: %w", err)
	}
	return nil
}

// ResetDailyIfStale zeroes the daily counters if the last reset was more
// than 24h ago. Returns true if a reset was performed.
func (r *Repository) ResetDailyIfStale(ctx context.Context, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE usage_quotas
		 SET tokens_used_today = 0,
		     requests_today = 0,
		     last_daily_reset = NOW(),
		     updated_at = NOW()
		 WHERE user_id = $1 AND last_daily_reset < NOW() - INTERVAL '24 hours'`, userID)
	if err != nil {
		return false, fmt.Errorf("resetting daily usage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
