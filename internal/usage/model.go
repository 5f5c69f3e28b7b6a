package usage

import (
	"time"

	"github.com/google/uuid"
)

// Record matches the usage_quotas table schema: per-user daily token and
// request counters for the prompt-upgrade pipeline.
type Record struct {
	UserID          uuid.UUID `json:"user_id"`
	TokensUsedToday int       `json:"tokens_used_today"`
	RequestsToday   int       `json:"requests_today"`
	LastDailyReset  time.Time `json:"last_daily_reset"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Status is the API view of current usage against configured limits.
type Status struct {
	TokensUsedToday    int `json:"tokens_used_today"`
	TokensLimitDay     int `json:"tokens_limit_day"`
	RequestsToday      int `json:"requests_today"`
	RequestsLimitDay   int `json:"requests_limit_day"`
	RequestsUsedMinute int `json:"requests_used_minute"`
	RequestsLimitMin   int `json:"requests_limit_minute"`
}
