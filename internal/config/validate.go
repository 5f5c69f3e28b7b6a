package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secret
	if len(c.JWT.Secret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 characters")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// LLM provider credentials
	if c.LLM.APIKey == "" {
		errs = append(errs, "LLM_API_KEY is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Retrieval bounds
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		errs = append(errs, fmt.Sprintf("RETRIEVAL_MIN_SCORE must be within [0,1], got %g", c.Retrieval.MinScore))
	}
	if c.Retrieval.FollowUpLimit > c.Retrieval.FirstTurnLimit {
		errs = append(errs, "RETRIEVAL_FOLLOWUP_LIMIT must not exceed RETRIEVAL_FIRST_TURN_LIMIT")
	}
	if c.Retrieval.TopK < c.Retrieval.FirstTurnLimit {
		errs = append(errs, "RETRIEVAL_TOPK must be at least RETRIEVAL_FIRST_TURN_LIMIT")
	}

	// Rollout bounds
	if c.Rollout.ErrorThreshold <= 0 || c.Rollout.ErrorThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("ROLLOUT_ERROR_THRESHOLD must be within (0,1), got %g", c.Rollout.ErrorThreshold))
	}
	if c.Rollout.MinSampleSize < 1 {
		errs = append(errs, "ROLLOUT_MIN_SAMPLE must be at least 1")
	}

	// Conversation TTL must outlive the sweep interval or state vanishes
	// before it can ever be reused.
	if c.Pipeline.ConversationTTL <= c.Pipeline.SweepInterval {
		errs = append(errs, "PIPELINE_CONVERSATION_TTL must be greater than PIPELINE_SWEEP_INTERVAL")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
