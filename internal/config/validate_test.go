package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "promptlift", Password: "secret", Name: "promptlift"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		JWT:    JWTConfig{Secret: strings.Repeat("s", 32)},
		LLM:    LLMConfig{APIKey: "sk-test"},
		Pipeline: PipelineConfig{
			ConversationTTL: time.Hour,
			SweepInterval:   10 * time.Minute,
			MaxHistory:      10,
		},
		Retrieval: RetrievalConfig{TopK: 10, MinScore: 0.5, FirstTurnLimit: 5, FollowUpLimit: 3},
		Rollout:   RolloutConfig{WindowHours: 24, MinSampleSize: 10, ErrorThreshold: 0.05},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_ShortJWTSecret(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.Secret = "short"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidate_MissingLLMAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.APIKey = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_API_KEY")
}

func TestValidate_MissingDBPassword(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestValidate_BadPorts(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Redis.Port = 70000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
	assert.Contains(t, err.Error(), "REDIS_PORT")
}

func TestValidate_RetrievalBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Retrieval.MinScore = 1.5
	cfg.Retrieval.FollowUpLimit = 8
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RETRIEVAL_MIN_SCORE")
	assert.Contains(t, err.Error(), "RETRIEVAL_FOLLOWUP_LIMIT")
}

func TestValidate_RolloutThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Rollout.ErrorThreshold = 1.0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROLLOUT_ERROR_THRESHOLD")
}

func TestValidate_TTLMustOutliveSweep(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.ConversationTTL = 5 * time.Minute
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PIPELINE_CONVERSATION_TTL")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.Secret = ""
	cfg.DB.Password = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}
