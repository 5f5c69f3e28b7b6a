package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/promptlift/promptlift/internal/conversation"
	"github.com/promptlift/promptlift/internal/llm"
)

const summarySystemPrompt = `You summarize conversations. Given the prior turns of a conversation, produce a compact summary (3 sentences maximum) of what has been established: the user's goal, decisions made, and open threads. Reply with the summary text only.`

// Summarizer condenses prior conversation turns into a short text block
// for the upgrade step.
type Summarizer interface {
	Summarize(ctx context.Context, state *conversation.State) (string, error)
}

// LLMSummarizer asks the completion provider for a summary and memoizes
// the result in Redis keyed by a hash of the history content, so repeated
// turns over an unchanged prefix do not pay for the same summary twice.
// A nil Redis client degrades to always-recompute.
type LLMSummarizer struct {
	completer llm.Completer
	rdb       redis.Cmdable
	ttl       time.Duration
}

// NewLLMSummarizer creates a Summarizer backed by the given provider.
func NewLLMSummarizer(completer llm.Completer, rdb redis.Cmdable, ttl time.Duration) *LLMSummarizer {
	return &LLMSummarizer{completer: completer, rdb: rdb, ttl: ttl}
}

// Summarize returns "" without calling the provider when the conversation
// has no history yet.
func (s *LLMSummarizer) Summarize(ctx context.Context, state *conversation.State) (string, error) {
	if len(state.MessageHistory) == 0 {
		return "", nil
	}

	var transcript strings.Builder
	for _, msg := range state.MessageHistory {
		transcript.WriteString(msg.Role)
		transcript.WriteString(": ")
		transcript.WriteString(msg.Content)
		transcript.WriteString("\n")
	}

	key := summaryCacheKey(transcript.String())
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, key).Result()
		if err == nil {
			return cached, nil
		}
		if err != redis.Nil {
			slog.Warn("summary cache read failed", "error", err)
		}
	}

	resp, err := s.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarySystemPrompt,
		UserPrompt:   transcript.String(),
		MaxTokens:    200,
		Temperature:  0.2,
	})
	if err != nil {
		return "", fmt.Errorf("summarizing conversation: %w", err)
	}
	summary := strings.TrimSpace(resp.Text)

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, key, summary, s.ttl).Err(); err != nil {
			slog.Warn("summary cache write failed", "error", err)
		}
	}
	return summary, nil
}

func summaryCacheKey(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return "summary:" + hex.EncodeToString(sum[:])
}
