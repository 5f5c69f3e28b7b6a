//go:build integration

package integration

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/promptlift/promptlift/internal/retrieval"
)

func TestPromptUpgrade_MultiTurn(t *testing.T) {
	env := SetupTestEnv(t)
	userID := uuid.New()
	token := AuthToken(t, env, userID)

	SeedKnowledge(t, env, userID, []retrieval.Document{
		{ID: "doc-go-1", Content: "Go services use context.Context for cancellation."},
		{ID: "doc-go-2", Content: "Structured logging with slog is the standard library default."},
		{ID: "doc-go-3", Content: "pgx is the high-performance PostgreSQL driver for Go."},
	})

	// First turn: new conversation, full upgrade
	resp := DoRequest(t, env, "POST", "/api/v1/prompts/upgrade", map[string]any{
		"user_prompt": "You are a backend developer. Help me design a REST API in Go.",
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first turn: expected 200, got %d", resp.StatusCode)
	}
	first := ParseResponse(t, resp)["data"].(map[string]any)

	if first["upgraded_prompt"] == "" {
		t.Fatal("expected non-empty upgraded prompt")
	}
	if first["turn_number"].(float64) != 1 {
		t.Fatalf("expected turn 1, got %v", first["turn_number"])
	}
	if first["fallback"].(bool) {
		t.Fatal("first turn should not be a fallback")
	}
	conversationID := first["conversation_id"].(string)
	if _, err := uuid.Parse(conversationID); err != nil {
		t.Fatalf("invalid conversation id %q: %v", conversationID, err)
	}

	// Second turn: same conversation advances the counter
	resp = DoRequest(t, env, "POST", "/api/v1/prompts/upgrade", map[string]any{
		"user_prompt":     "Now add authentication to it.",
		"conversation_id": conversationID,
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second turn: expected 200, got %d", resp.StatusCode)
	}
	second := ParseResponse(t, resp)["data"].(map[string]any)

	if second["turn_number"].(float64) != 2 {
		t.Fatalf("expected turn 2, got %v", second["turn_number"])
	}
	if second["conversation_id"].(string) != conversationID {
		t.Fatal("conversation id changed between turns")
	}

	// Conversation state is visible and owned
	resp = DoRequest(t, env, "GET", "/api/v1/conversations/"+conversationID, nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get conversation: expected 200, got %d", resp.StatusCode)
	}
	state := ParseResponse(t, resp)["data"].(map[string]any)
	if state["turn_number"].(float64) != 2 {
		t.Fatalf("expected persisted turn 2, got %v", state["turn_number"])
	}

	// Another user cannot read it
	otherToken := AuthToken(t, env, uuid.New())
	resp = DoRequest(t, env, "GET", "/api/v1/conversations/"+conversationID, nil, otherToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user read: expected 403, got %d", resp.StatusCode)
	}

	// Delete resets the conversation
	resp = DoRequest(t, env, "DELETE", "/api/v1/conversations/"+conversationID, nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete conversation: expected 200, got %d", resp.StatusCode)
	}

	resp = DoRequest(t, env, "GET", "/api/v1/conversations/"+conversationID, nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("after delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestPromptUpgrade_PIIRoundTrip(t *testing.T) {
	env := SetupTestEnv(t)
	token := AuthToken(t, env, uuid.New())

	resp := DoRequest(t, env, "POST", "/api/v1/prompts/upgrade", map[string]any{
		"user_prompt": "Draft an email reply to alice@example.com about the invoice.",
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	data := ParseResponse(t, resp)["data"].(map[string]any)

	upgraded := data["upgraded_prompt"].(string)
	if !strings.Contains(upgraded, "alice@example.com") {
		t.Fatalf("expected restored email in upgraded prompt, got %q", upgraded)
	}
	if strings.Contains(upgraded, "[EMAIL_") {
		t.Fatalf("placeholder leaked into response: %q", upgraded)
	}
}

func TestPromptUpgrade_RequiresAuth(t *testing.T) {
	env := SetupTestEnv(t)

	resp := DoRequest(t, env, "POST", "/api/v1/prompts/upgrade", map[string]any{
		"user_prompt": "hello",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestPromptUpgrade_RecordsTemplateRun(t *testing.T) {
	env := SetupTestEnv(t)
	userID := uuid.New()
	token := AuthToken(t, env, userID)
	ctx := context.Background()

	countRuns := func() int {
		var n int
		if err := env.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM template_runs WHERE success`).Scan(&n); err != nil {
			t.Fatalf("counting template runs: %v", err)
		}
		return n
	}
	before := countRuns()

	resp := DoRequest(t, env, "POST", "/api/v1/prompts/upgrade", map[string]any{
		"user_prompt": "Viết prompt cho trợ lý lập trình.",
	}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upgrade: expected 200, got %d", resp.StatusCode)
	}

	if after := countRuns(); after <= before {
		t.Fatalf("expected a successful template run recorded, before=%d after=%d", before, after)
	}
}

func TestUsageStatus_ReflectsRuns(t *testing.T) {
	env := SetupTestEnv(t)
	userID := uuid.New()
	token := AuthToken(t, env, userID)

	resp := DoRequest(t, env, "POST", "/api/v1/prompts/upgrade", map[string]any{
		"user_prompt": "Summarize the basics of dependency injection.",
	}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upgrade: expected 200, got %d", resp.StatusCode)
	}

	resp = DoRequest(t, env, "GET", "/api/v1/usage", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("usage: expected 200, got %d", resp.StatusCode)
	}
	status := ParseResponse(t, resp)["data"].(map[string]any)
	if status["tokens_used_today"].(float64) <= 0 {
		t.Fatalf("expected token usage recorded, got %v", status["tokens_used_today"])
	}
}
