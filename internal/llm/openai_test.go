package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Complete(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "upgraded prompt text"}},
			},
			"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient("sk-test", srv.URL, "gpt-4o-mini", 5*time.Second)

	resp, err := client.Complete(context.Background(), CompletionRequest{
		SystemPrompt:   "you rewrite prompts",
		UserPrompt:     "make this better",
		ResponseFormat: "json",
		MaxTokens:      1024,
		Temperature:    0.4,
	})
	require.NoError(t, err)

	assert.Equal(t, "upgraded prompt text", resp.Text)
	assert.Equal(t, 150, resp.Usage.TotalTokens)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	assert.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_object", gotReq.ResponseFormat.Type)
}

func TestOpenAIClient_OmitsSystemAndFormatWhenEmpty(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient("sk-test", srv.URL, "gpt-4o-mini", 5*time.Second)
	_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hello"})
	require.NoError(t, err)

	assert.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Nil(t, gotReq.ResponseFormat)
}

func TestOpenAIClient_APIErrors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
		}))
		defer srv.Close()

		client := NewOpenAIClient("sk-test", srv.URL, "gpt-4o-mini", 5*time.Second)
		_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("empty choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}))
		defer srv.Close()

		client := NewOpenAIClient("sk-test", srv.URL, "gpt-4o-mini", 5*time.Second)
		_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no choices")
	})
}
