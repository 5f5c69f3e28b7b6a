package llm

import "context"

// CompletionRequest describes a single completion call to the model provider.
type CompletionRequest struct {
	SystemPrompt   string
	UserPrompt     string
	ResponseFormat string // "json" or "text"
	MaxTokens      int
	Temperature    float64
}

// TokenUsage reports prompt and completion token counts for accounting.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the raw provider response text plus usage.
type CompletionResponse struct {
	Text  string
	Usage TokenUsage
}

// Completer is the narrow interface the pipeline uses for LLM calls.
// Concrete providers (OpenAI, Anthropic, Cloudflare) live outside this
// service and are injected at wiring time.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
