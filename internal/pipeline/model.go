package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/promptlift/promptlift/internal/retrieval"
)

// Step names, in execution order.
const (
	StepRedaction   = "pii_redaction"
	StepSummary     = "summarization"
	StepRetrieval   = "retrieval"
	StepUpgrade     = "prompt_upgrade"
	StepRestoration = "pii_restoration"
)

// Request is one prompt-upgrade invocation.
type Request struct {
	UserPrompt     string    `json:"user_prompt" validate:"required,min=1,max=8000"`
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Options        Options   `json:"options"`
}

// Options toggles the optional pipeline steps per request. Zero value
// means "run everything the server is configured to run".
type Options struct {
	SkipRedaction bool `json:"skip_redaction"`
	SkipSummary   bool `json:"skip_summary"`
	SkipRetrieval bool `json:"skip_retrieval"`
}

// StepRecord captures one pipeline step's execution for observability.
// Records are informational; correctness never depends on them.
type StepRecord struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Success   bool      `json:"success"`
	Skipped   bool      `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Metrics aggregates the run's cost and latency.
type Metrics struct {
	TotalLatencyMs   int64 `json:"total_latency_ms"`
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
}

// Result is the pipeline's contract with callers: UpgradedPrompt is always
// populated (worst case the original prompt), Confidence is in [0,1].
type Result struct {
	UpgradedPrompt   string            `json:"upgraded_prompt"`
	Reasoning        string            `json:"reasoning"`
	Confidence       float64           `json:"confidence"`
	MissingQuestions []string          `json:"missing_questions,omitempty"`
	ConversationID   uuid.UUID         `json:"conversation_id"`
	TurnNumber       int               `json:"turn_number"`
	TopicShift       bool              `json:"topic_shift"`
	Fallback         bool              `json:"fallback"`
	Retrieval        *retrieval.Result `json:"retrieval,omitempty"`
	Steps            []StepRecord      `json:"steps"`
	Metrics          Metrics           `json:"metrics"`
}
