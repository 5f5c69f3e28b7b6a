package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "PROMPTLIFT_EVENTS"
)

// Subject constants.
const (
	SubjectPipelineCompleted = "promptlift.events.pipeline.completed"
	SubjectRolloutTransition = "promptlift.events.rollout.transition"
	SubjectAuditEvent        = "promptlift.events.audit"
)

// PipelineCompletedEvent is published after every prompt-upgrade run,
// successful or degraded, for downstream accounting and audit.
type PipelineCompletedEvent struct {
	RequestID      string    `json:"request_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	TurnNumber     int       `json:"turn_number"`
	Fallback       bool      `json:"fallback"`
	Confidence     float64   `json:"confidence"`
	TokensUsed     int       `json:"tokens_used"`
	DocumentsUsed  int       `json:"documents_used"`
	TotalLatencyMs int64     `json:"total_latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// RolloutTransitionEvent is published when a template moves between
// rollout stages, in either direction.
type RolloutTransitionEvent struct {
	TemplateID uuid.UUID `json:"template_id"`
	Name       string    `json:"name"`
	Version    int       `json:"version"`
	FromStage  string    `json:"from_stage"`
	ToStage    string    `json:"to_stage"`
	Direction  string    `json:"direction"` // advance, rollback
	ErrorRate  float64   `json:"error_rate"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuditEvent is published for compliance/audit logging.
type AuditEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	EventType    string    `json:"event_type"`
	Severity     string    `json:"severity"` // info, warn, error
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      string    `json:"details"`
	Timestamp    time.Time `json:"timestamp"`
}
