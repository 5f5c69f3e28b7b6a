package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/promptlift/promptlift/internal/nats"
)

// Consumer listens on the event stream and persists one audit entry per
// pipeline run, rollout transition, and explicit audit event.
type Consumer struct {
	repo        *Repository
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new audit Consumer.
func NewConsumer(repo *Repository, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, "audit-persister", "promptlift.events.>")
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", "audit-persister")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	entry, err := entryFromMessage(msg.Subject(), msg.Data())
	if err != nil {
		slog.Error("audit consumer: decoding event", "error", err, "subject", msg.Subject())
		_ = msg.Nak()
		return
	}

	if err := c.repo.Insert(ctx, entry); err != nil {
		slog.Error("audit consumer: persisting entry", "error", err, "event_type", entry.EventType)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()

	slog.Debug("audit consumer: persisted event",
		"event_type", entry.EventType, "user_id", entry.UserID)
}

func entryFromMessage(subject string, data []byte) (*Entry, error) {
	switch subject {
	case inats.SubjectPipelineCompleted:
		var event inats.PipelineCompletedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return entryFromPipeline(event), nil
	case inats.SubjectRolloutTransition:
		var event inats.RolloutTransitionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return entryFromRollout(event), nil
	default:
		var event inats.AuditEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return entryFromAudit(event), nil
	}
}

func entryFromPipeline(event inats.PipelineCompletedEvent) *Entry {
	severity := "info"
	eventType := "pipeline_completed"
	if event.Fallback {
		severity = "warn"
		eventType = "pipeline_fallback"
	}

	details, _ := json.Marshal(map[string]any{
		"turn_number":      event.TurnNumber,
		"confidence":       event.Confidence,
		"tokens_used":      event.TokensUsed,
		"documents_used":   event.DocumentsUsed,
		"total_latency_ms": event.TotalLatencyMs,
	})

	return &Entry{
		ID:           uuid.New(),
		UserID:       event.UserID,
		EventType:    eventType,
		Severity:     severity,
		ResourceType: "conversation",
		ResourceID:   &event.ConversationID,
		Details:      details,
		CreatedAt:    event.Timestamp,
	}
}

func entryFromRollout(event inats.RolloutTransitionEvent) *Entry {
	severity := "info"
	if event.Direction == "rollback" {
		severity = "warn"
	}

	details, _ := json.Marshal(map[string]any{
		"name":       event.Name,
		"version":    event.Version,
		"from_stage": event.FromStage,
		"to_stage":   event.ToStage,
		"error_rate": event.ErrorRate,
	})

	return &Entry{
		ID:           uuid.New(),
		EventType:    "rollout_" + event.Direction,
		Severity:     severity,
		ResourceType: "prompt_template",
		ResourceID:   &event.TemplateID,
		Details:      details,
		CreatedAt:    event.Timestamp,
	}
}

func entryFromAudit(event inats.AuditEvent) *Entry {
	entry := &Entry{
		ID:           uuid.New(),
		UserID:       event.UserID,
		EventType:    event.EventType,
		Severity:     event.Severity,
		ResourceType: event.ResourceType,
		CreatedAt:    event.Timestamp,
	}

	// ResourceID may be a non-UUID string; drop it on parse failure
	if event.ResourceID != "" {
		if parsed, err := uuid.Parse(event.ResourceID); err == nil {
			entry.ResourceID = &parsed
		}
	}

	details, _ := json.Marshal(map[string]string{"message": event.Details})
	entry.Details = details
	return entry
}
