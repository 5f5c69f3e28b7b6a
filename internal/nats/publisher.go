package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishPipelineCompleted publishes the outcome of a prompt-upgrade run.
func (p *Publisher) PublishPipelineCompleted(ctx context.Context, event PipelineCompletedEvent) error {
	return p.publish(ctx, SubjectPipelineCompleted, event)
}

// PublishRolloutTransition publishes a rollout stage change.
func (p *Publisher) PublishRolloutTransition(ctx context.Context, event RolloutTransitionEvent) error {
	return p.publish(ctx, SubjectRolloutTransition, event)
}

// PublishAuditEvent publishes an audit event.
func (p *Publisher) PublishAuditEvent(ctx context.Context, event AuditEvent) error {
	return p.publish(ctx, SubjectAuditEvent, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
