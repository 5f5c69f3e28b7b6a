package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/promptlift/promptlift/internal/nats"
)

func TestEntryFromPipeline_Success(t *testing.T) {
	userID := uuid.New()
	conversationID := uuid.New()

	entry := entryFromPipeline(inats.PipelineCompletedEvent{
		ConversationID: conversationID,
		UserID:         userID,
		TurnNumber:     3,
		Confidence:     0.85,
		TokensUsed:     240,
		DocumentsUsed:  2,
		TotalLatencyMs: 1200,
		Timestamp:      time.Now().UTC(),
	})

	assert.Equal(t, "pipeline_completed", entry.EventType)
	assert.Equal(t, "info", entry.Severity)
	assert.Equal(t, userID, entry.UserID)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, conversationID, *entry.ResourceID)

	var details map[string]any
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.Equal(t, float64(240), details["tokens_used"])
	assert.Equal(t, float64(3), details["turn_number"])
}

func TestEntryFromPipeline_FallbackIsWarn(t *testing.T) {
	entry := entryFromPipeline(inats.PipelineCompletedEvent{
		UserID:    uuid.New(),
		Fallback:  true,
		Timestamp: time.Now().UTC(),
	})

	assert.Equal(t, "pipeline_fallback", entry.EventType)
	assert.Equal(t, "warn", entry.Severity)
}

func TestEntryFromRollout(t *testing.T) {
	templateID := uuid.New()

	advance := entryFromRollout(inats.RolloutTransitionEvent{
		TemplateID: templateID,
		Name:       "upgrade-prompt",
		Version:    2,
		FromStage:  "CANARY_25",
		ToStage:    "CANARY_50",
		Direction:  "advance",
		Timestamp:  time.Now().UTC(),
	})
	assert.Equal(t, "rollout_advance", advance.EventType)
	assert.Equal(t, "info", advance.Severity)
	require.NotNil(t, advance.ResourceID)
	assert.Equal(t, templateID, *advance.ResourceID)

	rollback := entryFromRollout(inats.RolloutTransitionEvent{
		TemplateID: templateID,
		Direction:  "rollback",
		Timestamp:  time.Now().UTC(),
	})
	assert.Equal(t, "rollout_rollback", rollback.EventType)
	assert.Equal(t, "warn", rollback.Severity)
}

func TestEntryFromAudit_ValidResourceID(t *testing.T) {
	resourceID := uuid.New()
	entry := entryFromAudit(inats.AuditEvent{
		UserID:       uuid.New(),
		EventType:    "conversation_cleared",
		Severity:     "info",
		ResourceType: "conversation",
		ResourceID:   resourceID.String(),
		Details:      "cleared on topic shift",
		Timestamp:    time.Now().UTC(),
	})

	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, resourceID, *entry.ResourceID)

	var details map[string]string
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.Equal(t, "cleared on topic shift", details["message"])
}

func TestEntryFromAudit_InvalidResourceIDDropped(t *testing.T) {
	entry := entryFromAudit(inats.AuditEvent{
		UserID:     uuid.New(),
		EventType:  "custom_event",
		Severity:   "warn",
		ResourceID: "not-a-uuid",
		Timestamp:  time.Now().UTC(),
	})
	assert.Nil(t, entry.ResourceID)
}

func TestEntryFromMessage_DispatchesOnSubject(t *testing.T) {
	pipelineData, err := json.Marshal(inats.PipelineCompletedEvent{UserID: uuid.New()})
	require.NoError(t, err)
	entry, err := entryFromMessage(inats.SubjectPipelineCompleted, pipelineData)
	require.NoError(t, err)
	assert.Equal(t, "pipeline_completed", entry.EventType)

	rolloutData, err := json.Marshal(inats.RolloutTransitionEvent{Direction: "advance"})
	require.NoError(t, err)
	entry, err = entryFromMessage(inats.SubjectRolloutTransition, rolloutData)
	require.NoError(t, err)
	assert.Equal(t, "rollout_advance", entry.EventType)

	_, err = entryFromMessage(inats.SubjectAuditEvent, []byte("{not json"))
	assert.Error(t, err)
}
