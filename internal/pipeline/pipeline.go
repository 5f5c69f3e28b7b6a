package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptlift/promptlift/internal/config"
	"github.com/promptlift/promptlift/internal/conversation"
	"github.com/promptlift/promptlift/internal/metrics"
	inats "github.com/promptlift/promptlift/internal/nats"
	"github.com/promptlift/promptlift/internal/retrieval"
	"github.com/promptlift/promptlift/internal/rollout"
)

// fallbackReasoning is returned when the upgrade step fails and the
// pipeline substitutes the original prompt.
const fallbackReasoning = "prompt upgrade unavailable; returning original prompt"

const fallbackConfidence = 0.5

// Retriever is the slice of the retrieval engine the pipeline consumes.
type Retriever interface {
	ShouldRetrieve(message string, state *conversation.State) bool
	DetectTopicShift(message string) bool
	Retrieve(ctx context.Context, message string, state *conversation.State) (*retrieval.Result, error)
}

// TemplateResolver supplies the prompt-template version serving each
// upgrade and receives each run's outcome for canary error-rate
// accounting. A nil TemplateResolver leaves the built-in system prompts
// in place and records nothing.
type TemplateResolver interface {
	Resolve(ctx context.Context, name, userID string) (*rollout.Template, error)
	RecordRun(ctx context.Context, templateID uuid.UUID, success bool, latencyMs int, stage rollout.Stage) error
}

// QuotaService gates and accounts for usage. A nil QuotaService disables
// enforcement.
type QuotaService interface {
	CheckQuota(ctx context.Context, userID uuid.UUID) error
	DeductTokens(ctx context.Context, userID uuid.UUID, tokensUsed int) error
}

// EventPublisher receives the completion event for each run. A nil
// EventPublisher disables publishing.
type EventPublisher interface {
	PublishPipelineCompleted(ctx context.Context, event inats.PipelineCompletedEvent) error
}

// Pipeline sequences redaction, summarization, retrieval, prompt upgrade,
// and restoration, isolating failures per step. It always produces a
// usable Result; only malformed input or an exceeded quota surfaces as an
// error.
type Pipeline struct {
	conversations *conversation.Service
	retriever     Retriever
	redactor      Redactor
	summarizer    Summarizer
	upgrader      Upgrader
	templates     TemplateResolver
	quota         QuotaService
	events        EventPublisher
	cfg           config.PipelineConfig
}

// New creates a Pipeline. templates, quota, and events may be nil.
func New(
	conversations *conversation.Service,
	retriever Retriever,
	redactor Redactor,
	summarizer Summarizer,
	upgrader Upgrader,
	templates TemplateResolver,
	quota QuotaService,
	events EventPublisher,
	cfg config.PipelineConfig,
) *Pipeline {
	return &Pipeline{
		conversations: conversations,
		retriever:     retriever,
		redactor:      redactor,
		summarizer:    summarizer,
		upgrader:      upgrader,
		templates:     templates,
		quota:         quota,
		events:        events,
		cfg:           cfg,
	}
}

// Run executes one prompt-upgrade request end to end.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if strings.TrimSpace(req.UserPrompt) == "" {
		return nil, fmt.Errorf("user prompt is required")
	}
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("user identifier is required")
	}
	if req.ConversationID == uuid.Nil {
		req.ConversationID = uuid.New()
	}

	if p.quota != nil {
		if err := p.quota.CheckQuota(ctx, req.UserID); err != nil {
			metrics.PipelineRequestsTotal.WithLabelValues("quota_exceeded").Inc()
			return nil, err
		}
	}

	state := p.conversations.GetOrCreate(ctx, req.ConversationID, req.UserID)

	// A topic shift abandons the established context: clear the state and
	// reprocess this message as a first turn.
	topicShift := false
	if state.TurnNumber > 0 && p.retriever.DetectTopicShift(req.UserPrompt) {
		topicShift = true
		slog.Info("topic shift detected, resetting conversation",
			"conversation_id", req.ConversationID)
		if err := p.conversations.Clear(ctx, req.ConversationID); err != nil {
			slog.Warn("clearing conversation on topic shift", "error", err)
		}
		state = p.conversations.GetOrCreate(ctx, req.ConversationID, req.UserID)
	}
	firstTurn := p.conversations.IsFirstTurn(state)

	result := &Result{
		ConversationID: req.ConversationID,
		TopicShift:     topicShift,
	}

	// Step 1: PII redaction. A failure leaves the prompt unredacted and
	// the map empty; the request proceeds either way.
	working := req.UserPrompt
	redactionMap := RedactionMap{}
	if p.cfg.RedactionEnabled && !req.Options.SkipRedaction {
		p.runStep(ctx, result, StepRedaction, func(ctx context.Context) error {
			redacted, m, err := p.redactor.Redact(req.UserPrompt)
			if err != nil {
				return err
			}
			working = redacted
			redactionMap = m
			return nil
		})
	} else {
		p.skipStep(result, StepRedaction)
	}

	// Step 2: summarization, skipped when there is no history.
	summary := ""
	if p.cfg.SummaryEnabled && !req.Options.SkipSummary && len(state.MessageHistory) > 0 {
		p.runStep(ctx, result, StepSummary, func(ctx context.Context) error {
			s, err := p.summarizer.Summarize(ctx, state)
			if err != nil {
				return err
			}
			summary = s
			return nil
		})
	} else {
		p.skipStep(result, StepSummary)
	}

	// Step 3: retrieval via the decision engine.
	ragContext := ""
	if !req.Options.SkipRetrieval && p.retriever.ShouldRetrieve(working, state) {
		p.runStep(ctx, result, StepRetrieval, func(ctx context.Context) error {
			res, err := p.retriever.Retrieve(ctx, working, state)
			if err != nil {
				return err
			}
			result.Retrieval = res
			ragContext = formatRAGContext(res.Documents)
			return nil
		})
	} else {
		p.skipStep(result, StepRetrieval)
	}

	// Step 4: prompt upgrade. Not optional — a failure falls back to the
	// original prompt with reduced confidence instead of erroring. The
	// system prompt comes from the rollout-managed template store, so a
	// canary version serves the user buckets its stage exposes.
	tpl := p.resolveTemplate(ctx, firstTurn, req.UserID)
	systemPrompt := ""
	if tpl != nil {
		systemPrompt = tpl.Content
	}

	fallback := false
	upgradeStart := time.Now()
	ok := p.runStep(ctx, result, StepUpgrade, func(ctx context.Context) error {
		out, err := p.upgrader.Upgrade(ctx, UpgradeInput{
			Prompt:       working,
			SystemPrompt: systemPrompt,
			Summary:      summary,
			RAGContext:   ragContext,
			FirstTurn:    firstTurn,
			Role:         state.CurrentRole,
			Task:         state.CurrentTask,
			Domain:       state.CurrentDomain,
		})
		if err != nil {
			return err
		}
		result.UpgradedPrompt = out.FinalPrompt
		result.Reasoning = out.Reasoning
		result.Confidence = out.Confidence
		result.MissingQuestions = out.MissingQuestions
		result.Metrics.PromptTokens = out.Usage.PromptTokens
		result.Metrics.CompletionTokens = out.Usage.CompletionTokens
		result.Metrics.TotalTokens = out.Usage.TotalTokens
		return nil
	})
	if !ok {
		fallback = true
		result.UpgradedPrompt = req.UserPrompt
		result.Reasoning = fallbackReasoning
		result.Confidence = fallbackConfidence
	}
	result.Fallback = fallback

	if tpl != nil {
		latency := int(time.Since(upgradeStart).Milliseconds())
		if err := p.templates.RecordRun(ctx, tpl.ID, ok, latency, tpl.Stage); err != nil {
			slog.Warn("recording template run", "error", err, "template_id", tpl.ID)
		}
	}

	// Step 5: PII restoration, a no-op when step 1 produced no map or
	// step 4 fell back to the already-unredacted original.
	if len(redactionMap) > 0 && !fallback {
		p.runStep(ctx, result, StepRestoration, func(ctx context.Context) error {
			result.UpgradedPrompt = p.redactor.Restore(result.UpgradedPrompt, redactionMap)
			return nil
		})
	} else {
		p.skipStep(result, StepRestoration)
	}

	p.recordTurn(ctx, req, result, firstTurn)
	result.TurnNumber = state.TurnNumber

	result.Metrics.TotalLatencyMs = time.Since(start).Milliseconds()

	outcome := "upgraded"
	if fallback {
		outcome = "fallback"
	}
	metrics.PipelineRequestsTotal.WithLabelValues(outcome).Inc()

	if p.quota != nil && result.Metrics.TotalTokens > 0 {
		if err := p.quota.DeductTokens(ctx, req.UserID, result.Metrics.TotalTokens); err != nil {
			slog.Warn("deducting tokens", "error", err, "user_id", req.UserID)
		}
	}
	p.publishCompleted(ctx, req, result)

	slog.Info("pipeline completed",
		"conversation_id", req.ConversationID,
		"turn", result.TurnNumber,
		"fallback", fallback,
		"topic_shift", topicShift,
		"latency_ms", result.Metrics.TotalLatencyMs,
	)
	return result, nil
}

// recordTurn applies the per-turn state mutations: context extraction on
// first turns, message append, context summary refresh, turn increment.
// resolveTemplate looks up the template version serving this request.
// Resolution failures are non-fatal: the upgrade proceeds on the built-in
// system prompt and no run is recorded.
func (p *Pipeline) resolveTemplate(ctx context.Context, firstTurn bool, userID uuid.UUID) *rollout.Template {
	if p.templates == nil {
		return nil
	}
	name := FollowUpTemplateName
	if firstTurn {
		name = FirstTurnTemplateName
	}
	tpl, err := p.templates.Resolve(ctx, name, userID.String())
	if err != nil {
		slog.Warn("resolving upgrade template", "error", err, "template", name)
		return nil
	}
	return tpl
}

func (p *Pipeline) recordTurn(ctx context.Context, req Request, result *Result, firstTurn bool) {
	if firstTurn && !result.Fallback {
		patch := extractContext(result.UpgradedPrompt)
		if patch.Role != nil || patch.Task != nil || patch.Domain != nil {
			p.conversations.UpdateContext(ctx, req.ConversationID, req.UserID, patch)
		}
	}

	p.conversations.AddMessage(ctx, req.ConversationID, req.UserID, conversation.Message{
		Role:           "user",
		Content:        req.UserPrompt,
		UpgradedPrompt: result.UpgradedPrompt,
		Timestamp:      time.Now().UTC(),
	})

	if state, err := p.conversations.Get(ctx, req.ConversationID); err == nil && state != nil {
		summary := p.conversations.BuildContextSummary(state)
		if summary != "" {
			p.conversations.UpdateContext(ctx, req.ConversationID, req.UserID,
				conversation.ContextPatch{Summary: &summary})
		}
	}

	p.conversations.IncrementTurn(ctx, req.ConversationID, req.UserID)
}

// runStep executes fn with the configured step timeout and records the
// outcome. It returns false on failure; the caller decides what degraded
// continuation looks like.
func (p *Pipeline) runStep(ctx context.Context, result *Result, name string, fn func(ctx context.Context) error) bool {
	if p.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.StepTimeout)
		defer cancel()
	}

	record := StepRecord{Name: name, StartedAt: time.Now().UTC()}
	err := fn(ctx)
	record.EndedAt = time.Now().UTC()
	record.Success = err == nil

	metrics.PipelineStepDuration.WithLabelValues(name).
		Observe(record.EndedAt.Sub(record.StartedAt).Seconds())

	if err != nil {
		record.Error = err.Error()
		metrics.PipelineStepFailures.WithLabelValues(name).Inc()
		slog.Warn("pipeline step failed", "step", name, "error", err)
	}
	result.Steps = append(result.Steps, record)
	return err == nil
}

func (p *Pipeline) skipStep(result *Result, name string) {
	now := time.Now().UTC()
	result.Steps = append(result.Steps, StepRecord{
		Name:      name,
		StartedAt: now,
		EndedAt:   now,
		Success:   true,
		Skipped:   true,
	})
}

func (p *Pipeline) publishCompleted(ctx context.Context, req Request, result *Result) {
	if p.events == nil {
		return
	}
	event := inats.PipelineCompletedEvent{
		RequestID:      uuid.New().String(),
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		TurnNumber:     result.TurnNumber,
		Fallback:       result.Fallback,
		Confidence:     result.Confidence,
		TokensUsed:     result.Metrics.TotalTokens,
		TotalLatencyMs: result.Metrics.TotalLatencyMs,
		Timestamp:      time.Now().UTC(),
	}
	if result.Retrieval != nil {
		event.DocumentsUsed = result.Retrieval.NewKnowledgeCount
	}
	if err := p.events.PublishPipelineCompleted(ctx, event); err != nil {
		slog.Warn("publishing pipeline event", "error", err)
	}
}

func formatRAGContext(docs []retrieval.Document) string {
	if len(docs) == 0 {
		return ""
	}
	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = doc.Content
	}
	return strings.Join(parts, "\n---\n")
}
