package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/promptlift/promptlift/internal/config"
	"github.com/promptlift/promptlift/internal/conversation"
	"github.com/promptlift/promptlift/internal/embedding"
	"github.com/promptlift/promptlift/internal/metrics"
)

const (
	// enrichmentHistoryWindow and enrichmentPreviewLimit bound how much
	// prior context is folded into a follow-up query.
	enrichmentHistoryWindow = 2
	enrichmentPreviewLimit  = 80

	// reuseThreshold is the used-document count below which a continuation
	// message reuses existing knowledge instead of retrieving again.
	reuseThreshold = 5
)

// Result reports what a retrieval pass did, for diagnostics and accounting.
type Result struct {
	Documents         []Document `json:"documents"`
	TotalRetrieved    int        `json:"total_retrieved"`
	NewKnowledgeCount int        `json:"new_knowledge_count"`
	FilteredOutCount  int        `json:"filtered_out_count"`
	LatencyMs         int64      `json:"latency_ms"`
}

// Engine decides, turn by turn, whether retrieval is needed and runs it.
type Engine struct {
	conversations *conversation.Service
	embedder      embedding.Embedder
	store         Store
	classifier    IntentClassifier
	cfg           config.RetrievalConfig
}

// NewEngine creates a retrieval Engine.
func NewEngine(
	conversations *conversation.Service,
	embedder embedding.Embedder,
	store Store,
	classifier IntentClassifier,
	cfg config.RetrievalConfig,
) *Engine {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	return &Engine{
		conversations: conversations,
		embedder:      embedder,
		store:         store,
		classifier:    classifier,
		cfg:           cfg,
	}
}

// ShouldRetrieve reports whether this turn needs fresh knowledge.
// First turns always retrieve; clarification questions retrieve;
// continuations reuse existing knowledge while the conversation has used
// fewer than reuseThreshold documents. Anything ambiguous retrieves rather
// than silently reusing stale knowledge.
func (e *Engine) ShouldRetrieve(message string, state *conversation.State) bool {
	if state.TurnNumber == 0 {
		return true
	}
	if e.classifier.IsClarification(message) {
		return true
	}
	if e.classifier.IsContinuation(message) && len(state.UsedKnowledgeIDs) < reuseThreshold {
		return false
	}
	return true
}

// BuildEnrichedQuery biases similarity search toward the established
// context on follow-up turns without re-sending the full history.
func (e *Engine) BuildEnrichedQuery(message string, state *conversation.State) string {
	if state.TurnNumber == 0 {
		return message
	}

	var parts []string
	if state.CurrentDomain != "" {
		parts = append(parts, "Domain: "+state.CurrentDomain)
	}
	if state.CurrentTask != "" {
		parts = append(parts, "Task: "+state.CurrentTask)
	}

	history := state.MessageHistory
	if len(history) > enrichmentHistoryWindow {
		history = history[len(history)-enrichmentHistoryWindow:]
	}
	for _, msg := range history {
		parts = append(parts, "Previous: "+previewOf(msg.Content))
	}

	parts = append(parts, "Question: "+message)
	return strings.Join(parts, "\n")
}

// previewOf caps a history entry at enrichmentPreviewLimit runes. Slicing
// bytes would split multi-byte characters and feed invalid UTF-8 to the
// embedder.
func previewOf(content string) string {
	if len(content) <= enrichmentPreviewLimit {
		return content
	}
	runes := []rune(content)
	if len(runes) <= enrichmentPreviewLimit {
		return content
	}
	return string(runes[:enrichmentPreviewLimit])
}

// DetectTopicShift reports whether the message abandons the current
// conversational context. Callers clear state and reprocess the turn as a
// first turn when this returns true.
func (e *Engine) DetectTopicShift(message string) bool {
	return e.classifier.IsTopicShift(message)
}

// Retrieve embeds the enriched query, runs the similarity search, strips
// documents already surfaced in this conversation, truncates to the
// per-turn cap, and marks the selected IDs used.
//
// First turns keep up to FirstTurnLimit documents for grounding; follow-up
// turns keep at most FollowUpLimit to avoid re-explaining the same
// knowledge every turn.
func (e *Engine) Retrieve(ctx context.Context, message string, state *conversation.State) (*Result, error) {
	start := time.Now()

	query := e.BuildEnrichedQuery(message, state)
	embedded, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding retrieval query: %w", err)
	}

	candidates, err := e.store.Query(ctx, embedded.Vector, QueryOptions{
		TopK:     e.cfg.TopK,
		MinScore: e.cfg.MinScore,
		UserID:   state.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("querying vector store: %w", err)
	}

	fresh := FilterUsedDocuments(candidates, state.UsedKnowledgeIDs)
	filteredOut := len(candidates) - len(fresh)

	limit := e.cfg.FollowUpLimit
	if state.TurnNumber == 0 {
		limit = e.cfg.FirstTurnLimit
	}
	if len(fresh) > limit {
		fresh = fresh[:limit]
	}

	if len(fresh) > 0 {
		ids := make([]string, len(fresh))
		for i, doc := range fresh {
			ids[i] = doc.ID
		}
		e.conversations.MarkKnowledgeUsed(ctx, state.ConversationID, state.UserID, ids)
	}

	result := &Result{
		Documents:         fresh,
		TotalRetrieved:    len(candidates),
		NewKnowledgeCount: len(fresh),
		FilteredOutCount:  filteredOut,
		LatencyMs:         time.Since(start).Milliseconds(),
	}

	metrics.RetrievalDocuments.WithLabelValues("candidates").Observe(float64(result.TotalRetrieved))
	metrics.RetrievalDocuments.WithLabelValues("selected").Observe(float64(result.NewKnowledgeCount))

	slog.Debug("retrieval complete",
		"conversation_id", state.ConversationID,
		"candidates", result.TotalRetrieved,
		"selected", result.NewKnowledgeCount,
		"filtered_out", result.FilteredOutCount,
		"latency_ms", result.LatencyMs,
	)
	return result, nil
}
