package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlift/promptlift/internal/config"
	"github.com/promptlift/promptlift/internal/conversation"
	"github.com/promptlift/promptlift/internal/embedding"
)

type stubEmbedder struct {
	lastText string
	fail     bool
}

func (e *stubEmbedder) Embed(_ context.Context, text string) (*embedding.Result, error) {
	if e.fail {
		return nil, errors.New("embedder down")
	}
	e.lastText = text
	return &embedding.Result{Vector: []float32{0.1, 0.2}, TokenCount: len(text)}, nil
}

func (e *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([]*embedding.Result, error) {
	results := make([]*embedding.Result, len(texts))
	for i := range texts {
		r, err := e.Embed(context.Background(), texts[i])
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

type stubStore struct {
	docs []Document
	fail bool
}

func (s *stubStore) Upsert(context.Context, uuid.UUID, []Document, [][]float32) error { return nil }
func (s *stubStore) Delete(context.Context, []string) error                           { return nil }
func (s *stubStore) Fetch(context.Context, []string) (map[string]Document, error)     { return nil, nil }

func (s *stubStore) Query(_ context.Context, _ []float32, opts QueryOptions) ([]Document, error) {
	if s.fail {
		return nil, errors.New("vector store down")
	}
	docs := s.docs
	if len(docs) > opts.TopK {
		docs = docs[:opts.TopK]
	}
	return docs, nil
}

func testConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		TopK:           10,
		MinScore:       0.5,
		FirstTurnLimit: 5,
		FollowUpLimit:  3,
	}
}

func makeDocs(n int) []Document {
	docs := make([]Document, n)
	for i := range docs {
		docs[i] = Document{
			ID:      fmt.Sprintf("doc-%d", i),
			Content: fmt.Sprintf("content %d", i),
			Score:   1 - float64(i)*0.05,
		}
	}
	return docs
}

func newTestEngine(t *testing.T, docs []Document) (*Engine, *conversation.Service, *stubEmbedder, *stubStore) {
	t.Helper()
	conversations := conversation.NewService(nil, time.Hour, 10)
	embedder := &stubEmbedder{}
	store := &stubStore{docs: docs}
	engine := NewEngine(conversations, embedder, store, NewKeywordClassifier(), testConfig())
	return engine, conversations, embedder, store
}

func firstTurnState(conversations *conversation.Service) *conversation.State {
	return conversations.GetOrCreate(context.Background(), uuid.New(), uuid.New())
}

func followUpState(conversations *conversation.Service) *conversation.State {
	ctx := context.Background()
	state := firstTurnState(conversations)
	conversations.IncrementTurn(ctx, state.ConversationID, state.UserID)
	return state
}

func TestShouldRetrieve_AlwaysOnFirstTurn(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, nil)
	state := firstTurnState(conversations)

	assert.True(t, engine.ShouldRetrieve("và tiếp theo", state))
	assert.True(t, engine.ShouldRetrieve("anything at all", state))
}

func TestShouldRetrieve_ClarificationAlwaysRetrieves(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, nil)
	state := followUpState(conversations)

	assert.True(t, engine.ShouldRetrieve("JWT là gì?", state))
	assert.True(t, engine.ShouldRetrieve("explain the middleware ordering", state))
	assert.True(t, engine.ShouldRetrieve("tại sao cần refresh token?", state))
}

func TestShouldRetrieve_ContinuationReusesKnowledge(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, nil)
	state := followUpState(conversations)
	ctx := context.Background()

	conversations.MarkKnowledgeUsed(ctx, state.ConversationID, state.UserID, []string{"a", "b"})

	assert.False(t, engine.ShouldRetrieve("và thêm validation nữa", state))
	assert.False(t, engine.ShouldRetrieve("then add some tests", state))
}

func TestShouldRetrieve_ContinuationWithManyUsedDocsRetrieves(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, nil)
	state := followUpState(conversations)
	ctx := context.Background()

	conversations.MarkKnowledgeUsed(ctx, state.ConversationID, state.UserID,
		[]string{"a", "b", "c", "d", "e"})

	assert.True(t, engine.ShouldRetrieve("then add some tests", state))
}

func TestShouldRetrieve_DefaultsToRetrieving(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, nil)
	state := followUpState(conversations)

	assert.True(t, engine.ShouldRetrieve("deploy it to kubernetes", state))
}

func TestBuildEnrichedQuery_FirstTurnIsRaw(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, nil)
	state := firstTurnState(conversations)

	q := engine.BuildEnrichedQuery("Tôi cần tạo REST API với Node.js", state)
	assert.Equal(t, "Tôi cần tạo REST API với Node.js", q)
}

func TestBuildEnrichedQuery_FollowUpCarriesContext(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, nil)
	state := followUpState(conversations)
	ctx := context.Background()

	domain, task := "web development", "build a REST API"
	conversations.UpdateContext(ctx, state.ConversationID, state.UserID,
		conversation.ContextPatch{Domain: &domain, Task: &task})
	for i := 0; i < 4; i++ {
		conversations.AddMessage(ctx, state.ConversationID, state.UserID, conversation.Message{
			Role:    "user",
			Content: fmt.Sprintf("history-%d", i),
		})
	}

	q := engine.BuildEnrichedQuery("Làm sao thêm JWT authentication?", state)

	assert.Contains(t, q, "Domain: web development")
	assert.Contains(t, q, "Task: build a REST API")
	// only the last two history entries
	assert.NotContains(t, q, "history-1")
	assert.Contains(t, q, "history-2")
	assert.Contains(t, q, "history-3")
	// the literal question comes last
	assert.True(t, len(q) > 0 && q[len(q)-1] == '?')
	assert.Contains(t, q, "Question: Làm sao thêm JWT authentication?")
}

func TestBuildEnrichedQuery_TruncatesHistoryPreviews(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, nil)
	state := followUpState(conversations)
	ctx := context.Background()

	long := ""
	for i := 0; i < 30; i++ {
		long += "0123456789"
	}
	conversations.AddMessage(ctx, state.ConversationID, state.UserID, conversation.Message{Role: "user", Content: long})

	q := engine.BuildEnrichedQuery("next?", state)
	assert.Contains(t, q, "Previous: "+long[:80])
	assert.NotContains(t, q, long[:81])
}

func TestBuildEnrichedQuery_PreviewKeepsRunesIntact(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, nil)
	state := followUpState(conversations)
	ctx := context.Background()

	// multi-byte Vietnamese straddling the 80-rune cap
	content := strings.Repeat("b", 79) + "ồ nữa nhé"
	conversations.AddMessage(ctx, state.ConversationID, state.UserID, conversation.Message{Role: "user", Content: content})

	q := engine.BuildEnrichedQuery("tiếp theo thì sao?", state)
	assert.True(t, utf8.ValidString(q))
	assert.Contains(t, q, "Previous: "+strings.Repeat("b", 79)+"ồ")
	assert.NotContains(t, q, "nữa")
}

func TestDetectTopicShift(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, nil)

	assert.True(t, engine.DetectTopicShift("Chủ đề mới: Làm machine learning model"))
	assert.True(t, engine.DetectTopicShift("ok forget that, let's start over"))
	assert.True(t, engine.DetectTopicShift("switch to database design"))
	assert.False(t, engine.DetectTopicShift("Làm sao thêm JWT authentication?"))
}

func TestRetrieve_FirstTurnCappedAtFive(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, makeDocs(10))
	state := firstTurnState(conversations)

	result, err := engine.Retrieve(context.Background(), "REST API với Node.js", state)
	require.NoError(t, err)

	assert.Len(t, result.Documents, 5)
	assert.Equal(t, 10, result.TotalRetrieved)
	assert.Equal(t, 5, result.NewKnowledgeCount)
	assert.Zero(t, result.FilteredOutCount)
}

func TestRetrieve_FollowUpCappedAtThree(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, makeDocs(10))
	state := followUpState(conversations)

	result, err := engine.Retrieve(context.Background(), "thêm JWT authentication", state)
	require.NoError(t, err)

	assert.Len(t, result.Documents, 3)
}

func TestRetrieve_FiltersUsedDocumentsAndMarksNew(t *testing.T) {
	engine, conversations, _, _ := newTestEngine(t, makeDocs(10))
	ctx := context.Background()

	state := firstTurnState(conversations)
	first, err := engine.Retrieve(ctx, "turn one", state)
	require.NoError(t, err)
	require.Len(t, first.Documents, 5)

	conversations.IncrementTurn(ctx, state.ConversationID, state.UserID)

	second, err := engine.Retrieve(ctx, "turn two", state)
	require.NoError(t, err)
	assert.Equal(t, 5, second.FilteredOutCount)
	require.Len(t, second.Documents, 3)

	// no overlap between turns
	seen := make(map[string]bool)
	for _, d := range first.Documents {
		seen[d.ID] = true
	}
	for _, d := range second.Documents {
		assert.False(t, seen[d.ID], "document %s surfaced twice", d.ID)
	}

	assert.Len(t, state.UsedKnowledgeIDs, 8)
}

func TestRetrieve_UsesEnrichedQueryOnFollowUp(t *testing.T) {
	engine, conversations, embedder, _ := newTestEngine(t, makeDocs(3))
	state := followUpState(conversations)
	ctx := context.Background()

	domain := "machine learning"
	conversations.UpdateContext(ctx, state.ConversationID, state.UserID, conversation.ContextPatch{Domain: &domain})

	_, err := engine.Retrieve(ctx, "train the model", state)
	require.NoError(t, err)
	assert.Contains(t, embedder.lastText, "Domain: machine learning")
}

func TestRetrieve_PropagatesStoreError(t *testing.T) {
	engine, conversations, _, store := newTestEngine(t, makeDocs(3))
	store.fail = true
	state := firstTurnState(conversations)

	_, err := engine.Retrieve(context.Background(), "anything", state)
	assert.Error(t, err)
}

func TestFilterUsedDocuments_PureAndOrderPreserving(t *testing.T) {
	docs := makeDocs(5)
	used := map[string]struct{}{"doc-1": {}, "doc-3": {}}

	once := FilterUsedDocuments(docs, used)
	twice := FilterUsedDocuments(docs, used)

	require.Len(t, once, 3)
	assert.Equal(t, "doc-0", once[0].ID)
	assert.Equal(t, "doc-2", once[1].ID)
	assert.Equal(t, "doc-4", once[2].ID)
	assert.Equal(t, once, twice)
	// input untouched
	assert.Len(t, docs, 5)
}

func TestKeywordClassifier_Bilingual(t *testing.T) {
	c := NewKeywordClassifier()

	assert.True(t, c.IsClarification("What is dependency injection?"))
	assert.True(t, c.IsClarification("Middleware là gì?"))
	assert.True(t, c.IsContinuation("và thêm logging"))
	assert.True(t, c.IsContinuation("then wire the router"))
	assert.True(t, c.IsTopicShift("bắt đầu lại từ đầu"))
	assert.True(t, c.IsTopicShift("new topic: infrastructure"))
	assert.False(t, c.IsTopicShift("add a new endpoint"))
}
