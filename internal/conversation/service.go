package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

const (
	// summaryHistoryWindow and summaryEntryLimit bound the context summary
	// so follow-up prompts stay cheap.
	summaryHistoryWindow = 5
	summaryEntryLimit    = 100
)

// Service owns per-conversation turn state: get-or-create, mutation, and
// expiry. A go-cache TTL map is the authoritative in-process view; durable
// writes are fire-and-forget mirrors.
type Service struct {
	repo       Repository
	cache      *gocache.Cache
	ttl        time.Duration
	maxHistory int

	locks sync.Map // conversationID string -> *sync.Mutex

	now func() time.Time
}

// NewService creates a conversation Service. repo may be nil, in which case
// state is memory-only for the process lifetime.
func NewService(repo Repository, ttl time.Duration, maxHistory int) *Service {
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &Service{
		repo: repo,
		// Sweeping is owned by StartSweeper, so the janitor is disabled.
		cache:      gocache.New(ttl, 0),
		ttl:        ttl,
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

func (s *Service) lock(conversationID uuid.UUID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(conversationID.String(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// GetOrCreate returns the live state for a conversation, loading it from
// durable storage or creating a fresh zero-turn state. Storage errors never
// fail the call: the returned state simply lives in memory only.
func (s *Service) GetOrCreate(ctx context.Context, conversationID, userID uuid.UUID) *State {
	mu := s.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()
	return s.getOrCreateLocked(ctx, conversationID, userID)
}

func (s *Service) getOrCreateLocked(ctx context.Context, conversationID, userID uuid.UUID) *State {
	now := s.now()

	if cached, ok := s.cache.Get(conversationID.String()); ok {
		state := cached.(*State)
		if state.ExpiresAt.After(now) {
			return state
		}
		s.cache.Delete(conversationID.String())
	}

	if s.repo != nil {
		state, err := s.repo.Get(ctx, conversationID)
		if err != nil {
			slog.Warn("conversation: durable load failed, continuing in-memory", "error", err, "conversation_id", conversationID)
		} else if state != nil && state.ExpiresAt.After(now) {
			s.cache.Set(conversationID.String(), state, s.ttl)
			return state
		}
	}

	state := &State{
		ConversationID:   conversationID,
		UserID:           userID,
		TurnNumber:       0,
		UsedKnowledgeIDs: make(map[string]struct{}),
		LastActivity:     now,
		ExpiresAt:        now.Add(s.ttl),
	}
	s.cache.Set(conversationID.String(), state, s.ttl)
	s.persist(state)
	return state
}

// Get returns the current state, or nil if the conversation is unknown or
// expired. Unlike GetOrCreate it never creates state.
func (s *Service) Get(ctx context.Context, conversationID uuid.UUID) (*State, error) {
	if cached, ok := s.cache.Get(conversationID.String()); ok {
		state := cached.(*State)
		if state.ExpiresAt.After(s.now()) {
			return state, nil
		}
		return nil, nil
	}
	if s.repo == nil {
		return nil, nil
	}
	state, err := s.repo.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if state == nil || !state.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return state, nil
}

// IsFirstTurn reports whether the conversation has not yet completed a turn.
func (s *Service) IsFirstTurn(state *State) bool {
	return state.TurnNumber == 0
}

// IncrementTurn advances the turn counter and refreshes activity.
func (s *Service) IncrementTurn(ctx context.Context, conversationID, userID uuid.UUID) {
	s.mutate(ctx, conversationID, userID, func(state *State) {
		state.TurnNumber++
	})
}

// AddMessage appends a message to the history, truncated to the newest
// maxHistory entries.
func (s *Service) AddMessage(ctx context.Context, conversationID, userID uuid.UUID, msg Message) {
	s.mutate(ctx, conversationID, userID, func(state *State) {
		state.MessageHistory = append(state.MessageHistory, msg)
		if len(state.MessageHistory) > s.maxHistory {
			state.MessageHistory = state.MessageHistory[len(state.MessageHistory)-s.maxHistory:]
		}
	})
}

// MarkKnowledgeUsed unions ids into the conversation's used-knowledge set.
func (s *Service) MarkKnowledgeUsed(ctx context.Context, conversationID, userID uuid.UUID, ids []string) {
	if len(ids) == 0 {
		return
	}
	s.mutate(ctx, conversationID, userID, func(state *State) {
		for _, id := range ids {
			state.UsedKnowledgeIDs[id] = struct{}{}
		}
	})
}

// UpdateContext merges non-nil patch fields into the state.
func (s *Service) UpdateContext(ctx context.Context, conversationID, userID uuid.UUID, patch ContextPatch) {
	s.mutate(ctx, conversationID, userID, func(state *State) {
		if patch.Role != nil {
			state.CurrentRole = *patch.Role
		}
		if patch.Task != nil {
			state.CurrentTask = *patch.Task
		}
		if patch.Domain != nil {
			state.CurrentDomain = *patch.Domain
		}
		if patch.Summary != nil {
			state.ContextSummary = *patch.Summary
		}
	})
}

// mutate runs fn against the live state under the per-conversation lock,
// refreshes the TTL, and mirrors the result to durable storage without
// blocking the caller on the write.
func (s *Service) mutate(ctx context.Context, conversationID, userID uuid.UUID, fn func(*State)) {
	mu := s.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	state := s.getOrCreateLocked(ctx, conversationID, userID)
	fn(state)
	state.LastActivity = s.now()
	state.ExpiresAt = state.LastActivity.Add(s.ttl)
	s.cache.Set(conversationID.String(), state, s.ttl)
	s.persist(state)
}

// persist mirrors state to the durable store. Errors are logged and
// swallowed; the in-memory copy stays authoritative.
func (s *Service) persist(state *State) {
	if s.repo == nil {
		return
	}
	snapshot := *state
	snapshot.MessageHistory = append([]Message(nil), state.MessageHistory...)
	snapshot.UsedKnowledgeIDs = make(map[string]struct{}, len(state.UsedKnowledgeIDs))
	for id := range state.UsedKnowledgeIDs {
		snapshot.UsedKnowledgeIDs[id] = struct{}{}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.Upsert(ctx, &snapshot); err != nil {
			slog.Warn("conversation: durable write failed", "error", err, "conversation_id", snapshot.ConversationID)
		}
	}()
}

// BuildContextSummary produces a deterministic short description of the
// established role, task, and recent exchanges for follow-up prompts.
// Returns "" when there is no history yet.
func (s *Service) BuildContextSummary(state *State) string {
	if len(state.MessageHistory) == 0 {
		return ""
	}

	var b strings.Builder
	if state.CurrentRole != "" {
		fmt.Fprintf(&b, "Role: %s\n", state.CurrentRole)
	}
	if state.CurrentTask != "" {
		fmt.Fprintf(&b, "Task: %s\n", state.CurrentTask)
	}

	history := state.MessageHistory
	if len(history) > summaryHistoryWindow {
		history = history[len(history)-summaryHistoryWindow:]
	}
	b.WriteString("Recent exchanges:\n")
	for _, msg := range history {
		fmt.Fprintf(&b, "- [%s] %s\n", msg.Role, truncateRunes(msg.Content, summaryEntryLimit))
	}
	return b.String()
}

// truncateRunes caps s at n runes. Byte slicing would split multi-byte
// characters, which matters for Vietnamese content.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// FilterUnusedKnowledge returns the subset of ids not yet surfaced in this
// conversation. Order is preserved.
func (s *Service) FilterUnusedKnowledge(state *State, ids []string) []string {
	unused := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, used := state.UsedKnowledgeIDs[id]; !used {
			unused = append(unused, id)
		}
	}
	return unused
}

// Clear removes the conversation from the cache and durable storage. Used
// on explicit reset and on detected topic shift.
func (s *Service) Clear(ctx context.Context, conversationID uuid.UUID) error {
	mu := s.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	s.cache.Delete(conversationID.String())
	if s.repo != nil {
		if err := s.repo.Delete(ctx, conversationID); err != nil {
			return fmt.Errorf("clearing conversation: %w", err)
		}
	}
	return nil
}

// CleanupExpired removes expired state from durable storage and the cache,
// and drops per-conversation locks that no longer guard anything.
func (s *Service) CleanupExpired(ctx context.Context) error {
	s.cache.DeleteExpired()

	live := make(map[string]struct{})
	for key := range s.cache.Items() {
		live[key] = struct{}{}
	}
	s.locks.Range(func(key, value any) bool {
		if _, ok := live[key.(string)]; ok {
			return true
		}
		// A writer may hold this mutex while its cache entry is still
		// being re-established. Only prune a lock nobody holds; anything
		// skipped here is collected on a later sweep.
		mu := value.(*sync.Mutex)
		if mu.TryLock() {
			s.locks.Delete(key)
			mu.Unlock()
		}
		return true
	})

	if s.repo == nil {
		return nil
	}
	removed, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return fmt.Errorf("sweeping expired conversations: %w", err)
	}
	if removed > 0 {
		slog.Debug("conversation: swept expired state", "removed", removed)
	}
	return nil
}

// StartSweeper runs CleanupExpired on the given interval until ctx is
// cancelled.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("conversation sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CleanupExpired(ctx); err != nil {
				slog.Warn("conversation sweeper", "error", err)
			}
		}
	}
}
