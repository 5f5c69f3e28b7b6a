package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single turn in the conversation history.
type Message struct {
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	UpgradedPrompt string    `json:"upgraded_prompt,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// State holds per-conversation turn tracking. The in-memory copy is
// authoritative for the current process; the conversation_states row is a
// best-effort mirror for crash recovery.
type State struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	TurnNumber     int       `json:"turn_number"`

	CurrentRole    string `json:"current_role,omitempty"`
	CurrentTask    string `json:"current_task,omitempty"`
	CurrentDomain  string `json:"current_domain,omitempty"`
	ContextSummary string `json:"context_summary,omitempty"`

	UsedKnowledgeIDs map[string]struct{} `json:"-"`
	MessageHistory   []Message           `json:"message_history"`

	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// UsedIDs returns the used-knowledge set as a sorted-free slice for
// serialization and responses.
func (s *State) UsedIDs() []string {
	ids := make([]string, 0, len(s.UsedKnowledgeIDs))
	for id := range s.UsedKnowledgeIDs {
		ids = append(ids, id)
	}
	return ids
}

// ContextPatch carries merge-patch context updates; nil fields are left
// untouched.
type ContextPatch struct {
	Role    *string
	Task    *string
	Domain  *string
	Summary *string
}
