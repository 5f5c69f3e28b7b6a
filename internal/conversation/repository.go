package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines durable conversation-state persistence.
type Repository interface {
	Get(ctx context.Context, conversationID uuid.UUID) (*State, error)
	Upsert(ctx context.Context, state *State) error
	Delete(ctx context.Context, conversationID uuid.UUID) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PostgresRepository implements Repository on conversation_states.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new conversation repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, conversationID uuid.UUID) (*State, error) {
	var (
		s           State
		usedIDs     []string
		historyJSON []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT conversation_id, user_id, turn_number, current_role, current_task,
		        current_domain, context_summary, used_knowledge_ids, message_history,
		        last_activity, expires_at
		 FROM conversation_states WHERE conversation_id = $1`, conversationID,
	).Scan(&s.ConversationID, &s.UserID, &s.TurnNumber, &s.CurrentRole, &s.CurrentTask,
		&s.CurrentDomain, &s.ContextSummary, &usedIDs, &historyJSON,
		&s.LastActivity, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting conversation state: %w", err)
	}

	s.UsedKnowledgeIDs = make(map[string]struct{}, len(usedIDs))
	for _, id := range usedIDs {
		s.UsedKnowledgeIDs[id] = struct{}{}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &s.MessageHistory); err != nil {
			return nil, fmt.Errorf("unmarshaling message history: %w", err)
		}
	}
	return &s, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, state *State) error {
	historyJSON, err := json.Marshal(state.MessageHistory)
	if err != nil {
		return fmt.Errorf("marshaling message history: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO conversation_states
		   (conversation_id, user_id, turn_number, current_role, current_task,
		    current_domain, context_summary, used_knowledge_ids, message_history,
		    last_activity, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (conversation_id) DO UPDATE SET
		   turn_number = EXCLUDED.turn_number,
		   current_role = EXCLUDED.current_role,
		   current_task = EXCLUDED.current_task,
		   current_domain = EXCLUDED.current_domain,
		   context_summary = EXCLUDED.context_summary,
		   used_knowledge_ids = EXCLUDED.used_knowledge_ids,
		   message_history = EXCLUDED.message_history,
		   last_activity = EXCLUDED.last_activity,
		   expires_at = EXCLUDED.expires_at`,
		state.ConversationID, state.UserID, state.TurnNumber, state.CurrentRole,
		state.CurrentTask, state.CurrentDomain, state.ContextSummary,
		state.UsedIDs(), historyJSON, state.LastActivity, state.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upserting conversation state: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, conversationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM conversation_states WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting conversation state: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM conversation_states WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired conversation states: %w", err)
	}
	return tag.RowsAffected(), nil
}
