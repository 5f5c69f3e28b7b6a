package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// Document is a retrieved knowledge chunk. It lives only for the duration
// of a request; the conversation state remembers IDs, never content.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QueryOptions parameterize a vector similarity query.
type QueryOptions struct {
	TopK     int
	MinScore float64
	UserID   uuid.UUID
}

// Store is the vector search interface the engine depends on. The pgvector
// implementation below is the default; a hosted store can replace it.
type Store interface {
	Upsert(ctx context.Context, userID uuid.UUID, docs []Document, embeddings [][]float32) error
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Document, error)
	Delete(ctx context.Context, ids []string) error
	Fetch(ctx context.Context, ids []string) (map[string]Document, error)
}

// PostgresStore implements Store on knowledge_documents using pgx + pgvector.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new vector store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Upsert(ctx context.Context, userID uuid.UUID, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("upserting documents: %d docs but %d embeddings", len(docs), len(embeddings))
	}

	for i, doc := range docs {
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %s: %w", doc.ID, err)
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO knowledge_documents (id, user_id, content, embedding, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE SET
			   content = EXCLUDED.content,
			   embedding = EXCLUDED.embedding,
			   metadata = EXCLUDED.metadata`,
			doc.ID, userID, doc.Content, pgvector.NewVector(embeddings[i]), metadata, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("upserting document %s: %w", doc.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Document, error) {
	vec := pgvector.NewVector(vector)
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		 FROM knowledge_documents
		 WHERE user_id = $2
		   AND 1 - (embedding <=> $1) >= $3
		 ORDER BY embedding <=> $1
		 LIMIT $4`,
		vec, opts.UserID, opts.MinScore, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc          Document
			metadataJSON []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &doc.Score); err != nil {
			return nil, fmt.Errorf("scanning knowledge document: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata for %s: %w", doc.ID, err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, ids []string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM knowledge_documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("deleting knowledge documents: %w", err)
	}
	return nil
}

func (s *PostgresStore) Fetch(ctx context.Context, ids []string) (map[string]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, metadata FROM knowledge_documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching knowledge documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[string]Document, len(ids))
	for rows.Next() {
		var (
			doc          Document
			metadataJSON []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning knowledge document: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata for %s: %w", doc.ID, err)
			}
		}
		docs[doc.ID] = doc
	}
	return docs, rows.Err()
}
