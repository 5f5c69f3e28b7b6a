package embedding

import "context"

// Result is a single embedding vector plus the tokens spent producing it.
type Result struct {
	Vector     []float32 `json:"vector"`
	TokenCount int       `json:"token_count"`
}

// Embedder is the narrow interface the retrieval engine uses for text
// embedding. The concrete provider is injected at wiring time.
type Embedder interface {
	Embed(ctx context.Context, text string) (*Result, error)
	EmbedBatch(ctx context.Context, texts []string) ([]*Result, error)
}
