package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "embed:"

// CachedEmbedder memoizes embedding results in Redis keyed by the SHA-256
// of the input text. Cache failures degrade to recompute, never to request
// failure.
type CachedEmbedder struct {
	inner Embedder
	rdb   redis.Cmdable
	ttl   time.Duration
}

// NewCachedEmbedder wraps an Embedder with a Redis content-hash cache.
// A nil rdb disables caching entirely.
func NewCachedEmbedder(inner Embedder, rdb redis.Cmdable, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, rdb: rdb, ttl: ttl}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) (*Result, error) {
	if c.rdb == nil {
		return c.inner.Embed(ctx, text)
	}

	key := cacheKey(text)
	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var res Result
		if err := json.Unmarshal(data, &res); err == nil {
			return &res, nil
		}
		// corrupt entry, fall through to recompute
	} else if err != redis.Nil {
		slog.Warn("embedding cache: read failed", "error", err)
	}

	res, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	if data, err := json.Marshal(res); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			slog.Warn("embedding cache: write failed", "error", err)
		}
	}
	return res, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*Result, error) {
	results := make([]*Result, len(texts))
	var misses []string
	var missIdx []int

	for i, text := range texts {
		if c.rdb == nil {
			misses = append(misses, text)
			missIdx = append(missIdx, i)
			continue
		}
		data, err := c.rdb.Get(ctx, cacheKey(text)).Bytes()
		if err == nil {
			var res Result
			if json.Unmarshal(data, &res) == nil {
				results[i] = &res
				continue
			}
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}

	if len(misses) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("embedding batch: %w", err)
	}
	if len(fresh) != len(misses) {
		return nil, fmt.Errorf("embedding batch: expected %d results, got %d", len(misses), len(fresh))
	}

	for j, res := range fresh {
		results[missIdx[j]] = res
		if c.rdb == nil {
			continue
		}
		if data, err := json.Marshal(res); err == nil {
			if err := c.rdb.Set(ctx, cacheKey(misses[j]), data, c.ttl).Err(); err != nil {
				slog.Warn("embedding cache: write failed", "error", err)
			}
		}
	}
	return results, nil
}
