package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls      int
	batchCalls int
}

func (e *countingEmbedder) Embed(_ context.Context, text string) (*Result, error) {
	e.calls++
	return &Result{Vector: []float32{float32(len(text))}, TokenCount: len(text)}, nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([]*Result, error) {
	e.batchCalls++
	results := make([]*Result, len(texts))
	for i, t := range texts {
		results[i] = &Result{Vector: []float32{float32(len(t))}, TokenCount: len(t)}
	}
	return results, nil
}

func setupCache(t *testing.T) (*CachedEmbedder, *countingEmbedder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	inner := &countingEmbedder{}
	return NewCachedEmbedder(inner, client, time.Hour), inner, mr
}

func TestCachedEmbedder_HitSkipsProvider(t *testing.T) {
	cached, inner, _ := setupCache(t)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "hello world")
	require.NoError(t, err)

	second, err := cached.Embed(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first.Vector, second.Vector)
	assert.Equal(t, first.TokenCount, second.TokenCount)
}

func TestCachedEmbedder_DistinctTextsMiss(t *testing.T) {
	cached, inner, _ := setupCache(t)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "one")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "two")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedder_ExpiryRecomputes(t *testing.T) {
	cached, inner, mr := setupCache(t)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = cached.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedder_NilRedisDegradesToRecompute(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, nil, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cached.Embed(ctx, "same text")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.calls)
}

func TestCachedEmbedder_BatchOnlyEmbedsMisses(t *testing.T) {
	cached, inner, _ := setupCache(t)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "cached")
	require.NoError(t, err)

	results, err := cached.EmbedBatch(ctx, []string{"cached", "fresh"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotNil(t, results[0])
	assert.NotNil(t, results[1])
	assert.Equal(t, 1, inner.batchCalls)
	assert.Equal(t, 1, inner.calls)
}
