package ai_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/curriculum-catalog/internal/adapter/ai"
	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
)

// countingClient records how many texts reached the underlying provider.
type countingClient struct {
	calls int32
	texts int32
}

func (c *countingClient) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&c.calls, 1)
	atomic.AddInt32(&c.texts, int32(len(texts)))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func TestEmbedCache_HitSkipsProvider(t *testing.T) {
	t.Parallel()
	base := &countingClient{}
	cl := ai.NewEmbedCache(base, 8)

	v1, err := cl.Embed(context.Background(), []string{"count to 20"})
	require.NoError(t, err)
	v2, err := cl.Embed(context.Background(), []string{"count to 20"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&base.calls))
}

func TestEmbedCache_PartialMiss(t *testing.T) {
	t.Parallel()
	base := &countingClient{}
	cl := ai.NewEmbedCache(base, 8)

	_, err := cl.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	vecs, err := cl.Embed(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	// only "bb" should have gone to the provider on the second call
	assert.Equal(t, int32(2), atomic.LoadInt32(&base.texts))
}

func TestEmbedCache_Eviction(t *testing.T) {
	t.Parallel()
	base := &countingClient{}
	cl := ai.NewEmbedCache(base, 1)

	_, err := cl.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	_, err = cl.Embed(context.Background(), []string{"b"})
	require.NoError(t, err)
	_, err = cl.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&base.calls))
}

func TestEmbedCache_ZeroCapacityPassthrough(t *testing.T) {
	t.Parallel()
	base := &countingClient{}
	assert.Equal(t, domain.EmbeddingClient(base), ai.NewEmbedCache(base, 0))
}
