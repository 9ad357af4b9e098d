package llm

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/gamescout/internal/models"
)

type fakeEmbedClient struct {
	dim     int
	batches [][]string
	err     error
}

func (f *fakeEmbedClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func TestOllamaEmbedder_SubBatches(t *testing.T) {
	client := &fakeEmbedClient{dim: 4}
	e := &OllamaEmbedder{
		config: EmbedderConfig{Model: "nomic-embed-text", Dimension: 4, BatchSize: 3},
		client: client,
	}

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	assert.Len(t, client.batches, 3)
	for _, b := range client.batches {
		assert.LessOrEqual(t, len(b), 3)
	}
	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Equal(t, "ollama/nomic-embed-text", e.ModelID())
}

func TestOllamaEmbedder_Failures(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeEmbedClient
		dim    int
	}{
		{"model unreachable", &fakeEmbedClient{dim: 4, err: errors.New("connection refused")}, 4},
		{"wrong dimension", &fakeEmbedClient{dim: 3}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &OllamaEmbedder{
				config: EmbedderConfig{Dimension: tt.dim, BatchSize: 8},
				client: tt.client,
			}
			_, err := e.Embed(context.Background(), "owlbear")
			assert.ErrorIs(t, err, models.ErrEmbeddingUnavailable)
		})
	}
}

func TestOllamaEmbedder_CancelledContext(t *testing.T) {
	e := &OllamaEmbedder{
		config: EmbedderConfig{Dimension: 2, BatchSize: 1},
		client: &fakeEmbedClient{dim: 2},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.EmbedBatch(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, models.ErrEmbeddingUnavailable)
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Fire giants guard the Adamantine Forge")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "fire GIANTS guard the adamantine forge!")
	require.NoError(t, err)
	c, err := e.Embed(ctx, "Druids in the Emerald Grove")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.Greater(t, cosine(a, b), cosine(a, c))
	assert.InDelta(t, 1.0, cosine(a, a), 1e-5)

	batch, err := e.EmbedBatch(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, "hash/64", e.ModelID())
}

func cosine(a, b []float32) float64 {
	var d, na, nb float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return d / (math.Sqrt(na) * math.Sqrt(nb))
}

type countingEmbedder struct {
	*HashEmbedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.HashEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	e := NewCachedEmbedder(inner, 10, time.Minute)

	first, err := e.Embed(context.Background(), "moonrise towers")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "moonrise towers")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 16, e.Dimension())
}
