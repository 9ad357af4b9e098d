package types

import (
	"context"

	"github.com/xhad/gamescout/internal/models"
)

// Core interfaces
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelID() string
}

type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

type Tokenizer interface {
	Count(text string) int
}

type Processor interface {
	Chunk(doc models.Document) ([]models.Chunk, error)
}

// ChunkStore persists documents and embeddings across builds. Embeddings are
// keyed by (model id, chunk fingerprint) so unchanged chunks are never
// re-embedded.
type ChunkStore interface {
	SaveDocuments(ctx context.Context, docs []models.Document) error
	LoadDocuments(ctx context.Context) ([]models.Document, error)
	SaveEmbeddings(ctx context.Context, modelID string, vectors map[string][]float32) error
	LoadEmbeddings(ctx context.Context, modelID string, fingerprints []string) (map[string][]float32, error)
	Close() error
}

type DocumentSource interface {
	Load(ctx context.Context) ([]models.Document, error)
}
