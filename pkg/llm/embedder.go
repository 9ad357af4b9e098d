package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/gamescout/internal/models"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	Dimension int
	BatchSize int
}

// embedClient is the part of the langchaingo Ollama client the embedder uses.
type embedClient interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

// OllamaEmbedder creates embeddings with a local Ollama model.
type OllamaEmbedder struct {
	config EmbedderConfig
	client embedClient
}

func NewEmbedderWithConfig(config EmbedderConfig) (*OllamaEmbedder, error) {
	// Validate and set default values for config fields if necessary
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize ollama embedder: %v", models.ErrEmbeddingUnavailable, err)
	}

	return &OllamaEmbedder{config: config, client: client}, nil
}

func (e *OllamaEmbedder) Dimension() int  { return e.config.Dimension }
func (e *OllamaEmbedder) ModelID() string { return "ollama/" + e.config.Model }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, e.config.BatchSize, e.config.Dimension, func(ctx context.Context, batch []string) ([][]float32, error) {
		return e.client.CreateEmbedding(ctx, batch)
	})
}

// embedInBatches sends texts to fn in sub-batches of at most size and checks
// that every returned vector has the expected dimension.
func embedInBatches(ctx context.Context, texts []string, size, dim int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
		}

		vectors, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", models.ErrEmbeddingUnavailable, len(vectors), end-start)
		}
		for i, v := range vectors {
			if len(v) != dim {
				return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d", models.ErrEmbeddingUnavailable, start+i, len(v), dim)
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}
