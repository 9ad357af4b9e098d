package llm

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/internal/types"
)

type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	BatchSize int
}

func newOpenAIClient(config OpenAIConfig) (*openai.Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig), nil
}

// OpenAIEmbedder uses the OpenAI embeddings API.
type OpenAIEmbedder struct {
	config OpenAIConfig
	client *openai.Client
}

func NewOpenAIEmbedder(config OpenAIConfig) (*OpenAIEmbedder, error) {
	if config.Model == "" {
		config.Model = string(openai.SmallEmbedding3)
	}
	if config.Dimension == 0 {
		config.Dimension = 1536 // default for text-embedding-3-small
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	client, err := newOpenAIClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}
	return &OpenAIEmbedder{config: config, client: client}, nil
}

func (e *OpenAIEmbedder) Dimension() int  { return e.config.Dimension }
func (e *OpenAIEmbedder) ModelID() string { return "openai/" + e.config.Model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, e.config.BatchSize, e.config.Dimension, func(ctx context.Context, batch []string) ([][]float32, error) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.config.Model),
			Input: batch,
		})
		if err != nil {
			return nil, fmt.Errorf("OpenAI API error: %w", err)
		}

		vectors := make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return nil, fmt.Errorf("embedding index %d out of range", d.Index)
			}
			v := make([]float32, len(d.Embedding))
			for i := range d.Embedding {
				v[i] = float32(d.Embedding[i])
			}
			vectors[d.Index] = v
		}
		return vectors, nil
	})
}

// OpenAIGenerator answers prompts with the chat completions API.
type OpenAIGenerator struct {
	model  string
	client *openai.Client
}

func NewOpenAIGenerator(config OpenAIConfig) (*OpenAIGenerator, error) {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	client, err := newOpenAIClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, err)
	}
	return &OpenAIGenerator{model: config.Model, client: client}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, opts types.GenerateOptions) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: openAITemperature(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", models.ErrGenerationUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// openAITemperature keeps an explicit 0 on the wire. The request field is
// omitempty, so 0 is sent as the smallest positive float32 instead.
func openAITemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
