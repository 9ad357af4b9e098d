package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/internal/types"
)

// SystemPrompt frames every advice request.
const SystemPrompt = "You are a game assistant. Using only the provided game state and knowledge base passages, give short, practical advice the player can act on right now. Answer with at most five bullet points."

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model          string
	SystemTemplate string
	BaseURL        string // Ollama server URL
}

// ChatEngine generates advice with an Ollama model.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = SystemPrompt
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(config, llm), nil
}

// NewWithModel wraps an already constructed langchaingo model.
func NewWithModel(config ChatConfig, model llms.Model) *ChatEngine {
	if config.SystemTemplate == "" {
		config.SystemTemplate = SystemPrompt
	}
	return &ChatEngine{config: config, llm: model}
}

// Generate sends the assembled prompt and returns the model's plain-text
// answer.
func (ce *ChatEngine) Generate(ctx context.Context, prompt string, opts types.GenerateOptions) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	response, err := ce.llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: chat error: %v", models.ErrGenerationUnavailable, err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", fmt.Errorf("%w: no response from LLM", models.ErrGenerationUnavailable)
	}

	return response.Choices[0].Content, nil
}
