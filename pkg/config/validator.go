package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message})
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			add("llm.base_url", "Ollama base URL is required")
		} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
			add("llm.base_url", "invalid Ollama base URL")
		}
	case "openai":
		if c.LLM.APIKey == "" {
			add("llm.api_key", "api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
	default:
		add("llm.provider", fmt.Sprintf("unknown provider: %s", c.LLM.Provider))
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		add("llm.max_tokens", "max_tokens must be between 1 and 4096")
	}

	if t := c.LLM.SamplingTemperature(); t < 0 || t > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	// Validate embedding config
	switch c.Embedding.Provider {
	case "ollama", "hash":
	case "openai":
		if c.Embedding.APIKey == "" {
			add("embedding.api_key", "api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
	default:
		add("embedding.provider", fmt.Sprintf("unknown provider: %s", c.Embedding.Provider))
	}

	if c.Embedding.Dimension < 1 {
		add("embedding.dimension", "dimension must be positive")
	}

	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size", "batch_size must be positive")
	}

	if c.Embedding.QueryTimeout <= 0 {
		add("embedding.query_timeout", "query_timeout must be positive")
	}

	// Validate store config
	switch c.Store.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Store.URL == "" {
			add("store.url", "url (or DATABASE_URL) is required for the postgres driver")
		} else if _, err := url.Parse(c.Store.URL); err != nil {
			add("store.url", "invalid database URL")
		}
	default:
		add("store.driver", fmt.Sprintf("unknown driver: %s", c.Store.Driver))
	}

	// Validate index config
	if c.Index.Metric != "cosine" && c.Index.Metric != "dot" {
		add("index.metric", "metric must be cosine or dot")
	}

	if c.Index.BM25K1 < 0 {
		add("index.bm25_k1", "bm25_k1 must be non-negative")
	}

	if c.Index.BM25B < 0 || c.Index.BM25B > 1 {
		add("index.bm25_b", "bm25_b must be between 0 and 1")
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	if c.Processor.MinChunkTokens < 0 || c.Processor.MinChunkTokens > c.Processor.ChunkSize {
		add("processor.min_chunk_tokens", "min_chunk_tokens must be between 0 and chunk_size")
	}

	// Validate retriever config
	if c.Retriever.KDense < 0 || c.Retriever.KLexical < 0 {
		add("retriever.k_dense", "k_dense and k_lexical must be non-negative")
	}

	if c.Retriever.KFinal < 1 {
		add("retriever.k_final", "k_final must be positive")
	}

	if c.Retriever.DenseWeight < 0 || c.Retriever.LexicalWeight < 0 {
		add("retriever.dense_weight", "weights must be non-negative")
	} else if c.Retriever.DenseWeight+c.Retriever.LexicalWeight == 0 {
		add("retriever.dense_weight", "weights must not both be zero")
	}

	// Validate assembler config
	if c.Assembler.TokenBudget < 1 {
		add("assembler.token_budget", "token_budget must be positive")
	}

	if c.Assembler.Tokenizer != "words" && c.Assembler.Tokenizer != "tiktoken" {
		add("assembler.tokenizer", "tokenizer must be words or tiktoken")
	}

	// Validate cache config
	if c.Cache.Capacity < 1 {
		add("cache.capacity", "capacity must be positive")
	}

	if c.Cache.TTL <= 0 {
		add("cache.ttl", "ttl must be positive")
	}

	if c.Cache.Shards < 1 {
		add("cache.shards", "shards must be positive")
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 1 {
		add("scraper.max_depth", "max_depth must be positive")
	}

	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}

	// Validate extensions format
	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			add("scraper.allowed_extensions", fmt.Sprintf("invalid extension format: %s", ext))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", fmt.Sprintf("unknown level: %s", c.Log.Level))
	}

	return errors
}
