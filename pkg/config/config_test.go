package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GAMESCOUT_STORE", "")
	t.Setenv("PORT", "")

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 200
  temperature: 0.5
  timeout: 10s

embedding:
  provider: "hash"
  dimension: 384
  batch_size: 16
  query_timeout: 500ms

store:
  driver: "postgres"
  url: "postgres://localhost:5432/test"

processor:
  chunk_size: 256
  chunk_overlap: 64

retriever:
  k_final: 8
  dense_weight: 0.7
  lexical_weight: 0.3
  region_filter: true

cache:
  ttl: 1m
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 200, config.LLM.MaxTokens)
	require.NotNil(t, config.LLM.Temperature)
	assert.Equal(t, 0.5, *config.LLM.Temperature)
	assert.Equal(t, 10*time.Second, config.LLM.Timeout)
	assert.Equal(t, "hash", config.Embedding.Provider)
	assert.Equal(t, 384, config.Embedding.Dimension)
	assert.Equal(t, 500*time.Millisecond, config.Embedding.QueryTimeout)
	assert.Equal(t, "postgres://localhost:5432/test", config.Store.URL)
	assert.Equal(t, 256, config.Processor.ChunkSize)
	assert.Equal(t, 64, config.Processor.ChunkOverlap)
	assert.Equal(t, 8, config.Retriever.KFinal)
	assert.Equal(t, 0.7, config.Retriever.DenseWeight)
	assert.True(t, config.Retriever.RegionFilter)
	assert.Equal(t, time.Minute, config.Cache.TTL)

	// Defaults fill whatever the file leaves out
	assert.Equal(t, 20, config.Retriever.KDense)
	assert.Equal(t, 16, config.Cache.Shards)
	assert.Equal(t, "cosine", config.Index.Metric)
	assert.Equal(t, DefaultSmokeQueries, config.Smoke.Queries)
	assert.Empty(t, config.Validate())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://db/gamescout")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GAMESCOUT_STORE", "postgres")
	t.Setenv("PORT", "9090")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  model: mistral\n"), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "http://ollama:11434", config.Embedding.BaseURL)
	assert.Equal(t, "postgres://db/gamescout", config.Store.URL)
	assert.Equal(t, "postgres", config.Store.Driver)
	assert.Equal(t, "sk-test", config.LLM.APIKey)
	assert.Equal(t, ":9090", config.Server.Addr)
}

func TestLoadConfigTemperature(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want float64
	}{
		{"explicit zero is kept", "llm:\n  temperature: 0\n", 0},
		{"unset uses default", "llm:\n  model: mistral\n", 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.yaml), 0644))

			config, err := LoadConfig(configPath)
			require.NoError(t, err)
			require.NotNil(t, config.LLM.Temperature)
			assert.Equal(t, tt.want, *config.LLM.Temperature)
			assert.Equal(t, tt.want, config.LLM.SamplingTemperature())
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm: [unterminated"), 0644))

	_, err := LoadConfig(configPath)
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(c *Config)
		expectedErrs int
		fields       []string
	}{
		{
			name:         "valid config",
			mutate:       func(c *Config) {},
			expectedErrs: 0,
		},
		{
			name: "overlap not less than size",
			mutate: func(c *Config) {
				c.Processor.ChunkSize = 100
				c.Processor.ChunkOverlap = 100
			},
			expectedErrs: 1,
			fields:       []string{"processor.chunk_overlap"},
		},
		{
			name: "bad llm settings",
			mutate: func(c *Config) {
				c.LLM.MaxTokens = 0
				hot := 3.0
				c.LLM.Temperature = &hot
			},
			expectedErrs: 2,
			fields:       []string{"llm.max_tokens", "llm.temperature"},
		},
		{
			name: "postgres without url",
			mutate: func(c *Config) {
				c.Store.Driver = "postgres"
				c.Store.URL = ""
			},
			expectedErrs: 1,
			fields:       []string{"store.url"},
		},
		{
			name: "openai embedder without key",
			mutate: func(c *Config) {
				c.Embedding.Provider = "openai"
				c.Embedding.APIKey = ""
			},
			expectedErrs: 1,
			fields:       []string{"embedding.api_key"},
		},
		{
			name: "zero weights",
			mutate: func(c *Config) {
				c.Retriever.DenseWeight = 0
				c.Retriever.LexicalWeight = 0
			},
			expectedErrs: 1,
			fields:       []string{"retriever.dense_weight"},
		},
		{
			name: "unknown tokenizer and metric",
			mutate: func(c *Config) {
				c.Assembler.Tokenizer = "chars"
				c.Index.Metric = "l2"
			},
			expectedErrs: 2,
			fields:       []string{"index.metric", "assembler.tokenizer"},
		},
		{
			name: "invalid extension",
			mutate: func(c *Config) {
				c.Scraper.AllowedExtensions = []string{"html"}
			},
			expectedErrs: 1,
			fields:       []string{"scraper.allowed_extensions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			errs := c.Validate()
			assert.Len(t, errs, tt.expectedErrs)
			for i, field := range tt.fields {
				if i < len(errs) {
					assert.Equal(t, field, errs[i].Field)
				}
			}
		})
	}
}
