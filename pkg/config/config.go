package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	Processor ProcessorConfig `yaml:"processor"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Assembler AssemblerConfig `yaml:"assembler"`
	Cache     CacheConfig     `yaml:"cache"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Server    ServerConfig    `yaml:"server"`
	Smoke     SmokeConfig     `yaml:"smoke"`
	Log       LogConfig       `yaml:"log"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	MaxTokens   int           `yaml:"max_tokens"`
	// Temperature is nil when unset; an explicit 0 is kept.
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rate_limit"`
}

const defaultTemperature = 0.7

// SamplingTemperature returns the configured temperature, or the default
// when none was set.
func (c LLMConfig) SamplingTemperature() float64 {
	if c.Temperature == nil {
		return defaultTemperature
	}
	return *c.Temperature
}

type EmbeddingConfig struct {
	Provider     string        `yaml:"provider"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key"`
	Dimension    int           `yaml:"dimension"`
	BatchSize    int           `yaml:"batch_size"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	CacheSize    int           `yaml:"cache_size"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

type StoreConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
}

type IndexConfig struct {
	Metric              string  `yaml:"metric"`
	SnapshotDir         string  `yaml:"snapshot_dir"`
	LexicalOnlyFallback bool    `yaml:"lexical_only_fallback"`
	BM25K1              float64 `yaml:"bm25_k1"`
	BM25B               float64 `yaml:"bm25_b"`
}

type ProcessorConfig struct {
	ChunkSize       int      `yaml:"chunk_size"`
	ChunkOverlap    int      `yaml:"chunk_overlap"`
	MinChunkTokens  int      `yaml:"min_chunk_tokens"`
	CustomStopwords []string `yaml:"custom_stopwords"`
}

type RetrieverConfig struct {
	KDense          int     `yaml:"k_dense"`
	KLexical        int     `yaml:"k_lexical"`
	KFinal          int     `yaml:"k_final"`
	DenseWeight     float64 `yaml:"dense_weight"`
	LexicalWeight   float64 `yaml:"lexical_weight"`
	RegionFilter    bool    `yaml:"region_filter"`
	Rerank          bool    `yaml:"rerank"`
	DiversityFactor float64 `yaml:"diversity_factor"`
}

type AssemblerConfig struct {
	TokenBudget int    `yaml:"token_budget"`
	Tokenizer   string `yaml:"tokenizer"`
	Encoding    string `yaml:"encoding"`
}

type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
	Shards   int           `yaml:"shards"`
}

type CorpusConfig struct {
	Dir      string        `yaml:"dir"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

type ScraperConfig struct {
	BaseURL           string   `yaml:"base_url"`
	MaxDepth          int      `yaml:"max_depth"`
	RateLimit         float64  `yaml:"rate_limit"`
	IgnorePatterns    []string `yaml:"ignore_patterns"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	Regions           []string `yaml:"regions"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	// MaxInFlight bounds concurrent queries per websocket connection.
	MaxInFlight int    `yaml:"max_in_flight"`
}

type SmokeConfig struct {
	Queries []string `yaml:"queries"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const defaultOllamaURL = "http://localhost:11434"

// DefaultSmokeQueries are run by the smoke test when none are configured.
var DefaultSmokeQueries = []string{
	"Who is Shadowheart?",
	"What quests can I find in Emerald Grove?",
	"How does the combat system work in Baldur's Gate 3?",
	"Tell me about the different classes in BG3",
	"What are the best weapons for a Paladin?",
}

// DefaultRegions are the area names recognized when tagging scraped pages.
var DefaultRegions = []string{
	"Ravaged Beach", "Emerald Grove", "Blighted Village", "Moonrise Towers",
	"Underdark", "Grymforge", "Shadowfell", "Gauntlet of Shar",
	"Githyanki Creche", "Last Light Inn", "Wyrm's Rock",
	"Shadow-Cursed Lands", "Baldur's Gate",
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/gamescout/config.yaml"),
			"/etc/gamescout/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// Default returns a configuration with every default applied and no
// environment overrides.
func Default() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 300
	}
	if config.LLM.Temperature == nil {
		t := defaultTemperature
		config.LLM.Temperature = &t
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = defaultOllamaURL
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 30 * time.Second
	}
	if config.LLM.RateLimit == 0 {
		config.LLM.RateLimit = 2.0
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == "ollama" {
		config.Embedding.BaseURL = defaultOllamaURL
		if config.LLM.Provider == "ollama" {
			config.Embedding.BaseURL = config.LLM.BaseURL
		}
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 32
	}
	if config.Embedding.QueryTimeout == 0 {
		config.Embedding.QueryTimeout = 2 * time.Second
	}
	if config.Embedding.CacheSize == 0 {
		config.Embedding.CacheSize = 256
	}
	if config.Embedding.CacheTTL == 0 {
		config.Embedding.CacheTTL = 10 * time.Minute
	}

	if config.Store.Driver == "" {
		config.Store.Driver = "sqlite"
	}
	if config.Store.Path == "" {
		config.Store.Path = filepath.Join(".gamescout", "data")
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "chunk_embeddings"
	}

	if config.Index.Metric == "" {
		config.Index.Metric = "cosine"
	}
	if config.Index.SnapshotDir == "" {
		config.Index.SnapshotDir = filepath.Join(".gamescout", "snapshots")
	}
	if config.Index.BM25K1 == 0 {
		config.Index.BM25K1 = 1.2
	}
	if config.Index.BM25B == 0 {
		config.Index.BM25B = 0.75
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 512
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 128
	}
	if config.Processor.MinChunkTokens == 0 {
		config.Processor.MinChunkTokens = 32
	}

	if config.Retriever.KDense == 0 {
		config.Retriever.KDense = 20
	}
	if config.Retriever.KLexical == 0 {
		config.Retriever.KLexical = 20
	}
	if config.Retriever.KFinal == 0 {
		config.Retriever.KFinal = 5
	}
	if config.Retriever.DenseWeight == 0 && config.Retriever.LexicalWeight == 0 {
		config.Retriever.DenseWeight = 0.5
		config.Retriever.LexicalWeight = 0.5
	}
	if config.Retriever.DiversityFactor == 0 {
		config.Retriever.DiversityFactor = 0.5
	}

	if config.Assembler.TokenBudget == 0 {
		config.Assembler.TokenBudget = 1500
	}
	if config.Assembler.Tokenizer == "" {
		config.Assembler.Tokenizer = "words"
	}
	if config.Assembler.Encoding == "" {
		config.Assembler.Encoding = "cl100k_base"
	}

	if config.Cache.Capacity == 0 {
		config.Cache.Capacity = 100
	}
	if config.Cache.TTL == 0 {
		config.Cache.TTL = 5 * time.Minute
	}
	if config.Cache.Shards == 0 {
		config.Cache.Shards = 16
	}

	if config.Corpus.Dir == "" {
		config.Corpus.Dir = "knowledge_base"
	}
	if config.Corpus.Debounce == 0 {
		config.Corpus.Debounce = 2 * time.Second
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if len(config.Scraper.Regions) == 0 {
		config.Scraper.Regions = DefaultRegions
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.MaxInFlight == 0 {
		config.Server.MaxInFlight = 4
	}

	if len(config.Smoke.Queries) == 0 {
		config.Smoke.Queries = DefaultSmokeQueries
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if isOllama(config.LLM.Provider) {
			config.LLM.BaseURL = baseURL
		}
		if isOllama(config.Embedding.Provider) {
			config.Embedding.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.URL = dbURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = key
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = key
		}
	}
	if driver := os.Getenv("GAMESCOUT_STORE"); driver != "" {
		config.Store.Driver = driver
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
}

func isOllama(provider string) bool {
	return provider == "" || provider == "ollama"
}
