// Package config loads server configuration from defaults, an optional yaml
// file, and environment variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// ConfigFileName is the default config file looked up beside the binary.
const ConfigFileName = "pmsd.yaml"

// EnvPrefix scopes environment overrides, e.g. PMS_RELATIONAL_HOST.
const EnvPrefix = "PMS_"

// Config holds all pmsd configuration.
type Config struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`

	Server     ServerConfig     `koanf:"server"`
	Relational RelationalConfig `koanf:"relational"`
	Graph      GraphConfig      `koanf:"graph"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	LLM        LLMConfig        `koanf:"llm"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Query      QueryConfig      `koanf:"query"`
	Budget     BudgetConfig     `koanf:"budget"`
	Semantic   SemanticConfig   `koanf:"semantic"`
	Logging    logging.Config   `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string `koanf:"addr"`
	RequestTimeout  string `koanf:"request_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

// RelationalConfig configures the relational store connection.
type RelationalConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	SSLMode  string `koanf:"sslmode"`
}

// DSN renders the pgx connection string.
func (c RelationalConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// GraphConfig configures the graph store.
type GraphConfig struct {
	URI      string `koanf:"uri"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// Path is used by the embedded sqlite-backed store when URI is empty.
	Path string `koanf:"path"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	// Provider: "ollama", "genai" or "hash" (deterministic fallback).
	Provider string `koanf:"provider"`

	// Device: "cpu" or a GPU identifier; forwarded to local backends.
	Device string `koanf:"device"`

	OllamaEndpoint string `koanf:"ollama_endpoint"`
	OllamaModel    string `koanf:"ollama_model"`
	GenAIAPIKey    string `koanf:"genai_api_key"`
	GenAIModel     string `koanf:"genai_model"`
	Dimensions     int    `koanf:"dimensions"`
}

// LLMConfig configures text generation.
type LLMConfig struct {
	Provider string `koanf:"provider"`
	APIKey   string `koanf:"api_key"`

	// ModelPath is the quality-track model; FastModelPath the lightweight
	// fast-track one. Track selection happens in the workflow router.
	ModelPath     string `koanf:"model_path"`
	FastModelPath string `koanf:"fast_model_path"`

	MaxTokens     int     `koanf:"max_tokens"`
	Temperature   float64 `koanf:"temperature"`
	TopP          float64 `koanf:"top_p"`
	MinP          float64 `koanf:"min_p"`
	RepeatPenalty float64 `koanf:"repeat_penalty"`
	ContextWindow int     `koanf:"context_window"`
	Threads       int     `koanf:"threads"`
	GPULayers     int     `koanf:"gpu_layers"`
	Timeout       string  `koanf:"timeout"`
}

// RetrievalConfig configures document retrieval.
type RetrievalConfig struct {
	// StrategyOverride forces "graph" or "vector" mode; empty means the
	// per-request keyword heuristic decides.
	StrategyOverride string  `koanf:"strategy_override"`
	TopK             int     `koanf:"top_k"`
	ScoreThreshold   float64 `koanf:"score_threshold"`
}

// QueryConfig bounds the text-to-query pipeline.
type QueryConfig struct {
	RowCap            int     `koanf:"row_cap"`
	MaxJoins          int     `koanf:"max_joins"`
	MaxCorrections    int     `koanf:"max_corrections"`
	StatementTimeout  string  `koanf:"statement_timeout"`
	GenerationRetries int     `koanf:"generation_retries"`
	SchemaCacheTTL    string  `koanf:"schema_cache_ttl"`
	FewShotMinScore   float64 `koanf:"fewshot_min_score"`
}

// BudgetConfig bounds LLM spend.
type BudgetConfig struct {
	DailyUSD   float64 `koanf:"daily_usd"`
	MonthlyUSD float64 `koanf:"monthly_usd"`
}

// SemanticConfig locates the MDL definitions.
type SemanticConfig struct {
	MDLPath   string `koanf:"mdl_path"`
	HotReload bool   `koanf:"hot_reload"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"name":    "pmsd",
		"version": "0.1.0",

		"server.addr":             ":8090",
		"server.request_timeout":  "120s",
		"server.shutdown_timeout": "10s",

		"relational.host":     "localhost",
		"relational.port":     5432,
		"relational.database": "pms",
		"relational.user":     "pms",
		"relational.sslmode":  "disable",

		"graph.path": "pms-graph.db",

		"embedding.provider":        "hash",
		"embedding.device":          "cpu",
		"embedding.ollama_endpoint": "http://localhost:11434",
		"embedding.ollama_model":    "embeddinggemma",
		"embedding.genai_model":     "gemini-embedding-001",
		"embedding.dimensions":      384,

		"llm.provider":       "genai",
		"llm.max_tokens":     2048,
		"llm.temperature":    0.1,
		"llm.top_p":          0.9,
		"llm.min_p":          0.05,
		"llm.repeat_penalty": 1.1,
		"llm.context_window": 8192,
		"llm.threads":        4,
		"llm.gpu_layers":     0,
		"llm.timeout":        "60s",

		"retrieval.top_k":           5,
		"retrieval.score_threshold": 0.3,

		"query.row_cap":            100,
		"query.max_joins":          5,
		"query.max_corrections":    3,
		"query.statement_timeout":  "10s",
		"query.generation_retries": 2,
		"query.schema_cache_ttl":   "1h",
		"query.fewshot_min_score":  0.5,

		"budget.daily_usd":   10.0,
		"budget.monthly_usd": 200.0,

		"logging.level": "info",
		"logging.json":  true,
	}
}

// Load builds the config from defaults, an optional yaml file, and PMS_*
// environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
		}
	}

	// PMS_RELATIONAL_HOST -> relational.host etc. Single-segment keys keep
	// their name; the first underscore splits the section.
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(s, "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in defaults without touching files or env.
func Default() *Config {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(defaults(), "."), nil)
	var cfg Config
	_ = k.Unmarshal("", &cfg)
	return &cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Query.RowCap <= 0 {
		return fmt.Errorf("query.row_cap must be positive, got %d", c.Query.RowCap)
	}
	if c.Query.MaxCorrections < 0 {
		return fmt.Errorf("query.max_corrections must be >= 0")
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		return fmt.Errorf("retrieval.score_threshold must be in [0,1]")
	}
	for _, d := range []struct {
		name, val string
	}{
		{"server.request_timeout", c.Server.RequestTimeout},
		{"query.statement_timeout", c.Query.StatementTimeout},
		{"query.schema_cache_ttl", c.Query.SchemaCacheTTL},
		{"llm.timeout", c.LLM.Timeout},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

// Duration parses a duration field with a fallback.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
