// Package config provides configuration management for Finquiry.
// Settings load in three layers: built-in defaults, an optional YAML file
// named by FINQUIRY_CONFIG_FILE, and environment variables with the
// FINQUIRY_ prefix. Later layers win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Finquiry agent.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Memory    MemoryConfig    `yaml:"memory"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Research  ResearchConfig  `yaml:"research"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host              string  `yaml:"host"`                // Server host (default: 0.0.0.0)
	Port              int     `yaml:"port"`                // Server port (default: 8086)
	RequestsPerSecond float64 `yaml:"requests_per_second"` // Rate limit per client (default: 5)
	RateBurst         int     `yaml:"rate_burst"`          // Rate limit burst (default: 10)
}

// MemoryConfig contains the two-tier memory configuration.
type MemoryConfig struct {
	PostgresDSN        string        `yaml:"postgres_dsn"`         // Primary vector backend DSN; empty skips the tier
	SQLitePath         string        `yaml:"sqlite_path"`          // Secondary embedded backend path (default: ./data/finquiry.db)
	FallbackMaxRecords int           `yaml:"fallback_max_records"` // In-process fallback store bound (default: 10000)
	ConversationTTL    time.Duration `yaml:"conversation_ttl"`     // Sliding thread history TTL (default: 1h)
	MaxExchanges       int           `yaml:"max_exchanges"`        // Exchanges kept per thread (default: 20)
	BackendTimeout     time.Duration `yaml:"backend_timeout"`      // Per-call backend budget (default: 5s)
}

// EmbeddingConfig contains the embedding provider configuration.
type EmbeddingConfig struct {
	Enabled    bool          `yaml:"enabled"`    // Disable to run metadata-only (default: true)
	OllamaURL  string        `yaml:"ollama_url"` // Ollama API URL (default: http://localhost:11434)
	Model      string        `yaml:"model"`      // Embedding model (default: nomic-embed-text)
	Dimensions int           `yaml:"dimensions"` // Vector width (default: 768)
	Timeout    time.Duration `yaml:"timeout"`    // Per-request timeout (default: 10s)
}

// ResearchConfig contains pipeline tuning.
type ResearchConfig struct {
	DefaultDepth     string        `yaml:"default_depth"`      // shallow, medium or deep (default: medium)
	MaxSearchResults int           `yaml:"max_search_results"` // Search hits per run (default: 10)
	MaxSources       int           `yaml:"max_sources"`        // Deduplicated sources per run (default: 10)
	MaxConcurrent    int           `yaml:"max_concurrent"`     // Fan-out bound (default: 5)
	StageTimeout     time.Duration `yaml:"stage_timeout"`      // Per-stage budget (default: 60s)
	SearchBaseURL    string        `yaml:"search_base_url"`    // Override for the search endpoint
}

// LoadConfig loads configuration from defaults, the optional YAML file and
// environment variables, in that order of precedence.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("FINQUIRY_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("config: invalid port %d", cfg.Server.Port)
	}
	switch cfg.Research.DefaultDepth {
	case "shallow", "medium", "deep":
	default:
		return nil, fmt.Errorf("config: invalid research depth %q", cfg.Research.DefaultDepth)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8086,
			RequestsPerSecond: 5,
			RateBurst:         10,
		},
		Memory: MemoryConfig{
			SQLitePath:         "./data/finquiry.db",
			FallbackMaxRecords: 10000,
			ConversationTTL:    time.Hour,
			MaxExchanges:       20,
			BackendTimeout:     5 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Enabled:    true,
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			Timeout:    10 * time.Second,
		},
		Research: ResearchConfig{
			DefaultDepth:     "medium",
			MaxSearchResults: 10,
			MaxSources:       10,
			MaxConcurrent:    5,
			StageTimeout:     60 * time.Second,
		},
	}
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("FINQUIRY_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("FINQUIRY_PORT", c.Server.Port)
	c.Server.RequestsPerSecond = getEnvFloat("FINQUIRY_RATE_LIMIT_RPS", c.Server.RequestsPerSecond)
	c.Server.RateBurst = getEnvInt("FINQUIRY_RATE_LIMIT_BURST", c.Server.RateBurst)

	c.Memory.PostgresDSN = getEnv("FINQUIRY_POSTGRES_DSN", c.Memory.PostgresDSN)
	c.Memory.SQLitePath = getEnv("FINQUIRY_SQLITE_PATH", c.Memory.SQLitePath)
	c.Memory.FallbackMaxRecords = getEnvInt("FINQUIRY_FALLBACK_MAX_RECORDS", c.Memory.FallbackMaxRecords)
	c.Memory.ConversationTTL = getEnvDuration("FINQUIRY_CONVERSATION_TTL", c.Memory.ConversationTTL)
	c.Memory.MaxExchanges = getEnvInt("FINQUIRY_MAX_EXCHANGES", c.Memory.MaxExchanges)
	c.Memory.BackendTimeout = getEnvDuration("FINQUIRY_BACKEND_TIMEOUT", c.Memory.BackendTimeout)

	c.Embedding.Enabled = getEnvBool("FINQUIRY_EMBEDDING_ENABLED", c.Embedding.Enabled)
	c.Embedding.OllamaURL = getEnv("FINQUIRY_OLLAMA_URL", c.Embedding.OllamaURL)
	c.Embedding.Model = getEnv("FINQUIRY_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimensions = getEnvInt("FINQUIRY_EMBEDDING_DIMENSIONS", c.Embedding.Dimensions)
	c.Embedding.Timeout = getEnvDuration("FINQUIRY_EMBEDDING_TIMEOUT", c.Embedding.Timeout)

	c.Research.DefaultDepth = getEnv("FINQUIRY_RESEARCH_DEPTH", c.Research.DefaultDepth)
	c.Research.MaxSearchResults = getEnvInt("FINQUIRY_MAX_SEARCH_RESULTS", c.Research.MaxSearchResults)
	c.Research.MaxSources = getEnvInt("FINQUIRY_MAX_SOURCES", c.Research.MaxSources)
	c.Research.MaxConcurrent = getEnvInt("FINQUIRY_MAX_CONCURRENT", c.Research.MaxConcurrent)
	c.Research.StageTimeout = getEnvDuration("FINQUIRY_STAGE_TIMEOUT", c.Research.StageTimeout)
	c.Research.SearchBaseURL = getEnv("FINQUIRY_SEARCH_BASE_URL", c.Research.SearchBaseURL)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go syntax, e.g.
// "30s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
