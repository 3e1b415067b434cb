// Package config loads memgraph settings from a YAML file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of runtime settings.
type Config struct {
	DBPath     string           `yaml:"db_path"`
	Log        LogConfig        `yaml:"log"`
	Cache      CacheConfig      `yaml:"cache"`
	Reasoner   ReasonerConfig   `yaml:"reasoner"`
	Compaction CompactionConfig `yaml:"compaction"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
}

// LogConfig selects log verbosity and output format.
type LogConfig struct {
	Verbose bool   `yaml:"verbose"`
	Format  string `yaml:"format"` // console | json
}

// CacheConfig configures the read-through record cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	MaxCost int64         `yaml:"max_cost"`
}

// ReasonerConfig selects the external reasoning backend.
type ReasonerConfig struct {
	Provider   string        `yaml:"provider"` // local | anthropic | openai | ollama
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	EmbedModel string        `yaml:"embed_model"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
}

// CompactionConfig holds token budget settings.
type CompactionConfig struct {
	Budget   int    `yaml:"budget"`
	Encoding string `yaml:"encoding"`
}

// RetrievalConfig holds ranking weights.
type RetrievalConfig struct {
	RelevanceWeight  float64       `yaml:"relevance_weight"`
	ImportanceWeight float64       `yaml:"importance_weight"`
	RecencyWeight    float64       `yaml:"recency_weight"`
	HalfLife         time.Duration `yaml:"half_life"`
}

// Default returns the built-in settings.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBPath: filepath.Join(home, ".memgraph", "memory.db"),
		Log:    LogConfig{Format: "console"},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     time.Hour,
			MaxCost: 10000,
		},
		Reasoner: ReasonerConfig{
			Provider: "local",
			Timeout:  10 * time.Second,
		},
		Compaction: CompactionConfig{
			Budget:   4000,
			Encoding: "cl100k_base",
		},
		Retrieval: RetrievalConfig{
			RelevanceWeight:  0.5,
			ImportanceWeight: 0.3,
			RecencyWeight:    0.2,
			HalfLife:         7 * 24 * time.Hour,
		},
	}
}

// DefaultPath returns the config file location: $MEMGRAPH_CONFIG or ~/.memgraph/config.yaml.
func DefaultPath() string {
	if env := os.Getenv("MEMGRAPH_CONFIG"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memgraph", "config.yaml")
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if env := os.Getenv("MEMGRAPH_DB"); env != "" {
		c.DBPath = env
	}
	if c.Reasoner.APIKey == "" {
		switch c.Reasoner.Provider {
		case "anthropic":
			c.Reasoner.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			c.Reasoner.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Reasoner.Provider == "ollama" && c.Reasoner.BaseURL == "" {
		c.Reasoner.BaseURL = os.Getenv("OLLAMA_HOST")
	}
}

// Validate rejects settings the components cannot run with.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("config: db_path is required")
	}
	if c.Compaction.Budget <= 0 {
		return fmt.Errorf("config: compaction.budget must be positive, got %d", c.Compaction.Budget)
	}
	if c.Reasoner.Timeout <= 0 {
		return fmt.Errorf("config: reasoner.timeout must be positive, got %s", c.Reasoner.Timeout)
	}
	switch c.Reasoner.Provider {
	case "local", "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown reasoner provider %q", c.Reasoner.Provider)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	r := c.Retrieval
	if r.RelevanceWeight < 0 || r.ImportanceWeight < 0 || r.RecencyWeight < 0 {
		return errors.New("config: retrieval weights must not be negative")
	}
	return nil
}
