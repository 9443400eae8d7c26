// Package config provides configuration loading and management for Noema.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Noema configuration
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Storage StorageConfig `yaml:"storage"`
	Pattern PatternConfig `yaml:"pattern"`
}

// ModelConfig configures the LLM endpoint settings
type ModelConfig struct {
	// Default is the default chat model (e.g. "qwen2.5:14b")
	Default string `yaml:"default"`
	// EmbedModel is the embeddings model (e.g. "nomic-embed-text")
	EmbedModel string `yaml:"embed_model"`
	// Endpoint is the OpenAI-compatible API endpoint (default: http://localhost:11434/v1)
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	// Backend is "memory" or "nats"
	Backend string `yaml:"backend"`
	// NATSURL is the NATS server URL when Backend is "nats"
	NATSURL string `yaml:"nats_url"`
}

// PatternConfig configures the pattern-evolution engine
type PatternConfig struct {
	// MinSimilar is the exemplar count required before auto-generalization
	MinSimilar int `yaml:"min_similar"`
	// MinSimilarity is the similarity floor for qualifying peers
	MinSimilarity float64 `yaml:"min_similarity"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:     "qwen2.5:14b",
			EmbedModel:  "nomic-embed-text",
			Endpoint:    "http://localhost:11434/v1",
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend: "memory",
			NATSURL: "nats://localhost:4222",
		},
		Pattern: PatternConfig{
			MinSimilar:    2,
			MinSimilarity: 0.75,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	switch c.Storage.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("storage.backend must be \"memory\" or \"nats\", got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "nats" && c.Storage.NATSURL == "" {
		return fmt.Errorf("storage.nats_url is required for the nats backend")
	}
	if c.Pattern.MinSimilar < 1 {
		return fmt.Errorf("pattern.min_similar must be at least 1")
	}
	if c.Pattern.MinSimilarity < 0 || c.Pattern.MinSimilarity > 1 {
		return fmt.Errorf("pattern.min_similarity must be between 0 and 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.EmbedModel != "" {
		c.Model.EmbedModel = other.Model.EmbedModel
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.NATSURL != "" {
		c.Storage.NATSURL = other.Storage.NATSURL
	}
	if other.Pattern.MinSimilar != 0 {
		c.Pattern.MinSimilar = other.Pattern.MinSimilar
	}
	if other.Pattern.MinSimilarity != 0 {
		c.Pattern.MinSimilarity = other.Pattern.MinSimilarity
	}
}
