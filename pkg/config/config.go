// Package config loads engine configuration from YAML files and
// environment variables via viper, with defaults for a zero-config
// in-memory setup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/soundprediction/mnemo/pkg/embed"
	"github.com/soundprediction/mnemo/pkg/extract"
	"github.com/soundprediction/mnemo/pkg/index"
	"github.com/soundprediction/mnemo/pkg/lifecycle"
	"github.com/soundprediction/mnemo/pkg/provider"
	"github.com/soundprediction/mnemo/pkg/reason"
	"github.com/soundprediction/mnemo/pkg/store"
)

// Config holds all configuration for the engine.
type Config struct {
	// GroupID scopes all reads and writes.
	GroupID string `mapstructure:"group_id"`

	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Store is the graph store backend.
	Store store.Config `mapstructure:"store"`

	// Index is the semantic vector index backend.
	Index index.Config `mapstructure:"index"`

	// Extract is the entity/relationship extraction collaborator.
	Extract extract.Config `mapstructure:"extract"`

	// Embed is the embedding collaborator.
	Embed embed.Config `mapstructure:"embed"`

	// Reason is the insight-generation collaborator.
	Reason reason.Config `mapstructure:"reason"`

	// Pipeline is the insight pipeline.
	Pipeline lifecycle.Config `mapstructure:"pipeline"`

	// Feedback tunes confidence adjustments.
	Feedback FeedbackConfig `mapstructure:"feedback"`

	// Providers tunes resilience around collaborator calls.
	Providers ProviderConfig `mapstructure:"providers"`

	// Telemetry configures the operation-event sink.
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

// FeedbackConfig holds confidence-adjustment tuning.
type FeedbackConfig struct {
	// ConfirmBoost is added to confidence on confirmation.
	ConfirmBoost float64 `mapstructure:"confirm_boost"`
	// RejectFactor multiplies confidence on rejection.
	RejectFactor float64 `mapstructure:"reject_factor"`
}

// ProviderConfig holds resilience settings shared by collaborator calls.
type ProviderConfig struct {
	// Timeout bounds a single collaborator call.
	Timeout time.Duration `mapstructure:"timeout"`
	// Retry configures backoff for transient failures.
	Retry provider.RetryConfig `mapstructure:"retry"`
	// Breaker configures the circuit breaker.
	Breaker provider.BreakerConfig `mapstructure:"circuit_breaker"`
}

// TelemetryConfig holds telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ParquetPath string `mapstructure:"parquet_path"`
}

// Load loads configuration from viper's current state plus defaults and
// environment overrides.
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)
	return config, nil
}

// LoadFile reads a YAML config file then applies defaults and environment
// overrides. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	}
	return Load()
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("group_id", "default")

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Store defaults: in-memory, no persistence
	viper.SetDefault("store.driver", "memory")
	viper.SetDefault("store.path", "./mnemo_db")
	viper.SetDefault("store.uri", "")
	viper.SetDefault("store.username", "")
	viper.SetDefault("store.password", "")
	viper.SetDefault("store.database", "")

	// Index defaults
	viper.SetDefault("index.driver", "memory")
	viper.SetDefault("index.path", "./mnemo_index.db")
	viper.SetDefault("index.dimensions", index.DefaultDimensions)
	viper.SetDefault("index.min_score", 0.0)

	// Collaborator defaults
	viper.SetDefault("extract.provider", "openai")
	viper.SetDefault("extract.model", "")
	viper.SetDefault("extract.temperature", 0.0)

	viper.SetDefault("embed.provider", "local")
	viper.SetDefault("embed.model", "all-MiniLM-L6-v2")
	viper.SetDefault("embed.dimensions", index.DefaultDimensions)

	viper.SetDefault("reason.provider", "openai")
	viper.SetDefault("reason.model", "")
	viper.SetDefault("reason.temperature", 0.2)

	// Pipeline defaults
	viper.SetDefault("pipeline.confidence_min", 0.6)
	viper.SetDefault("pipeline.batch_size", 50)
	viper.SetDefault("pipeline.cooldown", "60s")

	// Feedback defaults
	viper.SetDefault("feedback.confirm_boost", 0.1)
	viper.SetDefault("feedback.reject_factor", 0.5)

	// Provider resilience defaults
	viper.SetDefault("providers.timeout", "30s")
	viper.SetDefault("providers.circuit_breaker.enabled", true)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", false)
	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("telemetry.parquet_path", fmt.Sprintf("%s/.mnemo/telemetry", home))
	}
}

// overrideWithEnv overrides config with environment variables.
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.Extract.APIKey == "" {
			config.Extract.APIKey = apiKey
		}
		if config.Embed.APIKey == "" {
			config.Embed.APIKey = apiKey
		}
		if config.Reason.APIKey == "" {
			config.Reason.APIKey = apiKey
		}
	}

	// Graph database credentials
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Store.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Store.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Store.Password = pass
	}

	// Embedded database locations
	if dbPath := os.Getenv("MNEMO_DB_PATH"); dbPath != "" {
		config.Store.Path = dbPath
	}
	if indexPath := os.Getenv("MNEMO_INDEX_PATH"); indexPath != "" {
		config.Index.Path = indexPath
	}

	// Generic backend selection
	if driver := os.Getenv("MNEMO_STORE_DRIVER"); driver != "" {
		config.Store.Driver = driver
	}
	if driver := os.Getenv("MNEMO_INDEX_DRIVER"); driver != "" {
		config.Index.Driver = driver
	}
	if groupID := os.Getenv("MNEMO_GROUP_ID"); groupID != "" {
		config.GroupID = groupID
	}

	// Telemetry settings
	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
		config.Telemetry.Enabled = true
	}
}
