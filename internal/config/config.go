// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, including DATABASE_URL)
//  2. Config file (~/.commonbase/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Server: listen address, CORS origins, proxy trust, rate limiting
//   - Storage: PostgreSQL connection (see storage.go)
//   - AI: OpenAI embedding, synthesis and transcription models
//   - Search & graph: hybrid search and similarity graph tuning
//
// Security: sensitive values (passwords, API keys) are masked in MarshalJSON
// and String. Validation lives in validation.go and returns sentinel errors
// usable with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidSynthesisModel indicates the synthesis model is invalid.
	ErrInvalidSynthesisModel = errors.New("invalid synthesis model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidSearchThreshold indicates the semantic search threshold is out of range.
	ErrInvalidSearchThreshold = errors.New("invalid search threshold")

	// ErrInvalidSearchLimit indicates a search result limit is out of range.
	ErrInvalidSearchLimit = errors.New("invalid search limit")

	// ErrInvalidSimilarityFloor indicates the similarity graph floor is out of range.
	ErrInvalidSimilarityFloor = errors.New("invalid similarity floor")
)

// Default AI model identifiers. text-embedding-3-small produces the
// 1536-dimension vectors the embeddings schema is built around.
const (
	DefaultEmbedderModel      = "text-embedding-3-small"
	DefaultSynthesisModel     = "gpt-4o"
	DefaultTranscriptionModel = "gpt-4o"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// Server configuration
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	// TrustProxy enables reading X-Real-IP / X-Forwarded-For for rate
	// limiting. Only set behind a trusted reverse proxy.
	TrustProxy bool `mapstructure:"trust_proxy" json:"trust_proxy"`
	// RateBurst is the per-IP token bucket burst size (0 = package default).
	RateBurst int `mapstructure:"rate_burst" json:"rate_burst"`

	// PostgreSQL configuration (see storage.go for DSN/URL assembly)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// AI provider configuration. The API key comes from OPENAI_API_KEY.
	// BaseURL is optional, mainly for proxies and tests.
	OpenAIAPIKey       string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIBaseURL      string `mapstructure:"openai_base_url" json:"openai_base_url"`
	EmbedderModel      string `mapstructure:"embedder_model" json:"embedder_model"`
	SynthesisModel     string `mapstructure:"synthesis_model" json:"synthesis_model"`
	TranscriptionModel string `mapstructure:"transcription_model" json:"transcription_model"`

	// Hybrid search defaults. The threshold applies to the semantic half
	// and can be overridden per request.
	SemanticLimit     int     `mapstructure:"semantic_limit" json:"semantic_limit"`
	SemanticThreshold float64 `mapstructure:"semantic_threshold" json:"semantic_threshold"`
	FulltextLimit     int     `mapstructure:"fulltext_limit" json:"fulltext_limit"`

	// SimilarityFloor is the minimum raw cosine similarity for the global
	// "similar" bucket of the similarity graph.
	SimilarityFloor float64 `mapstructure:"similarity_floor" json:"similarity_floor"`

	// AssetsDir holds uploaded images (<AssetsDir>/uploads) and seed
	// datasets (<AssetsDir>/seeds).
	AssetsDir string `mapstructure:"assets_dir" json:"assets_dir"`

	// Tracing configuration (optional; empty agent host disables tracing)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// TracingConfig holds OTLP trace export configuration.
type TracingConfig struct {
	// AgentHost is the OTLP HTTP endpoint (e.g. localhost:4318).
	// Empty disables tracing.
	AgentHost string `mapstructure:"agent_host" json:"agent_host"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the reported service name (default: commonbase)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".commonbase")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL has the highest priority for PostgreSQL settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Server defaults
	viper.SetDefault("addr", "localhost:3030")
	viper.SetDefault("cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 0)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "commonbase")
	viper.SetDefault("postgres_password", "commonbase_dev_password")
	viper.SetDefault("postgres_db_name", "commonbase")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// AI defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("synthesis_model", DefaultSynthesisModel)
	viper.SetDefault("transcription_model", DefaultTranscriptionModel)

	// Hybrid search defaults
	viper.SetDefault("semantic_limit", 10)
	viper.SetDefault("semantic_threshold", 0.5)
	viper.SetDefault("fulltext_limit", 10)

	// Similarity graph defaults
	viper.SetDefault("similarity_floor", 0.1)

	// Assets
	viper.SetDefault("assets_dir", "public/assets")

	// Tracing defaults (agent_host intentionally unset = disabled)
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "commonbase")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_base_url", "OPENAI_BASE_URL")

	mustBind("addr", "COMMONBASE_ADDR")
	mustBind("trust_proxy", "COMMONBASE_TRUST_PROXY")
	mustBind("rate_burst", "COMMONBASE_RATE_BURST")
	mustBind("assets_dir", "COMMONBASE_ASSETS_DIR")

	mustBind("tracing.agent_host", "OTEL_EXPORTER_AGENT_HOST")

	// NOTE: DATABASE_URL is handled separately in parseDatabaseURL because
	// it fans out into several postgres_* fields.
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "********"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked; longer secrets keep the first and last 2
// characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + maskedValue + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - OpenAIAPIKey
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
