package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 0. Check for nil config (defensive programming)
	if c == nil {
		return ErrConfigNil
	}

	// 1. API key validation (required for embedding, synthesis and
	// transcription; every write path calls the embedder)
	if os.Getenv("OPENAI_API_KEY") == "" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required\n"+
			"Create an API key at: https://platform.openai.com/api-keys",
			ErrMissingAPIKey)
	}

	// 2. Model configuration validation
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.SynthesisModel == "" {
		return fmt.Errorf("%w: synthesis_model cannot be empty", ErrInvalidSynthesisModel)
	}

	// 3. Search configuration validation
	// Threshold is a cosine similarity bound, so it lives in [0, 1).
	if c.SemanticThreshold < 0.0 || c.SemanticThreshold >= 1.0 {
		return fmt.Errorf("%w: must be in [0.0, 1.0), got %.2f", ErrInvalidSearchThreshold, c.SemanticThreshold)
	}

	if c.SemanticLimit < 1 || c.SemanticLimit > 100 {
		return fmt.Errorf("%w: semantic_limit must be between 1 and 100, got %d", ErrInvalidSearchLimit, c.SemanticLimit)
	}

	if c.FulltextLimit < 1 || c.FulltextLimit > 100 {
		return fmt.Errorf("%w: fulltext_limit must be between 1 and 100, got %d", ErrInvalidSearchLimit, c.FulltextLimit)
	}

	// Similarity floor is a raw cosine value, so [-1, 1).
	if c.SimilarityFloor < -1.0 || c.SimilarityFloor >= 1.0 {
		return fmt.Errorf("%w: must be in [-1.0, 1.0), got %.2f", ErrInvalidSimilarityFloor, c.SimilarityFloor)
	}

	// 4. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn on the default dev password but don't block, the user might be in dev.
	if c.PostgresPassword == "commonbase_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Validate password strength (minimum 8 characters)
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// 5. PostgreSQL SSL mode validation
	// DO NOT mutate config in Validate() - just validate
	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
