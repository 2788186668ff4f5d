package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	if provider == "openai" && !strings.HasPrefix(key, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
	}

	return nil
}

// ValidateProvider validates an embedding provider name
func (v *Validator) ValidateProvider(provider string) error {
	validProviders := []string{"openai", "ollama", "hash", "none"}
	if provider == "" {
		return nil // Same as none
	}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid embedding provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateExtension validates a document extension
func (v *Validator) ValidateExtension(ext string) error {
	if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
		return fmt.Errorf("invalid extension %q (must start with a dot)", ext)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateURL validates an optional service URL
func (v *Validator) ValidateURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q (scheme must be http or https)", raw)
	}
	return nil
}

// ValidateCron validates a five-field cron expression
func (v *Validator) ValidateCron(expr string) error {
	if expr == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := cfg.Validate(); err != nil {
		errors = append(errors, err)
	}

	for _, ext := range cfg.Documents.Extensions {
		if err := v.ValidateExtension(ext); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Server.Enabled {
		if err := v.ValidatePort(cfg.Server.Port); err != nil {
			errors = append(errors, fmt.Errorf("server: %w", err))
		}
	}

	if err := v.ValidateProvider(cfg.Embedding.Provider); err != nil {
		errors = append(errors, err)
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey != "" && cfg.Embedding.BaseURL == "" {
		if err := v.ValidateAPIKey(cfg.Embedding.APIKey, "openai"); err != nil {
			errors = append(errors, fmt.Errorf("embedding: %w", err))
		}
	}
	if err := v.ValidateURL(cfg.Embedding.BaseURL); err != nil {
		errors = append(errors, fmt.Errorf("embedding.base_url: %w", err))
	}
	if err := v.ValidateURL(cfg.Embedding.OllamaHost); err != nil {
		errors = append(errors, fmt.Errorf("embedding.ollama_host: %w", err))
	}
	if cfg.Embedding.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Embedding.MaxTokens); err != nil {
			errors = append(errors, fmt.Errorf("embedding: %w", err))
		}
	}

	if err := v.ValidateCron(cfg.Scheduler.Cron); err != nil {
		errors = append(errors, fmt.Errorf("scheduler: %w", err))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
