package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-test123", "openai"))
	assert.Error(t, v.ValidateAPIKey("", "openai"))
	assert.Error(t, v.ValidateAPIKey("invalid-key", "openai"))
}

func TestValidateProvider(t *testing.T) {
	v := NewValidator()

	for _, p := range []string{"", "openai", "ollama", "hash", "none"} {
		assert.NoError(t, v.ValidateProvider(p), p)
	}
	assert.Error(t, v.ValidateProvider("anthropic"))
}

func TestValidateExtension(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateExtension(".md"))
	assert.Error(t, v.ValidateExtension("md"))
	assert.Error(t, v.ValidateExtension("."))
}

func TestValidatePort(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(3000))
	assert.Error(t, v.ValidatePort(0))
	assert.Error(t, v.ValidatePort(65536))
}

func TestValidateURL(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateURL(""))
	assert.NoError(t, v.ValidateURL("http://localhost:11434"))
	assert.Error(t, v.ValidateURL("localhost:11434"))
	assert.Error(t, v.ValidateURL("ftp://example.com"))
}

func TestValidateCron(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateCron(""))
	assert.NoError(t, v.ValidateCron("0 * * * *"))
	assert.Error(t, v.ValidateCron("every minute"))
	assert.Error(t, v.ValidateCron("0 0 * * * *"))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("defaults are valid", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Documents.Extensions = []string{"md"}
		cfg.Embedding.APIKey = "not-a-key"
		cfg.Scheduler.Cron = "bogus"
		cfg.Logging.Level = "loud"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 4)
	})

	t.Run("custom base url skips key format", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Embedding.APIKey = "proxy-token"
		cfg.Embedding.BaseURL = "http://localhost:8080/v1"

		assert.Empty(t, v.ValidateConfig(cfg))
	})
}
