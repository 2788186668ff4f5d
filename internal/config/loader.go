package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "specmgr.config.yaml"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, overlays SPECMGR_* environment variables and
// fills in paths derived from the file location.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetEnvPrefix("SPECMGR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, DefaultConfig())

	// The OpenAI SDK convention wins when no explicit key is configured.
	_ = v.BindEnv("embedding.api_key", "SPECMGR_EMBEDDING_API_KEY", "OPENAI_API_KEY")

	fileFound := false
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType(configType(configPath))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		fileFound = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Relative paths resolve against the config file's directory.
	baseDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	if fileFound {
		baseDir = filepath.Dir(configPath)
	}
	resolvePaths(cfg, baseDir)

	return cfg, nil
}

// bindDefaults registers every key so environment overrides apply even when
// the file leaves the key out.
func bindDefaults(v *viper.Viper, cfg *Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	setDefaults(v, "", tree)
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			setDefaults(v, full, nested)
			continue
		}
		v.SetDefault(full, value)
	}
}

func resolvePaths(cfg *Config, baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	cfg.Documents.Path = abs(cfg.Documents.Path)

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(baseDir, ".specmgr")
	}
	cfg.DataDir = abs(cfg.DataDir)

	if cfg.VectorDB.Path == "" {
		cfg.VectorDB.Path = filepath.Join(cfg.DataDir, "vectors.db")
	}
	cfg.VectorDB.Path = abs(cfg.VectorDB.Path)

	if cfg.Queue.Path == "" {
		cfg.Queue.Path = filepath.Join(cfg.DataDir, "queue.db")
	}
	cfg.Queue.Path = abs(cfg.Queue.Path)

	cfg.Logging.File = abs(cfg.Logging.File)
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// Save writes cfg as YAML to the loader's path.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(configPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultFileName
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Embedding.APIKey != "" {
		out.Embedding.APIKey = "***"
	}
	return &out
}
