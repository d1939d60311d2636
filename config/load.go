package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linanwx/edgeagent/logger"
)

const (
	defaultConfigDirName = ".edgeagent"
	workspaceDirName     = "workspace"
)

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return expandHome(configDirOverride)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, defaultConfigDirName), nil
}

// ConfigPath returns the full path of config.yaml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Load reads config.yaml and applies defaults.
// A missing file yields the default config.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the config at path and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to config.yaml.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes the config to path.
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// WorkspacePath returns the absolute workspace directory.
func (c *Config) WorkspacePath() (string, error) {
	if ws := strings.TrimSpace(c.Agent.Workspace); ws != "" {
		return expandHome(ws)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, workspaceDirName), nil
}

// EnsureWorkspace creates the workspace directory if needed.
func (c *Config) EnsureWorkspace() error {
	ws, err := c.WorkspacePath()
	if err != nil {
		return err
	}
	return os.MkdirAll(ws, 0755)
}

// BuildLoggerConfig converts logging settings for logger.Init.
func (c *Config) BuildLoggerConfig() logger.Config {
	enabled := true
	if c.Logging.Enabled != nil {
		enabled = *c.Logging.Enabled
	}
	return logger.Config{
		Enabled: enabled,
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		Stdout:  c.Logging.Stdout,
		File:    c.Logging.File,
	}
}

// ProviderConfigFor returns credentials for the named provider.
// API keys fall back to OPENAI_API_KEY / ANTHROPIC_API_KEY.
func (c *Config) ProviderConfigFor(name string) ProviderConfig {
	var pc *ProviderConfig
	var env string
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		pc, env = c.Providers.OpenAI, "OPENAI_API_KEY"
	case "anthropic":
		pc, env = c.Providers.Anthropic, "ANTHROPIC_API_KEY"
	}

	out := ProviderConfig{}
	if pc != nil {
		out = *pc
	}
	if strings.TrimSpace(out.APIKey) == "" && env != "" {
		out.APIKey = os.Getenv(env)
	}
	return out
}

// ProcessingTimeout returns the advisory timeout of the Processing state.
func (s StateMachineConfig) ProcessingTimeout() time.Duration {
	return time.Duration(s.ProcessingTimeoutSecs) * time.Second
}

// GeneratingTimeout returns the advisory timeout of the Generating state.
func (s StateMachineConfig) GeneratingTimeout() time.Duration {
	return time.Duration(s.GeneratingTimeoutSecs) * time.Second
}

// ToolExecutionTimeout returns the advisory timeout of the ExecutingTools state.
func (s StateMachineConfig) ToolExecutionTimeout() time.Duration {
	return time.Duration(s.ToolExecutionTimeoutSecs) * time.Second
}

// Threshold returns the importance threshold, falling back to the default
// when unset.
func (c ContextConfig) Threshold() float64 {
	if c.ImportanceThreshold == nil {
		return defaultImportanceThreshold
	}
	return *c.ImportanceThreshold
}

// ShortTTL is the TTL of volatile device/query results.
func (c CacheConfig) ShortTTL() time.Duration {
	return time.Duration(c.ShortTTLSecs) * time.Second
}

// LongTTL is the TTL of slow-changing list/get results.
func (c CacheConfig) LongTTL() time.Duration {
	return time.Duration(c.LongTTLSecs) * time.Second
}

// JanitorInterval is how often expired cache entries are purged.
func (c CacheConfig) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalSecs) * time.Second
}

// ToolTimeout bounds a single tool attempt.
func (e ExecutionConfig) ToolTimeout() time.Duration {
	return time.Duration(e.ToolTimeoutSecs) * time.Second
}

// RetryBaseDelay is the first retry delay; later retries double it.
func (e ExecutionConfig) RetryBaseDelay() time.Duration {
	return time.Duration(e.RetryBaseDelayMs) * time.Millisecond
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return filepath.Abs(path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
