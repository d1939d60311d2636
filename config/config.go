// Package config handles configuration loading and saving.
package config

import (
	"strings"
)

const (
	configFileName = "config.yaml"
)

var configDirOverride string

// SetConfigDir overrides the config directory for the current process.
// Empty value clears the override.
func SetConfigDir(dir string) {
	configDirOverride = strings.TrimSpace(dir)
}

// Config is the root configuration structure.
type Config struct {
	Agent        AgentConfig        `json:"agent" yaml:"agent"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Providers    ProvidersConfig    `json:"providers" yaml:"providers"`
	Logging      LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// AgentConfig contains the model and turn defaults.
type AgentConfig struct {
	Provider            string  `json:"provider" yaml:"provider"` // openai, anthropic
	ModelType           string  `json:"modelType" yaml:"modelType"`
	Workspace           string  `json:"workspace,omitempty" yaml:"workspace,omitempty"`                     // defaults to ~/.edgeagent/workspace
	MaxTokens           int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`                     // defaults to 4096
	Temperature         float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`                 // defaults to 0.7
	MaxIterations       int     `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`             // tool rounds per turn, defaults to 8
	ContextWindowTokens int     `json:"contextWindowTokens,omitempty" yaml:"contextWindowTokens,omitempty"` // defaults to 32000
	ContextWarnRatio    float64 `json:"contextWarnRatio,omitempty" yaml:"contextWarnRatio,omitempty"`       // defaults to 0.8
}

// OrchestratorConfig groups the settings of the per-turn orchestration core.
type OrchestratorConfig struct {
	StateMachine StateMachineConfig `json:"stateMachine" yaml:"stateMachine"`
	Context      ContextConfig      `json:"context" yaml:"context"`
	Cache        CacheConfig        `json:"cache" yaml:"cache"`
	Execution    ExecutionConfig    `json:"execution" yaml:"execution"`
}

// StateMachineConfig bounds state history and sets advisory timeouts.
type StateMachineConfig struct {
	MaxHistorySize           int `json:"maxHistorySize,omitempty" yaml:"maxHistorySize,omitempty"`
	ProcessingTimeoutSecs    int `json:"processingTimeoutSecs,omitempty" yaml:"processingTimeoutSecs,omitempty"`
	GeneratingTimeoutSecs    int `json:"generatingTimeoutSecs,omitempty" yaml:"generatingTimeoutSecs,omitempty"`
	ToolExecutionTimeoutSecs int `json:"toolExecutionTimeoutSecs,omitempty" yaml:"toolExecutionTimeoutSecs,omitempty"`
}

// ContextConfig tunes context window selection.
type ContextConfig struct {
	MaxTokens           int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	MinMessages         int     `json:"minMessages,omitempty" yaml:"minMessages,omitempty"`
	// ImportanceThreshold is a pointer so an explicit 0 disables filtering.
	ImportanceThreshold *float64 `json:"importanceThreshold,omitempty" yaml:"importanceThreshold,omitempty"`
	KeepToolResults     int     `json:"keepToolResults,omitempty" yaml:"keepToolResults,omitempty"`
}

// CacheConfig tunes the per-session tool result cache.
type CacheConfig struct {
	MaxSize             int `json:"maxSize,omitempty" yaml:"maxSize,omitempty"`
	ShortTTLSecs        int `json:"shortTTLSecs,omitempty" yaml:"shortTTLSecs,omitempty"`
	LongTTLSecs         int `json:"longTTLSecs,omitempty" yaml:"longTTLSecs,omitempty"`
	JanitorIntervalSecs int `json:"janitorIntervalSecs,omitempty" yaml:"janitorIntervalSecs,omitempty"`
}

// ExecutionConfig tunes tool execution inside a batch.
type ExecutionConfig struct {
	MaxParallelTools int `json:"maxParallelTools,omitempty" yaml:"maxParallelTools,omitempty"`
	ToolTimeoutSecs  int `json:"toolTimeoutSecs,omitempty" yaml:"toolTimeoutSecs,omitempty"`
	MaxRetries       int `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	RetryBaseDelayMs int `json:"retryBaseDelayMs,omitempty" yaml:"retryBaseDelayMs,omitempty"`
}

// ProvidersConfig contains provider API configurations.
type ProvidersConfig struct {
	OpenAI    *ProviderConfig `json:"openai,omitempty" yaml:"openai,omitempty"`
	Anthropic *ProviderConfig `json:"anthropic,omitempty" yaml:"anthropic,omitempty"`
}

// ProviderConfig contains API credentials for a provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"` // optional custom base URL
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Level   string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Format  string `json:"format,omitempty" yaml:"format,omitempty"` // text or json
	Stdout  bool   `json:"stdout,omitempty" yaml:"stdout,omitempty"` // log to stdout
	File    string `json:"file,omitempty" yaml:"file,omitempty"`     // log file path
}
