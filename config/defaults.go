package config

const (
	defaultProvider            = "openai"
	defaultModelType           = "gpt-4o-mini"
	defaultMaxTokens           = 4096
	defaultTemperature         = 0.7
	defaultMaxIterations       = 8
	defaultContextWindowTokens = 32000
	defaultContextWarnRatio    = 0.8

	defaultMaxHistorySize       = 100
	defaultProcessingTimeout    = 30
	defaultGeneratingTimeout    = 300
	defaultToolExecutionTimeout = 120
	defaultContextMaxTokens     = 8000
	defaultMinMessages          = 4
	defaultImportanceThreshold  = 0.15
	defaultKeepToolResults      = 2
	defaultCacheMaxSize         = 100
	defaultShortTTL             = 60
	defaultLongTTL              = 300
	defaultJanitorInterval      = 60
	defaultMaxParallelTools     = 8
	defaultToolTimeout          = 30
	defaultMaxRetries           = 2
	defaultRetryBaseDelayMs     = 100
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:            defaultProvider,
			ModelType:           defaultModelType,
			MaxTokens:           defaultMaxTokens,
			Temperature:         defaultTemperature,
			MaxIterations:       defaultMaxIterations,
			ContextWindowTokens: defaultContextWindowTokens,
			ContextWarnRatio:    defaultContextWarnRatio,
		},
		Orchestrator: defaultOrchestratorConfig(),
		Providers: ProvidersConfig{
			OpenAI: &ProviderConfig{APIKey: ""},
		},
		Logging: defaultLoggingConfig(),
	}
}

func defaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		StateMachine: StateMachineConfig{
			MaxHistorySize:           defaultMaxHistorySize,
			ProcessingTimeoutSecs:    defaultProcessingTimeout,
			GeneratingTimeoutSecs:    defaultGeneratingTimeout,
			ToolExecutionTimeoutSecs: defaultToolExecutionTimeout,
		},
		Context: ContextConfig{
			MaxTokens:           defaultContextMaxTokens,
			MinMessages:         defaultMinMessages,
			ImportanceThreshold: ptr(defaultImportanceThreshold),
			KeepToolResults:     defaultKeepToolResults,
		},
		Cache: CacheConfig{
			MaxSize:             defaultCacheMaxSize,
			ShortTTLSecs:        defaultShortTTL,
			LongTTLSecs:         defaultLongTTL,
			JanitorIntervalSecs: defaultJanitorInterval,
		},
		Execution: ExecutionConfig{
			MaxParallelTools: defaultMaxParallelTools,
			ToolTimeoutSecs:  defaultToolTimeout,
			MaxRetries:       defaultMaxRetries,
			RetryBaseDelayMs: defaultRetryBaseDelayMs,
		},
	}
}

func defaultLoggingConfig() LoggingConfig {
	enabled := true
	return LoggingConfig{
		Enabled: &enabled,
		Level:   "info",
		Stdout:  true,
		File:    "logs/edgeagent.log",
	}
}

func (c *Config) applyDefaults() {
	if c.Agent.Provider == "" {
		c.Agent.Provider = defaultProvider
	}
	if c.Agent.ModelType == "" {
		c.Agent.ModelType = defaultModelType
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = defaultMaxTokens
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = defaultTemperature
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = defaultMaxIterations
	}
	if c.Agent.ContextWindowTokens <= 0 {
		c.Agent.ContextWindowTokens = defaultContextWindowTokens
	}
	if c.Agent.ContextWarnRatio <= 0 || c.Agent.ContextWarnRatio >= 1 {
		c.Agent.ContextWarnRatio = defaultContextWarnRatio
	}

	c.Orchestrator.applyDefaults()

	def := defaultLoggingConfig()
	if c.Logging == (LoggingConfig{}) {
		c.Logging = def
		return
	}

	hasAny := c.Logging.Level != "" || c.Logging.File != "" || c.Logging.Stdout
	if c.Logging.Enabled == nil && hasAny {
		enabled := true
		c.Logging.Enabled = &enabled
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Level
	}
	if c.Logging.File == "" {
		c.Logging.File = def.File
	}
	if c.Logging.Enabled == nil {
		c.Logging.Enabled = def.Enabled
	}
}

// WithDefaults returns o with every unset value replaced by its default.
func (o OrchestratorConfig) WithDefaults() OrchestratorConfig {
	o.applyDefaults()
	return o
}

func (o *OrchestratorConfig) applyDefaults() {
	def := defaultOrchestratorConfig()

	sm := &o.StateMachine
	if sm.MaxHistorySize <= 0 {
		sm.MaxHistorySize = def.StateMachine.MaxHistorySize
	}
	if sm.ProcessingTimeoutSecs <= 0 {
		sm.ProcessingTimeoutSecs = def.StateMachine.ProcessingTimeoutSecs
	}
	if sm.GeneratingTimeoutSecs <= 0 {
		sm.GeneratingTimeoutSecs = def.StateMachine.GeneratingTimeoutSecs
	}
	if sm.ToolExecutionTimeoutSecs <= 0 {
		sm.ToolExecutionTimeoutSecs = def.StateMachine.ToolExecutionTimeoutSecs
	}

	cx := &o.Context
	if cx.MaxTokens <= 0 {
		cx.MaxTokens = def.Context.MaxTokens
	}
	if cx.MinMessages <= 0 {
		cx.MinMessages = def.Context.MinMessages
	}
	switch {
	case cx.ImportanceThreshold == nil:
		cx.ImportanceThreshold = ptr(defaultImportanceThreshold)
	case *cx.ImportanceThreshold < 0:
		cx.ImportanceThreshold = ptr(0.0)
	case *cx.ImportanceThreshold > 1:
		cx.ImportanceThreshold = ptr(1.0)
	}
	if cx.KeepToolResults <= 0 {
		cx.KeepToolResults = def.Context.KeepToolResults
	}

	ca := &o.Cache
	if ca.MaxSize <= 0 {
		ca.MaxSize = def.Cache.MaxSize
	}
	if ca.ShortTTLSecs <= 0 {
		ca.ShortTTLSecs = def.Cache.ShortTTLSecs
	}
	if ca.LongTTLSecs <= 0 {
		ca.LongTTLSecs = def.Cache.LongTTLSecs
	}
	if ca.JanitorIntervalSecs <= 0 {
		ca.JanitorIntervalSecs = def.Cache.JanitorIntervalSecs
	}

	ex := &o.Execution
	if ex.MaxParallelTools <= 0 {
		ex.MaxParallelTools = def.Execution.MaxParallelTools
	}
	if ex.ToolTimeoutSecs <= 0 {
		ex.ToolTimeoutSecs = def.Execution.ToolTimeoutSecs
	}
	if ex.MaxRetries <= 0 {
		ex.MaxRetries = def.Execution.MaxRetries
	}
	if ex.RetryBaseDelayMs <= 0 {
		ex.RetryBaseDelayMs = def.Execution.RetryBaseDelayMs
	}
}

func ptr[T any](v T) *T { return &v }
