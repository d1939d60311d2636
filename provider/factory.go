package provider

import (
	"fmt"
	"os"
	"strings"

	"github.com/linanwx/edgeagent/config"
)

// New builds the provider selected by cfg.Agent.Provider.
func New(cfg *config.Config) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Agent.Provider))
	reg, ok := providerRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(SupportedProviders(), ", "))
	}

	pc := cfg.ProviderConfigFor(name)
	if strings.TrimSpace(pc.APIKey) == "" {
		return nil, fmt.Errorf("provider %s: api key not configured", name)
	}

	base := strings.TrimSpace(pc.APIBase)
	if base == "" && reg.EnvBase != "" {
		base = strings.TrimSpace(os.Getenv(reg.EnvBase))
	}
	if base == "" {
		base = reg.DefaultBase
	}

	return reg.Constructor(Settings{
		APIKey:      pc.APIKey,
		APIBase:     base,
		ModelName:   cfg.Agent.ModelType,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
	}), nil
}
