package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/linanwx/edgeagent/config"
	"github.com/linanwx/edgeagent/provider"
	"github.com/linanwx/edgeagent/thread"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize edgeagent configuration and workspace",
	Long: `Create the edgeagent configuration directory, the default config file
and the workspace. Without --yes an interactive wizard asks for the provider,
model and API key.

Examples:
  edgeagent onboard
  edgeagent onboard --yes --provider anthropic --api-key sk-ant-xxx`,
	RunE: runOnboard,
}

var (
	onboardYes      bool
	onboardProvider string
	onboardModel    string
	onboardAPIKey   string
	onboardAPIBase  string
)

func init() {
	onboardCmd.Flags().BoolVarP(&onboardYes, "yes", "y", false, "Skip the wizard and use flags and defaults")
	onboardCmd.Flags().StringVar(&onboardProvider, "provider", "", "Provider ("+strings.Join(provider.SupportedProviders(), ", ")+")")
	onboardCmd.Flags().StringVar(&onboardModel, "model", "", "Model type")
	onboardCmd.Flags().StringVar(&onboardAPIKey, "api-key", "", "API key")
	onboardCmd.Flags().StringVar(&onboardAPIBase, "api-base", "", "API base URL, e.g. a local OpenAI-compatible server")
	rootCmd.AddCommand(onboardCmd)
}

// suggestedModels lists the wizard's model choices per provider. The first
// one is the default.
var suggestedModels = map[string][]string{
	"openai":    {"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"},
	"anthropic": {"claude-3-5-haiku-latest", "claude-sonnet-4-0"},
}

// providerURLs maps provider names to their API key portal URLs.
var providerURLs = map[string]string{
	"openai":    "https://platform.openai.com/api-keys",
	"anthropic": "https://console.anthropic.com",
}

func runOnboard(_ *cobra.Command, _ []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config already exists at:", configPath)
		fmt.Println("To reconfigure, edit the file directly or delete it first.")
		return nil
	}

	cfg := config.DefaultConfig()
	choice := onboardChoice{
		provider: firstNonEmpty(onboardProvider, cfg.Agent.Provider),
		model:    onboardModel,
		apiKey:   onboardAPIKey,
		apiBase:  onboardAPIBase,
	}
	if !onboardYes {
		if err := choice.ask(); err != nil {
			return err
		}
	}
	if err := choice.apply(cfg); err != nil {
		return err
	}

	configDir, _ := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := cfg.EnsureWorkspace(); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	workspace, _ := cfg.WorkspacePath()
	if err := createBootstrapFiles(workspace); err != nil {
		return fmt.Errorf("failed to create bootstrap files: %w", err)
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("edgeagent initialized successfully!")
	fmt.Println()
	fmt.Println("  Config:", configPath)
	fmt.Println("  Workspace:", workspace)
	fmt.Println("  Provider:", cfg.Agent.Provider)
	fmt.Println("  Model:", cfg.Agent.ModelType)
	fmt.Println()
	fmt.Println("Run 'edgeagent agent' to chat or 'edgeagent serve' to start the service.")
	return nil
}

type onboardChoice struct {
	provider string
	model    string
	apiKey   string
	apiBase  string
}

// ask runs the interactive wizard, prefilled with flag values.
func (c *onboardChoice) ask() error {
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose your LLM provider").
				Options(huh.NewOptions(provider.SupportedProviders()...)...).
				Value(&c.provider),
		),
	).Run()
	if err != nil {
		return err
	}

	if c.model == "" {
		c.model = defaultModelFor(c.provider)
	}
	models := suggestedModels[c.provider]
	modelField := huh.NewInput().
		Title("Model for " + c.provider).
		Value(&c.model)
	if len(models) > 0 {
		modelField = modelField.Suggestions(models).Description("Suggested: " + strings.Join(models, ", "))
	}

	return huh.NewForm(
		huh.NewGroup(
			modelField,
			huh.NewInput().
				Title("Enter your "+c.provider+" API key").
				Description("Create one at "+providerURLs[c.provider]+". Leave empty for a local server.").
				EchoMode(huh.EchoModePassword).
				Value(&c.apiKey),
			huh.NewInput().
				Title("API base URL").
				Description("Optional. Point it at a gateway or local model server.").
				Value(&c.apiBase),
		),
	).Run()
}

func (c onboardChoice) apply(cfg *config.Config) error {
	name := strings.ToLower(strings.TrimSpace(c.provider))
	var pc **config.ProviderConfig
	switch name {
	case "openai":
		pc = &cfg.Providers.OpenAI
	case "anthropic":
		pc = &cfg.Providers.Anthropic
	default:
		return errors.New("unsupported provider: " + c.provider)
	}
	cfg.Agent.Provider = name
	cfg.Agent.ModelType = firstNonEmpty(strings.TrimSpace(c.model), defaultModelFor(name))
	*pc = &config.ProviderConfig{
		APIKey:  strings.TrimSpace(c.apiKey),
		APIBase: strings.TrimSpace(c.apiBase),
	}
	return nil
}

func defaultModelFor(providerName string) string {
	if models := suggestedModels[providerName]; len(models) > 0 {
		return models[0]
	}
	return config.DefaultConfig().Agent.ModelType
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// createBootstrapFiles lays out the workspace and writes the editable
// system prompt, leaving existing files alone.
func createBootstrapFiles(workspace string) error {
	if err := os.MkdirAll(filepath.Join(workspace, "sessions"), 0755); err != nil {
		return err
	}
	promptPath := filepath.Join(workspace, thread.SystemPromptFile)
	if _, err := os.Stat(promptPath); err == nil {
		return nil
	}
	return os.WriteFile(promptPath, []byte(thread.DefaultSystemPrompt+"\n"), 0644)
}
