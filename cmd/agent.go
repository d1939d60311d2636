package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linanwx/edgeagent/config"
	"github.com/linanwx/edgeagent/provider"
	"github.com/linanwx/edgeagent/thread"
)

var (
	messageFlag  string
	sessionFlag  string
	providerFlag string
	modelFlag    string
	apiKeyFlag   string
	apiBaseFlag  string
	streamFlag   bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with the home agent",
	Long: `Start an interactive chat session with the home agent,
or send a single message with the -m flag.

Use --provider, --model, --api-key, --api-base to override config at runtime.

Examples:
  edgeagent agent                                  # Interactive mode
  edgeagent agent -m "Turn on the kitchen light"   # Single message
  edgeagent agent --session home:kitchen -m "Is it warm in here?"
  edgeagent agent --provider anthropic --api-key sk-xxx -m "hi"`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Send a single message")
	agentCmd.Flags().StringVarP(&sessionFlag, "session", "s", "cli:interactive", "Session key")
	agentCmd.Flags().StringVar(&providerFlag, "provider", "", "Override provider ("+strings.Join(provider.SupportedProviders(), ", ")+")")
	agentCmd.Flags().StringVar(&modelFlag, "model", "", "Override model type")
	agentCmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "Override API key")
	agentCmd.Flags().StringVar(&apiBaseFlag, "api-base", "", "Override API base URL")
	agentCmd.Flags().BoolVar(&streamFlag, "stream", false, "Print state transitions while the turn runs")
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyAgentOverrides(cfg)

	rt, err := buildRuntime(cfg, true)
	if err != nil {
		return err
	}
	mgr := thread.NewManager(rt.threadConfig)
	defer mgr.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	th := mgr.NewThread(sessionFlag)

	if messageFlag != "" {
		response, err := runTurn(ctx, th, messageFlag)
		if err != nil {
			return fmt.Errorf("agent error: %w", err)
		}
		fmt.Println(response)
		return nil
	}

	fmt.Println("edgeagent interactive mode (type 'exit' or Ctrl+C to quit)")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("you> ")
		input, err := reader.ReadString('\n')
		if err != nil {
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			break
		}

		response, err := runTurn(ctx, th, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\nagent> %s\n\n", response)
	}
	return nil
}

func runTurn(ctx context.Context, th *thread.Thread, message string) (string, error) {
	response, err := th.RunTurn(ctx, message)
	if streamFlag {
		for _, h := range th.History() {
			fmt.Fprintf(os.Stderr, "  %s  %s\n", h.At.Format("15:04:05.000"), h.State)
		}
		fmt.Fprintf(os.Stderr, "  now  %s\n", th.State())
		if m, ok := th.Metrics(); ok {
			fmt.Fprintf(os.Stderr, "  iterations=%d tools=%d cacheHits=%d\n", m.Iterations, m.TotalToolCalls, m.CacheHits)
		}
	}
	return response, err
}

// applyAgentOverrides applies CLI flag overrides to config.
func applyAgentOverrides(cfg *config.Config) {
	if providerFlag != "" {
		cfg.Agent.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Agent.ModelType = modelFlag
	}
	if apiKeyFlag == "" && apiBaseFlag == "" {
		return
	}

	var pc **config.ProviderConfig
	switch strings.ToLower(cfg.Agent.Provider) {
	case "openai":
		pc = &cfg.Providers.OpenAI
	case "anthropic":
		pc = &cfg.Providers.Anthropic
	default:
		return
	}
	if *pc == nil {
		*pc = &config.ProviderConfig{}
	}
	if apiKeyFlag != "" {
		(*pc).APIKey = apiKeyFlag
	}
	if apiBaseFlag != "" {
		(*pc).APIBase = apiBaseFlag
	}
}
