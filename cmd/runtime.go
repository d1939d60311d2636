package cmd

import (
	"fmt"

	"github.com/linanwx/edgeagent/config"
	"github.com/linanwx/edgeagent/logger"
	"github.com/linanwx/edgeagent/provider"
	"github.com/linanwx/edgeagent/session"
	"github.com/linanwx/edgeagent/thread"
	"github.com/linanwx/edgeagent/tools"
)

// agentRuntime holds what a command needs to run turns.
type agentRuntime struct {
	cfg          *config.Config
	workspace    string
	home         *tools.Home
	tools        *tools.Registry
	sessions     *session.Manager
	threadConfig *thread.ThreadConfig
}

func buildRuntime(cfg *config.Config, enableSessions bool) (*agentRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.EnsureWorkspace(); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	p, err := provider.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	home := tools.DemoHome()
	reg := tools.NewRegistry()
	reg.RegisterHomeTools(home)

	var sessions *session.Manager
	if enableSessions {
		sessions, err = session.NewManager(workspace)
		if err != nil {
			logger.Warn("session manager unavailable", "err", err)
			sessions = nil
		}
	}

	tcfg, err := thread.ConfigFrom(cfg, p, reg, sessions)
	if err != nil {
		return nil, err
	}
	return &agentRuntime{
		cfg:          cfg,
		workspace:    workspace,
		home:         home,
		tools:        reg,
		sessions:     sessions,
		threadConfig: tcfg,
	}, nil
}
