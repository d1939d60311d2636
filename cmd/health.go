package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/linanwx/edgeagent/cron"
	"github.com/linanwx/edgeagent/internal/health"
	"github.com/linanwx/edgeagent/thread"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Print a JSON status report of the workspace",
	GroupID: "maintenance",
	RunE:    runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return err
	}
	snap := health.Collect(workspaceHealthOptions(workspace, nil))
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func workspaceHealthOptions(workspace string, threads []thread.Info) health.Options {
	return health.Options{
		Workspace:     workspace,
		SessionsRoot:  filepath.Join(workspace, "sessions"),
		CronStorePath: cron.StoreIn(workspace).Path(),
		Threads:       threads,
	}
}
