package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/linanwx/edgeagent/logger"
	"github.com/linanwx/edgeagent/thread"
	"github.com/linanwx/edgeagent/tools"
)

const serveSessionKey = "cli:serve"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent as a long-lived service",
	Long: `Run the agent as a long-running service.

The service fires stored automations (see "edgeagent cron"), purges
expired tool results and, unless --stdin=false, reads messages from
standard input into the "cli:serve" session. Responses are printed to
standard output prefixed with their session key.

Examples:
  edgeagent serve
  edgeagent serve --stdin=false   # automations only`,
	RunE: runServe,
}

var serveStdin bool

func init() {
	serveCmd.Flags().BoolVar(&serveStdin, "stdin", true, "Read messages from standard input")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg, true)
	if err != nil {
		return err
	}

	rt.threadConfig.DefaultSinkFor = stdoutSink
	threadMgr := thread.NewManager(rt.threadConfig)

	jobs, err := startCronRuntime(rt.workspace, threadMgr)
	if err != nil {
		return err
	}
	rt.tools.Register(tools.NewManageAutomationTool(jobs))

	maintenance, err := startMaintenance(cfg, rt, threadMgr, jobs)
	if err != nil {
		_ = jobs.Stop()
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		threadMgr.Run(ctx)
	}()

	if serveStdin {
		go readServeInput(ctx, threadMgr)
	}

	logger.Info("edgeagent service started", "workspace", rt.workspace, "tools", len(rt.tools.Names()))
	fmt.Println("edgeagent is running. Press Ctrl+C to stop.")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := maintenance.Shutdown(); err != nil {
		logger.Warn("maintenance shutdown", "err", err)
	}
	if err := jobs.Stop(); err != nil {
		logger.Warn("cron shutdown", "err", err)
	}
	<-done
	threadMgr.CloseAll()

	logger.Info("edgeagent service stopped")
	return nil
}

func stdoutSink(sessionKey string) thread.Sink {
	return func(_ context.Context, response string) error {
		_, err := fmt.Fprintf(os.Stdout, "[%s] %s\n", sessionKey, response)
		return err
	}
}

// readServeInput wakes the serve session with each non-empty line of stdin.
func readServeInput(ctx context.Context, threadMgr *thread.Manager) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		threadMgr.WakeWith(serveSessionKey, "serve", line)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stdin closed", "err", err)
	}
}
