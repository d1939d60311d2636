package cmd

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/linanwx/edgeagent/config"
	"github.com/linanwx/edgeagent/cron"
	"github.com/linanwx/edgeagent/internal/health"
	"github.com/linanwx/edgeagent/logger"
	"github.com/linanwx/edgeagent/thread"
)

const (
	cronReloadInterval   = time.Minute
	healthReportInterval = 10 * time.Minute
)

// startCronRuntime loads the automation store and starts firing its jobs
// into threadMgr.
func startCronRuntime(workspace string, threadMgr *thread.Manager) (*cron.Scheduler, error) {
	scheduler, err := cron.NewScheduler(cron.StoreIn(workspace), threadMgr)
	if err != nil {
		return nil, err
	}
	if err := scheduler.Load(); err != nil {
		_ = scheduler.Stop()
		return nil, fmt.Errorf("failed to load cron jobs: %w", err)
	}
	scheduler.Start()
	return scheduler, nil
}

// startMaintenance runs the periodic housekeeping of a serving process:
// tool cache purges, cron store reloads and health reports.
func startMaintenance(cfg *config.Config, rt *agentRuntime, threadMgr *thread.Manager, jobs *cron.Scheduler) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create maintenance scheduler: %w", err)
	}

	janitor := cfg.Orchestrator.Cache.JanitorInterval()
	if _, err := s.NewJob(
		gocron.DurationJob(janitor),
		gocron.NewTask(func() {
			if n := threadMgr.PurgeCaches(); n > 0 {
				logger.Debug("purged expired tool results", "entries", n)
			}
		}),
		gocron.WithName("cache-janitor"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule cache janitor: %w", err)
	}

	// Jobs added with `edgeagent cron add` while serving are picked up here.
	if _, err := s.NewJob(
		gocron.DurationJob(cronReloadInterval),
		gocron.NewTask(func() {
			if reloaded, err := jobs.ReloadIfChanged(); err != nil {
				logger.Warn("failed to reload cron jobs", "err", err)
			} else if reloaded {
				logger.Info("cron store changed, jobs reloaded")
			}
		}),
		gocron.WithName("cron-reload"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule cron reload: %w", err)
	}

	if _, err := s.NewJob(
		gocron.DurationJob(healthReportInterval),
		gocron.NewTask(func() {
			snap := health.Collect(workspaceHealthOptions(rt.workspace, threadMgr.List()))
			logger.Info("health",
				"status", snap.Status,
				"goroutines", snap.Goroutines,
				"allocMB", fmt.Sprintf("%.1f", snap.Memory.AllocMB),
				"threads", len(snap.Threads),
				"cronJobs", len(jobs.List()),
			)
		}),
		gocron.WithName("health-report"),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule health report: %w", err)
	}

	s.Start()
	logger.Info("maintenance started", "cacheJanitor", janitor, "cronReload", cronReloadInterval)
	return s, nil
}
