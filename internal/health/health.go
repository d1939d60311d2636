// Package health builds a point-in-time status snapshot of the process,
// its sessions, automation jobs and live threads.
package health

import (
	"runtime"
	"time"

	"github.com/linanwx/edgeagent/thread"
)

// Options selects what goes into a snapshot.
type Options struct {
	Workspace     string
	SessionsRoot  string
	CronStorePath string
	// Threads are the live threads of a running manager, if any.
	Threads       []thread.Info
	Now           time.Time
}

// Snapshot is the status report.
type Snapshot struct {
	Status     string        `json:"status"`
	Goroutines int           `json:"goroutines"`
	Memory     MemoryInfo    `json:"memory"`
	Runtime    RuntimeInfo   `json:"runtime"`
	Workspace  string        `json:"workspace,omitempty"`
	Sessions   *SessionsInfo `json:"sessions,omitempty"`
	Cron       *CronInfo     `json:"cron,omitempty"`
	Threads    []ThreadInfo  `json:"threads,omitempty"`
	Timestamp  string        `json:"timestamp"`
}

type MemoryInfo struct {
	AllocMB      float64 `json:"alloc_mb"`
	TotalAllocMB float64 `json:"total_alloc_mb"`
	SysMB        float64 `json:"sys_mb"`
	NumGC        uint32  `json:"num_gc"`
}

type RuntimeInfo struct {
	Version string `json:"version"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	CPUs    int    `json:"cpus"`
}

// ThreadInfo is the reportable part of a live thread.
type ThreadInfo struct {
	SessionKey    string  `json:"session_key"`
	State         string  `json:"state"`
	Running       bool    `json:"running"`
	Pending       int     `json:"pending"`
	IdleFor       string  `json:"idle_for"`
	CacheEntries  int     `json:"cache_entries"`
	CacheValidity float64 `json:"cache_validity"`
}

// Collect returns a snapshot for the current process.
func Collect(opts Options) Snapshot {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Snapshot{
		Status:     "healthy",
		Goroutines: runtime.NumGoroutine(),
		Memory: MemoryInfo{
			AllocMB:      float64(mem.Alloc) / 1024 / 1024,
			TotalAllocMB: float64(mem.TotalAlloc) / 1024 / 1024,
			SysMB:        float64(mem.Sys) / 1024 / 1024,
			NumGC:        mem.NumGC,
		},
		Runtime: RuntimeInfo{
			Version: runtime.Version(),
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			CPUs:    runtime.NumCPU(),
		},
		Workspace: opts.Workspace,
		Timestamp: now.Format(time.RFC3339),
	}

	if opts.SessionsRoot != "" {
		s.Sessions = inspectSessions(opts.SessionsRoot)
		if s.Sessions.ParseErrors > 0 {
			s.Status = "degraded"
		}
	}
	if opts.CronStorePath != "" {
		s.Cron = inspectCron(opts.CronStorePath, now)
		if s.Cron.ParseError != "" {
			s.Status = "degraded"
		}
	}
	for _, t := range opts.Threads {
		s.Threads = append(s.Threads, ThreadInfo{
			SessionKey:    t.SessionKey,
			State:         t.State,
			Running:       t.Running,
			Pending:       t.Pending,
			IdleFor:       now.Sub(t.LastActiveAt).Round(time.Second).String(),
			CacheEntries:  t.Cache.Total,
			CacheValidity: t.Cache.ValidityRate(),
		})
	}
	return s
}
