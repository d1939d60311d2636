package health

import (
	"os"
	"time"

	"github.com/linanwx/edgeagent/cron"
)

// CronInfo summarizes the automation store.
type CronInfo struct {
	Path       string        `json:"path"`
	Exists     bool          `json:"exists"`
	JobsCount  int           `json:"jobs_count"`
	ParseError string        `json:"parse_error,omitempty"`
	Jobs       []CronJobInfo `json:"jobs,omitempty"`
}

type CronJobInfo struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Expr       string `json:"expr,omitempty"`
	AtTime     string `json:"at_time,omitempty"`
	SessionKey string `json:"session_key"`
	NextRun    string `json:"next_run,omitempty"`
	Error      string `json:"error,omitempty"`
}

func inspectCron(path string, now time.Time) *CronInfo {
	info := &CronInfo{Path: path}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			info.ParseError = err.Error()
		}
		return info
	}
	info.Exists = true

	jobs, err := cron.NewStore(path).Read()
	if err != nil {
		info.ParseError = err.Error()
		return info
	}

	info.JobsCount = len(jobs)
	for _, raw := range jobs {
		job := cron.Normalize(raw)
		entry := CronJobInfo{
			ID:         job.ID,
			Kind:       job.Kind,
			Expr:       job.Expr,
			SessionKey: job.SessionKey,
		}
		if !job.AtTime.IsZero() {
			entry.AtTime = job.AtTime.Format(time.RFC3339)
		}
		next, err := cron.NextRun(job, now)
		switch {
		case err != nil:
			entry.Error = err.Error()
		case !next.IsZero():
			entry.NextRun = next.Format(time.RFC3339)
		}
		info.Jobs = append(info.Jobs, entry)
	}
	return info
}
