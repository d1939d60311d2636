// Package cron persists automation jobs and wakes sessions when they are due.
package cron

import (
	"fmt"
	"strings"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

const (
	JobKindCron = "cron"
	JobKindAt   = "at"
)

// Job is one automation. Cron jobs fire on Expr; at jobs fire once at
// AtTime and are removed afterwards.
type Job struct {
	ID         string    `json:"id" yaml:"id"`
	Kind       string    `json:"kind,omitempty" yaml:"kind,omitempty"`
	Expr       string    `json:"expr,omitempty" yaml:"expr,omitempty"`
	AtTime     time.Time `json:"at_time,omitempty" yaml:"at_time,omitempty"`
	Task       string    `json:"task" yaml:"task"`
	SessionKey string    `json:"session_key,omitempty" yaml:"session_key,omitempty"`
	Enabled    bool      `json:"enabled" yaml:"enabled"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// DefaultSessionKey receives jobs created without a session.
const DefaultSessionKey = "cron:default"

// Waker delivers a due job's task to its session.
type Waker interface {
	WakeWith(sessionKey, source, message string)
}

// Normalize trims fields, infers Kind and fills CreatedAt.
func Normalize(job Job) Job {
	job.ID = strings.TrimSpace(job.ID)
	job.Kind = strings.ToLower(strings.TrimSpace(job.Kind))
	job.Expr = strings.TrimSpace(job.Expr)
	job.Task = strings.TrimSpace(job.Task)
	job.SessionKey = strings.TrimSpace(job.SessionKey)
	if !job.AtTime.IsZero() {
		job.AtTime = job.AtTime.UTC()
	}
	if job.Kind == "" {
		if job.AtTime.IsZero() {
			job.Kind = JobKindCron
		} else {
			job.Kind = JobKindAt
		}
	}
	if job.SessionKey == "" {
		job.SessionKey = DefaultSessionKey
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return job
}

// ParseExpr parses a standard five-field expression or descriptor such
// as @daily.
func ParseExpr(expr string) (robfigcron.Schedule, error) {
	sched, err := robfigcron.ParseStandard(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NextRun returns when job fires next after now. The zero time means it
// never will.
func NextRun(job Job, now time.Time) (time.Time, error) {
	if !job.Enabled {
		return time.Time{}, nil
	}
	switch job.Kind {
	case JobKindCron:
		sched, err := ParseExpr(job.Expr)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(now), nil
	case JobKindAt:
		if job.AtTime.After(now) {
			return job.AtTime, nil
		}
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unsupported job kind: %s", job.Kind)
}

// ValidateNew checks a job about to be added next to existing.
func ValidateNew(job Job, existing map[string]Job, now time.Time) error {
	if job.ID == "" {
		return fmt.Errorf("id is required")
	}
	if job.Task == "" {
		return fmt.Errorf("task is required")
	}
	if _, ok := existing[job.ID]; ok {
		return fmt.Errorf("job already exists: %s", job.ID)
	}

	switch job.Kind {
	case JobKindCron:
		if job.Expr == "" {
			return fmt.Errorf("expr is required")
		}
		if _, err := ParseExpr(job.Expr); err != nil {
			return err
		}
	case JobKindAt:
		if job.AtTime.IsZero() {
			return fmt.Errorf("at_time is required")
		}
		if !job.AtTime.After(now) {
			return fmt.Errorf("at_time must be in the future")
		}
	default:
		return fmt.Errorf("unsupported job kind: %s", job.Kind)
	}
	return nil
}

// validStored reports whether a job read from the store can be scheduled.
// expired is set for enabled at jobs whose time has passed.
func validStored(job Job, now time.Time) (ok, expired bool) {
	if job.ID == "" || job.Task == "" {
		return false, false
	}
	switch job.Kind {
	case JobKindCron:
		_, err := ParseExpr(job.Expr)
		return err == nil, false
	case JobKindAt:
		if job.AtTime.IsZero() {
			return false, false
		}
		if job.Enabled && !job.AtTime.After(now) {
			return false, true
		}
		return true, false
	}
	return false, false
}
