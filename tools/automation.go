package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linanwx/edgeagent/cron"
	"github.com/linanwx/edgeagent/provider"
)

// AutomationManager manages persisted automation jobs.
type AutomationManager interface {
	Add(job cron.Job) error
	Remove(id string) error
	List() []cron.Job
}

// ManageAutomationTool lets the model schedule recurring or one-shot
// tasks that wake a session later.
type ManageAutomationTool struct {
	manager AutomationManager
	now     func() time.Time
}

// NewManageAutomationTool creates the manage_automation tool.
func NewManageAutomationTool(manager AutomationManager) *ManageAutomationTool {
	return &ManageAutomationTool{manager: manager, now: time.Now}
}

func (t *ManageAutomationTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "manage_automation",
			Description: "Schedule tasks for later. Supports add, remove and list. A task with expr repeats on a cron schedule; a task with at_time or delay_minutes runs once.",
			Parameters: objectSchema([]string{"operation"}, map[string]any{
				"operation": map[string]any{
					"type":        "string",
					"enum":        []string{"add", "remove", "list"},
					"description": "The operation to perform.",
				},
				"id":            stringProp("Job ID. Required for add and remove."),
				"expr":          stringProp("Five-field cron expression or descriptor such as @daily, for repeating jobs."),
				"at_time":       stringProp("RFC3339 time for a one-shot job."),
				"delay_minutes": map[string]any{"type": "integer", "description": "Run once after this many minutes."},
				"task":          stringProp("Instruction to carry out when the job fires. Required for add."),
				"session_key":   stringProp("Session to wake. Defaults to the current session."),
			}),
		},
	}
}

func (t *ManageAutomationTool) Meta() Meta {
	return Meta{SideEffects: true}
}

type manageAutomationArgs struct {
	Operation    string `json:"operation"`
	ID           string `json:"id,omitempty"`
	Expr         string `json:"expr,omitempty"`
	AtTime       string `json:"at_time,omitempty"`
	DelayMinutes int    `json:"delay_minutes,omitempty"`
	Task         string `json:"task,omitempty"`
	SessionKey   string `json:"session_key,omitempty"`
}

func (t *ManageAutomationTool) Run(ctx context.Context, args json.RawMessage) (Output, error) {
	var a manageAutomationArgs
	if out, ok := parseArgs(args, &a); !ok {
		return out, nil
	}
	if t.manager == nil {
		return Failed("automation scheduler not configured"), nil
	}

	switch strings.ToLower(strings.TrimSpace(a.Operation)) {
	case "add":
		job, err := t.jobFrom(ctx, a)
		if err != nil {
			return Failed(err.Error()), nil
		}
		if err := t.manager.Add(job); err != nil {
			return Failed(fmt.Sprintf("add job: %v", err)), nil
		}
		return OK(map[string]string{"added": strings.TrimSpace(a.ID), "session_key": job.SessionKey}), nil

	case "remove":
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return Failed("id is required for remove"), nil
		}
		if err := t.manager.Remove(id); err != nil {
			return Failed(fmt.Sprintf("remove job: %v", err)), nil
		}
		return OK(map[string]string{"removed": id}), nil

	case "list":
		return OK(t.manager.List()), nil

	default:
		return Failed("operation must be one of add, remove, list"), nil
	}
}

func (t *ManageAutomationTool) jobFrom(ctx context.Context, a manageAutomationArgs) (cron.Job, error) {
	job := cron.Job{
		ID:         a.ID,
		Expr:       a.Expr,
		Task:       a.Task,
		SessionKey: a.SessionKey,
	}
	if strings.TrimSpace(job.SessionKey) == "" {
		job.SessionKey = CallContextFrom(ctx).SessionKey
	}

	switch {
	case strings.TrimSpace(a.AtTime) != "":
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(a.AtTime))
		if err != nil {
			return cron.Job{}, fmt.Errorf("at_time must be RFC3339: %w", err)
		}
		job.Kind, job.AtTime = cron.JobKindAt, at
	case a.DelayMinutes > 0:
		job.Kind, job.AtTime = cron.JobKindAt, t.now().Add(time.Duration(a.DelayMinutes)*time.Minute)
	case strings.TrimSpace(a.Expr) != "":
		job.Kind = cron.JobKindCron
	default:
		return cron.Job{}, fmt.Errorf("one of expr, at_time or delay_minutes is required for add")
	}
	return job, nil
}
