package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linanwx/edgeagent/cron"
	"github.com/linanwx/edgeagent/thread"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage automations",
	Long: `List, add, remove, enable, disable and run the automations stored in
workspace/cron.yaml. A running "edgeagent serve" picks up changes within a minute.`,
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all automations",
	RunE:  runCronList,
}

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an automation",
	Long: `Add a recurring (--expr) or one-shot (--at or --in) automation.

Examples:
  edgeagent cron add --id porch-off --expr "0 23 * * *" --task "Turn off the porch light"
  edgeagent cron add --id laundry --in 45m --task "Remind me the laundry is done" --session home:laundry
  edgeagent cron add --id heat --at 2026-12-24T06:00:00Z --task "Set the living room to 21C"`,
	RunE: runCronAdd,
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove an automation by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRemove,
}

var cronEnableCmd = &cobra.Command{
	Use:   "enable [id]",
	Short: "Enable an automation",
	Args:  cobra.ExactArgs(1),
	RunE:  func(_ *cobra.Command, args []string) error { return setCronEnabled(args[0], true) },
}

var cronDisableCmd = &cobra.Command{
	Use:   "disable [id]",
	Short: "Disable an automation",
	Args:  cobra.ExactArgs(1),
	RunE:  func(_ *cobra.Command, args []string) error { return setCronEnabled(args[0], false) },
}

var cronRunCmd = &cobra.Command{
	Use:   "run [id]",
	Short: "Run an automation's task now, in its session",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRun,
}

var (
	cronAddID      string
	cronAddExpr    string
	cronAddAt      string
	cronAddIn      time.Duration
	cronAddTask    string
	cronAddSession string
)

func init() {
	rootCmd.AddCommand(cronCmd)
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronRemoveCmd)
	cronCmd.AddCommand(cronEnableCmd)
	cronCmd.AddCommand(cronDisableCmd)
	cronCmd.AddCommand(cronRunCmd)

	cronAddCmd.Flags().StringVar(&cronAddID, "id", "", "Automation ID (required)")
	cronAddCmd.Flags().StringVar(&cronAddExpr, "expr", "", "Cron expression (e.g., '0 9 * * *' or '@daily')")
	cronAddCmd.Flags().StringVar(&cronAddAt, "at", "", "One-shot time (RFC3339)")
	cronAddCmd.Flags().DurationVar(&cronAddIn, "in", 0, "One-shot delay from now (e.g., 45m)")
	cronAddCmd.Flags().StringVar(&cronAddTask, "task", "", "Task for the agent (required)")
	cronAddCmd.Flags().StringVar(&cronAddSession, "session", "", "Session to wake (default "+cron.DefaultSessionKey+")")
	_ = cronAddCmd.MarkFlagRequired("id")
	_ = cronAddCmd.MarkFlagRequired("task")
}

func cronStore() (*cron.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return nil, err
	}
	return cron.StoreIn(workspace), nil
}

func readCronJobs() (*cron.Store, []cron.Job, error) {
	store, err := cronStore()
	if err != nil {
		return nil, nil, err
	}
	jobs, err := store.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load cron store: %w", err)
	}
	for i := range jobs {
		jobs[i] = cron.Normalize(jobs[i])
	}
	return store, jobs, nil
}

func findCronJob(jobs []cron.Job, id string) int {
	id = strings.TrimSpace(id)
	for i := range jobs {
		if jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func runCronList(_ *cobra.Command, _ []string) error {
	_, jobs, err := readCronJobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No automations configured.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENABLED\tSCHEDULE\tNEXT RUN\tSESSION\tTASK")
	fmt.Fprintln(w, "--\t-------\t--------\t--------\t-------\t----")
	for _, job := range jobs {
		schedule := job.Expr
		if job.Kind == cron.JobKindAt {
			schedule = "at " + job.AtTime.Local().Format(time.RFC3339)
		}
		next := "-"
		if t, err := cron.NextRun(job, now); err != nil {
			next = "invalid"
		} else if !t.IsZero() {
			next = t.Local().Format("2006-01-02 15:04")
		}
		task := job.Task
		if len(task) > 40 {
			task = task[:40] + "..."
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%s\t%s\t%s\n", job.ID, job.Enabled, schedule, next, job.SessionKey, task)
	}
	return w.Flush()
}

func runCronAdd(_ *cobra.Command, _ []string) error {
	store, jobs, err := readCronJobs()
	if err != nil {
		return err
	}

	specCount := 0
	for _, set := range []bool{cronAddExpr != "", cronAddAt != "", cronAddIn > 0} {
		if set {
			specCount++
		}
	}
	if specCount != 1 {
		return fmt.Errorf("must specify exactly one of --expr, --at, or --in")
	}

	now := time.Now().UTC()
	job := cron.Job{
		ID:         cronAddID,
		Task:       cronAddTask,
		SessionKey: cronAddSession,
		Enabled:    true,
	}
	switch {
	case cronAddExpr != "":
		job.Kind = cron.JobKindCron
		job.Expr = cronAddExpr
	case cronAddAt != "":
		at, err := time.Parse(time.RFC3339, cronAddAt)
		if err != nil {
			return fmt.Errorf("invalid --at value, expected RFC3339 (e.g., '2026-01-15T09:00:00Z'): %w", err)
		}
		job.Kind = cron.JobKindAt
		job.AtTime = at
	default:
		job.Kind = cron.JobKindAt
		job.AtTime = now.Add(cronAddIn)
	}
	job = cron.Normalize(job)

	existing := make(map[string]cron.Job, len(jobs))
	for _, j := range jobs {
		existing[j.ID] = j
	}
	if err := cron.ValidateNew(job, existing, now); err != nil {
		return err
	}

	if err := store.Write(append(jobs, job)); err != nil {
		return err
	}
	fmt.Printf("Automation '%s' added.\n", job.ID)
	return nil
}

func runCronRemove(_ *cobra.Command, args []string) error {
	store, jobs, err := readCronJobs()
	if err != nil {
		return err
	}
	i := findCronJob(jobs, args[0])
	if i < 0 {
		return fmt.Errorf("job not found: %s", args[0])
	}
	if err := store.Write(append(jobs[:i], jobs[i+1:]...)); err != nil {
		return err
	}
	fmt.Printf("Automation '%s' removed.\n", args[0])
	return nil
}

func setCronEnabled(id string, enabled bool) error {
	store, jobs, err := readCronJobs()
	if err != nil {
		return err
	}
	i := findCronJob(jobs, id)
	if i < 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	jobs[i].Enabled = enabled
	if err := store.Write(jobs); err != nil {
		return err
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("Automation '%s' %s.\n", id, state)
	return nil
}

func runCronRun(_ *cobra.Command, args []string) error {
	_, jobs, err := readCronJobs()
	if err != nil {
		return err
	}
	i := findCronJob(jobs, args[0])
	if i < 0 {
		return fmt.Errorf("job not found: %s", args[0])
	}
	job := jobs[i]

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

	fmt.Printf("Running automation '%s' in %s: %s\n", job.ID, job.SessionKey, job.Task)
	response, err := mgr.NewThread(job.SessionKey).RunTurn(ctx, job.Task)
	if err != nil {
		return fmt.Errorf("agent error: %w", err)
	}
	fmt.Println(response)
	return nil
}
