package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/linanwx/edgeagent/scheduler"
	"github.com/linanwx/edgeagent/tools"
)

var planCmd = &cobra.Command{
	Use:   "plan <file.jsonc|->",
	Short: "Show how a set of tool calls would be batched",
	Long: `Read tool calls from a JSON (comments allowed) file and print the
execution batches the scheduler builds for them.

Relationships come from the built-in home tools. A "tools" object in the
file adds or overrides relationships by tool name.

Example file:
  {
    // calls in the order the model emitted them
    "calls": [
      {"id": "1", "name": "list_devices"},
      {"id": "2", "name": "control_device", "arguments": {"device_id": "lamp"}}
    ],
    "tools": {
      "control_device": {"call_after": ["list_devices"]}
    }
  }`,
	Args:    cobra.ExactArgs(1),
	GroupID: "maintenance",
	RunE:    runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

type planInput struct {
	Calls []tools.Call                   `json:"calls"`
	Tools map[string]tools.Relationships `json:"tools"`
}

func readPlanInput(path string) (*planInput, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read plan input: %w", err)
	}
	var in planInput
	if err := json.Unmarshal(jsonc.ToJSON(data), &in); err != nil {
		return nil, fmt.Errorf("parse plan input: %w", err)
	}
	for i := range in.Calls {
		if in.Calls[i].ID == "" {
			in.Calls[i].ID = fmt.Sprintf("call_%d", i+1)
		}
	}
	return &in, nil
}

func runPlan(_ *cobra.Command, args []string) error {
	in, err := readPlanInput(args[0])
	if err != nil {
		return err
	}

	reg := tools.NewRegistry()
	reg.RegisterHomeTools(tools.DemoHome())
	lookup := func(name string) (tools.Relationships, bool) {
		if rel, ok := in.Tools[name]; ok {
			return rel, true
		}
		return reg.Relationships(name)
	}

	plan := scheduler.New(lookup).Plan(in.Calls)
	fmt.Printf("%d calls in %d batches\n", plan.TotalCalls, len(plan.Batches))
	for i, b := range plan.Batches {
		names := make([]string, 0, len(b.Calls))
		for _, c := range b.Calls {
			names = append(names, fmt.Sprintf("%s(%s)", c.Name, c.ID))
		}
		flag := ""
		if b.Degraded {
			flag = " degraded"
		}
		fmt.Printf("  batch %d  priority=%.2f%s  %s\n", i+1, b.Priority, flag, strings.Join(names, ", "))
	}
	return nil
}
