package thread

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/linanwx/edgeagent/config"
	"github.com/linanwx/edgeagent/provider"
	"github.com/linanwx/edgeagent/tools"
)

// fakeTool is a scriptable tool. Errors are consumed one per call; once
// they run out the tool succeeds with its name as data.
type fakeTool struct {
	name string
	meta tools.Meta

	mu     sync.Mutex
	calls  int
	errs   []error
	output *tools.Output
	run    func(ctx context.Context) // optional hook
}

func (f *fakeTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:       f.name,
			Parameters: map[string]any{"type": "object"},
		},
	}
}

func (f *fakeTool) Meta() tools.Meta { return f.meta }

func (f *fakeTool) Run(ctx context.Context, _ json.RawMessage) (tools.Output, error) {
	if f.run != nil {
		f.run(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return tools.Output{}, err
	}
	if f.output != nil {
		return *f.output, nil
	}
	return tools.OK(f.name), nil
}

func (f *fakeTool) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func registryOf(ts ...*fakeTool) *tools.Registry {
	r := tools.NewRegistry()
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// fastExecution keeps retries quick in tests.
func fastExecution() config.ExecutionConfig {
	ex := config.DefaultConfig().Orchestrator.Execution
	ex.RetryBaseDelayMs = 1
	return ex
}

func testConfig(p provider.Provider, reg *tools.Registry) *ThreadConfig {
	orch := config.DefaultConfig().Orchestrator
	orch.Execution = fastExecution()
	return &ThreadConfig{Provider: p, Tools: reg, Orchestrator: orch}
}
