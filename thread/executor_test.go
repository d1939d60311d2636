package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linanwx/edgeagent/toolcache"
	"github.com/linanwx/edgeagent/tools"
)

func call(id, name, args string) tools.Call {
	return tools.Call{ID: id, Name: name, Arguments: []byte(args)}
}

func TestExecutorRunsBatchConcurrently(t *testing.T) {
	// Each tool blocks until both have started; sequential execution
	// would hit the timeout.
	var started sync.WaitGroup
	started.Add(2)
	barrier := func(ctx context.Context) {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	a := &fakeTool{name: "query_device", run: barrier}
	b := &fakeTool{name: "query_sensor", run: barrier}
	reg := registryOf(a, b)

	ex := fastExecution()
	ex.ToolTimeoutSecs = 2
	ex.MaxRetries = 1
	e := NewExecutor(reg, nil, nil, ex)

	results := e.Execute(context.Background(), []tools.Call{
		call("1", "query_device", `{}`),
		call("2", "query_sensor", `{}`),
	}, nil)

	for _, r := range results {
		if !r.Succeeded() {
			t.Fatalf("result %s failed: %v", r.Call.ID, r.Err)
		}
		if r.Attempts != 1 {
			t.Fatalf("result %s attempts = %d, want 1", r.Call.ID, r.Attempts)
		}
	}
}

func TestExecutorDuplicateIDsKeepTheirSlots(t *testing.T) {
	a := &fakeTool{name: "query_device"}
	b := &fakeTool{name: "query_sensor"}
	e := NewExecutor(registryOf(a, b), nil, nil, fastExecution())

	results := e.Execute(context.Background(), []tools.Call{
		call("dup", "query_device", `{}`),
		call("dup", "query_sensor", `{}`),
	}, nil)

	for i, want := range []string{"query_device", "query_sensor"} {
		if results[i].Call.Name != want {
			t.Fatalf("results[%d].Call.Name = %q, want %q", i, results[i].Call.Name, want)
		}
		if !results[i].Succeeded() {
			t.Fatalf("results[%d] failed: %v", i, results[i].Err)
		}
	}
	if a.Calls() != 1 || b.Calls() != 1 {
		t.Fatalf("calls = %d, %d; want 1, 1", a.Calls(), b.Calls())
	}
}

func TestExecutorHonorsDependencies(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) {
		return func(context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	list := &fakeTool{name: "list_devices", run: record("list_devices")}
	control := &fakeTool{
		name: "control_device",
		meta: tools.Meta{Relationships: tools.Relationships{CallAfter: []string{"list_devices"}}, SideEffects: true},
		run:  record("control_device"),
	}
	e := NewExecutor(registryOf(list, control), nil, nil, fastExecution())

	var mu2 sync.Mutex
	var done []string
	results := e.Execute(context.Background(), []tools.Call{
		call("c", "control_device", `{}`),
		call("l", "list_devices", `{}`),
	}, func(r tools.Result) {
		mu2.Lock()
		done = append(done, r.Call.ID)
		mu2.Unlock()
	})

	if len(order) != 2 || order[0] != "list_devices" {
		t.Fatalf("run order = %v, want list_devices first", order)
	}
	// Results stay in input order.
	if results[0].Call.ID != "c" || results[1].Call.ID != "l" {
		t.Fatalf("results order = %s, %s; want c, l", results[0].Call.ID, results[1].Call.ID)
	}
	if len(done) != 2 {
		t.Fatalf("onDone calls = %d, want 2", len(done))
	}
}

func TestExecutorDeadlineIsRetried(t *testing.T) {
	slow := &fakeTool{name: "query_device", errs: []error{fmt.Errorf("read state: %w", context.DeadlineExceeded)}}
	e := NewExecutor(registryOf(slow), nil, nil, fastExecution())

	res := e.Execute(context.Background(), []tools.Call{call("1", "query_device", `{}`)}, nil)[0]
	if !res.Succeeded() || res.Attempts != 2 {
		t.Fatalf("result = %+v, want success on attempt 2", res)
	}
}

func TestExecutorStopsRetryingAfterLimit(t *testing.T) {
	flaky := &fakeTool{name: "query_device", errs: []error{
		errors.New("network down"), errors.New("network down"), errors.New("network down"), errors.New("network down"),
	}}
	ex := fastExecution()
	ex.MaxRetries = 2
	e := NewExecutor(registryOf(flaky), nil, nil, ex)

	res := e.Execute(context.Background(), []tools.Call{call("1", "query_device", `{}`)}, nil)[0]
	if res.Err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if res.Attempts != 3 || flaky.Calls() != 3 {
		t.Fatalf("attempts = %d, calls = %d; want 3, 3", res.Attempts, flaky.Calls())
	}
}

func TestExecutorUnknownToolNotRetried(t *testing.T) {
	e := NewExecutor(tools.NewRegistry(), nil, nil, fastExecution())
	res := e.Execute(context.Background(), []tools.Call{call("1", "missing", `{}`)}, nil)[0]
	if !errors.Is(res.Err, tools.ErrUnknownTool) {
		t.Fatalf("Err = %v, want ErrUnknownTool", res.Err)
	}
	if res.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", res.Attempts)
	}
}

func TestExecutorDoesNotCacheFailures(t *testing.T) {
	failing := &fakeTool{name: "list_devices", output: &tools.Output{Success: false, Error: "hub offline"}}
	cache := toolcache.New()
	e := NewExecutor(registryOf(failing), cache, nil, fastExecution())

	for i := 0; i < 2; i++ {
		e.Execute(context.Background(), []tools.Call{call(fmt.Sprint(i), "list_devices", `{}`)}, nil)
	}
	if failing.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", failing.Calls())
	}
	if cache.Len() != 0 {
		t.Fatalf("cache Len() = %d, want 0", cache.Len())
	}
}

func TestExecutorCancelledContext(t *testing.T) {
	flaky := &fakeTool{name: "query_device", errs: []error{errors.New("connection refused")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := fastExecution()
	ex.RetryBaseDelayMs = 1000
	e := NewExecutor(registryOf(flaky), nil, nil, ex)

	start := time.Now()
	res := e.Execute(ctx, []tools.Call{call("1", "query_device", `{}`)}, nil)[0]
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if res.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", res.Attempts)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("cancelled execution waited for the retry delay")
	}
}

func TestIsTransient(t *testing.T) {
	live := context.Background()
	dead, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{"nil", live, nil, false},
		{"deadline", live, context.DeadlineExceeded, true},
		{"wrapped deadline", live, fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"canceled", live, context.Canceled, false},
		{"unknown tool", live, fmt.Errorf("%w: x", tools.ErrUnknownTool), false},
		{"connection", live, errors.New("Connection refused"), true},
		{"unavailable", live, tools.ErrDeviceUnavailable, true},
		{"timeout text", live, errors.New("read timeout"), true},
		{"permanent", live, errors.New("invalid device id"), false},
		{"turn cancelled", dead, errors.New("network down"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.ctx, tt.err); got != tt.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
