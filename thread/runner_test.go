package thread

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/linanwx/edgeagent/provider"
	"github.com/linanwx/edgeagent/provider/providertest"
	"github.com/linanwx/edgeagent/session"
	"github.com/linanwx/edgeagent/statemachine"
	"github.com/linanwx/edgeagent/tools"
)

func historyStrings(th *Thread) []string {
	var out []string
	for _, h := range th.History() {
		out = append(out, h.State.String())
	}
	return out
}

func toolMessages(req provider.Request) []provider.Message {
	var out []provider.Message
	for _, m := range req.Messages {
		if m.Role == provider.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func TestRunTurnWalksStateMachine(t *testing.T) {
	list := &fakeTool{name: "list_devices"}
	control := &fakeTool{name: "control_device", meta: tools.Meta{
		Relationships: tools.Relationships{CallAfter: []string{"list_devices"}},
		SideEffects:   true,
		Invalidates:   []string{"list_devices"},
	}}
	p := providertest.NewScripted(
		providertest.Step{Response: providertest.ToolCallResponse(
			providertest.Call("c1", "list_devices", `{}`),
			providertest.Call("c2", "control_device", `{"device_id":"lamp"}`),
		)},
		providertest.Step{Response: providertest.ToolCallResponse(
			providertest.Call("c3", "list_devices", `{}`),
		)},
		providertest.Step{Response: provider.Response{Content: "done"}},
	)
	mgr := NewManager(testConfig(p, registryOf(list, control)))
	th := mgr.NewThread("home:test")

	got, err := th.RunTurn(context.Background(), "turn the lamp on")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if got != "done" {
		t.Fatalf("RunTurn() = %q, want %q", got, "done")
	}
	if _, ok := th.State().(statemachine.Idle); !ok {
		t.Fatalf("State() = %v, want Idle", th.State())
	}

	want := []string{
		"Idle", "Processing", "Generating(0 chars)", "ExecutingTools(0/2)", "ExecutingTools(1/2)",
		"Processing", "Generating(0 chars)", "ExecutingTools(0/1)",
		"Processing", "Generating(0 chars)", "Generating(4 chars)",
	}
	if diff := cmp.Diff(want, historyStrings(th)); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	// control_device invalidated list_devices, so the second listing ran.
	if list.Calls() != 2 || control.Calls() != 1 {
		t.Fatalf("calls = list %d, control %d; want 2, 1", list.Calls(), control.Calls())
	}

	reqs := p.Requests()
	if len(reqs) != 3 {
		t.Fatalf("provider requests = %d, want 3", len(reqs))
	}
	if reqs[0].Messages[0].Role != provider.RoleSystem {
		t.Fatalf("first message role = %q, want system", reqs[0].Messages[0].Role)
	}
	if n := len(toolMessages(reqs[2])); n != 3 {
		t.Fatalf("tool messages in last request = %d, want 3", n)
	}
}

func TestRunTurnServesRepeatedReadsFromCache(t *testing.T) {
	list := &fakeTool{name: "list_devices"}
	p := providertest.NewScripted(
		providertest.Step{Response: providertest.ToolCallResponse(providertest.Call("c1", "list_devices", `{"room":"kitchen"}`))},
		providertest.Step{Response: providertest.ToolCallResponse(providertest.Call("c2", "list_devices", `{ "room": "kitchen" }`))},
		providertest.Step{Response: provider.Response{Content: "ok"}},
	)
	mgr := NewManager(testConfig(p, registryOf(list)))
	th := mgr.NewThread("home:cache")

	if _, err := th.RunTurn(context.Background(), "what is in the kitchen"); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if list.Calls() != 1 {
		t.Fatalf("list_devices calls = %d, want 1", list.Calls())
	}
	last := toolMessages(p.Requests()[2])
	if !strings.Contains(last[1].Content, `"cached":true`) {
		t.Fatalf("second tool result = %s, want cached marker", last[1].Content)
	}
	if s := th.CacheStats(); s.Total != 1 || s.Valid != 1 {
		t.Fatalf("CacheStats() = %+v, want one valid entry", s)
	}
	m, ok := th.Metrics()
	if !ok || m.Iterations != 3 || m.TotalToolCalls != 2 || m.CacheHits != 1 {
		t.Fatalf("Metrics() = %d iterations, %d calls, %d hits, %v; want 3, 2, 1", m.Iterations, m.TotalToolCalls, m.CacheHits, ok)
	}
}

func TestRunTurnRetriesTransientErrors(t *testing.T) {
	flaky := &fakeTool{name: "query_device", errs: []error{errors.New("connection reset by peer")}}
	broken := &fakeTool{name: "query_sensor", errs: []error{errors.New("permission denied")}}
	p := providertest.NewScripted(
		providertest.Step{Response: providertest.ToolCallResponse(
			providertest.Call("c1", "query_device", `{}`),
			providertest.Call("c2", "query_sensor", `{}`),
		)},
		providertest.Step{Response: provider.Response{Content: "partial"}},
	)
	mgr := NewManager(testConfig(p, registryOf(flaky, broken)))
	th := mgr.NewThread("home:retry")

	got, err := th.RunTurn(context.Background(), "check")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if got != "partial" {
		t.Fatalf("RunTurn() = %q, want partial", got)
	}
	if flaky.Calls() != 2 {
		t.Fatalf("transient tool calls = %d, want 2", flaky.Calls())
	}
	if broken.Calls() != 1 {
		t.Fatalf("permanent failure calls = %d, want 1", broken.Calls())
	}

	msgs := toolMessages(p.Requests()[1])
	if !strings.Contains(msgs[0].Content, `"attempts":2`) || !strings.Contains(msgs[0].Content, `"success":true`) {
		t.Fatalf("retried result = %s", msgs[0].Content)
	}
	if !strings.Contains(msgs[1].Content, "permission denied") {
		t.Fatalf("failed result = %s, want error text", msgs[1].Content)
	}
	if _, ok := th.State().(statemachine.Idle); !ok {
		t.Fatalf("State() = %v, want Idle after partial failure", th.State())
	}
}

func TestRunTurnMaxIterationsThenRecovers(t *testing.T) {
	list := &fakeTool{name: "list_devices"}
	p := providertest.NewScripted(
		providertest.Step{Response: providertest.ToolCallResponse(providertest.Call("c1", "list_devices", `{"n":1}`))},
		providertest.Step{Response: providertest.ToolCallResponse(providertest.Call("c2", "list_devices", `{"n":2}`))},
		providertest.Step{Response: provider.Response{Content: "recovered"}},
	)
	cfg := testConfig(p, registryOf(list))
	cfg.MaxIterations = 2
	mgr := NewManager(cfg)
	th := mgr.NewThread("home:loop")

	if _, err := th.RunTurn(context.Background(), "loop"); !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("RunTurn() error = %v, want ErrMaxIterations", err)
	}
	if !statemachine.IsError(th.State()) {
		t.Fatalf("State() = %v, want Error", th.State())
	}

	got, err := th.RunTurn(context.Background(), "again")
	if err != nil {
		t.Fatalf("second RunTurn() error = %v", err)
	}
	if got != "recovered" {
		t.Fatalf("second RunTurn() = %q, want recovered", got)
	}
}

func TestRunTurnProviderError(t *testing.T) {
	p := providertest.NewScripted(providertest.Step{Err: errors.New("upstream 503")})
	mgr := NewManager(testConfig(p, nil))
	th := mgr.NewThread("home:err")

	_, err := th.RunTurn(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "upstream 503") {
		t.Fatalf("RunTurn() error = %v, want provider error", err)
	}
	s, ok := th.State().(statemachine.Errored)
	if !ok || !strings.Contains(s.Message, "upstream 503") {
		t.Fatalf("State() = %v, want Error(upstream 503)", th.State())
	}
}

func TestRunTurnPersistsSession(t *testing.T) {
	sessions, err := session.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	p := providertest.NewScripted(
		providertest.Step{Response: providertest.ToolCallResponse(providertest.Call("c1", "list_devices", `{}`))},
		providertest.Step{Response: provider.Response{Content: "two devices"}},
	)
	cfg := testConfig(p, registryOf(&fakeTool{name: "list_devices"}))
	cfg.Sessions = sessions
	th := NewManager(cfg).NewThread("home:persist")

	if _, err := th.RunTurn(context.Background(), "list"); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	sess, err := sessions.Reload("home:persist")
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	var roles []string
	for _, m := range sess.Messages {
		roles = append(roles, m.Role)
	}
	want := []string{"user", "assistant", "tool", "assistant"}
	if diff := cmp.Diff(want, roles); diff != "" {
		t.Fatalf("session roles mismatch (-want +got):\n%s", diff)
	}
	if sess.Messages[3].Content != "two devices" {
		t.Fatalf("last message = %q", sess.Messages[3].Content)
	}
}

func TestCloseRefusesTurns(t *testing.T) {
	p := providertest.NewScripted()
	th := NewManager(testConfig(p, nil)).NewThread("home:close")

	th.Close()
	if _, ok := th.State().(statemachine.Closed); !ok {
		t.Fatalf("State() = %v, want Closed", th.State())
	}
	if _, err := th.RunTurn(context.Background(), "hi"); !errors.Is(err, ErrThreadClosed) {
		t.Fatalf("RunTurn() error = %v, want ErrThreadClosed", err)
	}
	if len(p.Requests()) != 0 {
		t.Fatal("closed thread called the provider")
	}
}

func TestNormalizeToolCalls(t *testing.T) {
	got := normalizeToolCalls([]provider.ToolCall{
		{ID: "a", Function: provider.FunctionCall{Name: "x"}},
		{ID: "a", Function: provider.FunctionCall{Name: "y"}},
		{Function: provider.FunctionCall{Name: "z"}},
	})
	if got[0].ID != "a" || got[1].ID == "a" || got[2].ID == "" {
		t.Fatalf("normalizeToolCalls() IDs = %q, %q, %q", got[0].ID, got[1].ID, got[2].ID)
	}
	for _, tc := range got {
		if tc.Type != "function" {
			t.Fatalf("Type = %q, want function", tc.Type)
		}
	}
}

func TestTruncateStrKeepsRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"lamp", 10, "lamp"},
		{"living room", 6, "living..."},
		{"客厅灯", 4, "客..."},
		{"客厅灯", 2, "..."},
	}
	for _, tt := range tests {
		got := truncateStr(tt.in, tt.n)
		if got != tt.want {
			t.Fatalf("truncateStr(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncateStr(%q, %d) = %q is not valid UTF-8", tt.in, tt.n, got)
		}
	}
}
