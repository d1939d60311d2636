package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linanwx/edgeagent/config"
	"github.com/linanwx/edgeagent/thread"
)

func TestReadPlanInputAcceptsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.jsonc")
	src := `{
  // emitted in this order
  "calls": [
    {"id": "a", "name": "list_devices"},
    {"name": "control_device", "arguments": {"device_id": "lamp"}}, // trailing comma
  ],
  "tools": {"control_device": {"call_after": ["list_devices"]}}
}`
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	in, err := readPlanInput(path)
	if err != nil {
		t.Fatalf("readPlanInput() error = %v", err)
	}
	var ids []string
	for _, c := range in.Calls {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]string{"a", "call_2"}, ids); diff != "" {
		t.Fatalf("call IDs mismatch (-want +got):\n%s", diff)
	}
	if got := in.Tools["control_device"].CallAfter; len(got) != 1 || got[0] != "list_devices" {
		t.Fatalf("relationships = %+v", in.Tools)
	}
}

func TestOnboardChoiceApply(t *testing.T) {
	cfg := config.DefaultConfig()
	err := onboardChoice{provider: "Anthropic", apiKey: " sk-ant ", apiBase: "http://hub.local:8080"}.apply(cfg)
	if err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if cfg.Agent.Provider != "anthropic" || cfg.Agent.ModelType != suggestedModels["anthropic"][0] {
		t.Fatalf("agent = %+v", cfg.Agent)
	}
	if pc := cfg.Providers.Anthropic; pc == nil || pc.APIKey != "sk-ant" || pc.APIBase != "http://hub.local:8080" {
		t.Fatalf("anthropic provider = %+v", pc)
	}

	if err := (onboardChoice{provider: "mystery"}).apply(config.DefaultConfig()); err == nil {
		t.Fatal("apply(unknown provider) succeeded")
	}
}

func TestCreateBootstrapFilesKeepsEditedPrompt(t *testing.T) {
	ws := t.TempDir()
	if err := createBootstrapFiles(ws); err != nil {
		t.Fatalf("createBootstrapFiles() error = %v", err)
	}
	promptPath := filepath.Join(ws, thread.SystemPromptFile)
	data, err := os.ReadFile(promptPath)
	if err != nil || !strings.Contains(string(data), "smart-home") {
		t.Fatalf("prompt = %q, %v", data, err)
	}

	if err := os.WriteFile(promptPath, []byte("custom"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := createBootstrapFiles(ws); err != nil {
		t.Fatalf("second createBootstrapFiles() error = %v", err)
	}
	if data, _ := os.ReadFile(promptPath); string(data) != "custom" {
		t.Fatalf("prompt overwritten: %q", data)
	}
	if fi, err := os.Stat(filepath.Join(ws, "sessions")); err != nil || !fi.IsDir() {
		t.Fatalf("sessions dir missing: %v", err)
	}
}

func TestBackupSession(t *testing.T) {
	dir := t.TempDir()
	sessionFile := filepath.Join(dir, "session.json")
	now := time.Unix(1760000000, 0)

	path, err := backupSession(sessionFile, []byte(`{"key":"k"}`), now)
	if err != nil {
		t.Fatalf("backupSession() error = %v", err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "history") || !strings.HasPrefix(filepath.Base(path), "1760000000_") {
		t.Fatalf("backup path = %s", path)
	}
	if data, _ := os.ReadFile(path); string(data) != `{"key":"k"}` {
		t.Fatalf("backup content = %q", data)
	}
}
