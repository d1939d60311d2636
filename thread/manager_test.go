package thread

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/linanwx/edgeagent/provider"
	"github.com/linanwx/edgeagent/provider/providertest"
)

func TestManagerNewThreadReuse(t *testing.T) {
	mgr := NewManager(testConfig(providertest.NewScripted(), nil))

	a := mgr.NewThread("home:kitchen")
	b := mgr.NewThread(" home:kitchen ")
	if a != b {
		t.Fatal("NewThread() returned a different thread for the same key")
	}
	def := mgr.NewThread("")
	if def.SessionKey() != defaultSessionKey {
		t.Fatalf("SessionKey() = %q, want %q", def.SessionKey(), defaultSessionKey)
	}
	if _, ok := mgr.Get("home:kitchen"); !ok {
		t.Fatal("Get() did not find the thread")
	}

	infos := mgr.List()
	if len(infos) != 2 || infos[0].SessionKey != defaultSessionKey || infos[1].SessionKey != "home:kitchen" {
		t.Fatalf("List() = %+v", infos)
	}
	if infos[1].State != "Idle" || infos[1].Cache.MaxSize == 0 {
		t.Fatalf("Info = %+v, want Idle with a sized cache", infos[1])
	}
}

func TestManagerClose(t *testing.T) {
	mgr := NewManager(testConfig(providertest.NewScripted(), nil))
	th := mgr.NewThread("home:a")

	if !mgr.Close("home:a") {
		t.Fatal("Close() = false, want true")
	}
	if mgr.Close("home:a") {
		t.Fatal("second Close() = true, want false")
	}
	if th.State().String() != "Closed" {
		t.Fatalf("State() = %v, want Closed", th.State())
	}
	if fresh := mgr.NewThread("home:a"); fresh == th {
		t.Fatal("NewThread() returned the closed thread")
	}
}

func TestManagerCollectIdle(t *testing.T) {
	mgr := NewManager(testConfig(providertest.NewScripted(), nil))
	old := mgr.NewThread("home:old")
	mgr.NewThread("home:new")

	old.mu.Lock()
	old.lastActiveAt = time.Now().Add(-2 * defaultThreadTTL)
	old.mu.Unlock()

	if n := mgr.collectIdle(time.Now()); n != 1 {
		t.Fatalf("collectIdle() = %d, want 1", n)
	}
	if _, ok := mgr.Get("home:old"); ok {
		t.Fatal("idle thread still registered")
	}
	if _, ok := mgr.Get("home:new"); !ok {
		t.Fatal("active thread was collected")
	}
}

func TestManagerWakeDeliversToSink(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := providertest.NewScripted(providertest.Step{Response: provider.Response{Content: "lights are off"}})
	mgr := NewManager(testConfig(p, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	got := make(chan string, 1)
	mgr.Wake("home:sink", &WakeMessage{
		Source:  "cli",
		Message: "are the lights off?",
		Sink: func(_ context.Context, response string) error {
			got <- response
			return nil
		},
	})

	select {
	case r := <-got:
		if r != "lights are off" {
			t.Fatalf("sink got %q, want %q", r, "lights are off")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sink")
	}

	cancel()
	<-done
	mgr.CloseAll()
}

func TestManagerWakeUsesDefaultSink(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := providertest.NewScripted(providertest.Step{Response: provider.Response{Content: "done"}})
	got := make(chan string, 1)
	cfg := testConfig(p, nil)
	cfg.DefaultSinkFor = func(sessionKey string) Sink {
		return func(_ context.Context, response string) error {
			got <- sessionKey + ": " + response
			return nil
		}
	}
	mgr := NewManager(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()
	mgr.WakeWith("home:cron", "cron", "turn off the porch light")

	select {
	case r := <-got:
		if r != "home:cron: done" {
			t.Fatalf("default sink got %q", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for default sink")
	}
	cancel()
	<-done

	user := p.Requests()[0].Messages[1]
	if !strings.HasPrefix(user.Content, "[Wake reason: cron |") {
		t.Fatalf("user message = %q, want wake prefix", user.Content)
	}
}

func TestBuildWakePayload(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if got := buildWakePayload("cli", "  hi  ", now); got != "hi" {
		t.Fatalf("cli payload = %q, want %q", got, "hi")
	}
	if got := buildWakePayload("cron", "   ", now); got != "" {
		t.Fatalf("blank payload = %q, want empty", got)
	}
	got := buildWakePayload("at", "water the plants", now)
	want := "[Wake reason: at | 2026-01-02T03:04:05Z]\n[Wake Action]\n" + wakeActionHint("at") + "\n\nwater the plants"
	if got != want {
		t.Fatalf("at payload = %q, want %q", got, want)
	}
}

func TestTryMergeSameSource(t *testing.T) {
	th := NewManager(testConfig(providertest.NewScripted(), nil)).NewThread("home:merge")

	th.inbox <- &WakeMessage{Source: "cron", Message: "second"}
	th.inbox <- &WakeMessage{Source: "cli", Message: "other"}
	th.inbox <- &WakeMessage{Source: "cron", Message: "third"}

	merged := th.tryMerge(&WakeMessage{Source: "cron", Message: "first"})
	if merged.Message != "first\nsecond\nthird" {
		t.Fatalf("merged message = %q", merged.Message)
	}
	if len(th.inbox) != 1 {
		t.Fatalf("inbox len = %d, want 1", len(th.inbox))
	}
	if rest := <-th.inbox; rest.Source != "cli" {
		t.Fatalf("requeued source = %q, want cli", rest.Source)
	}
}
