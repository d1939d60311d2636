package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func newHomeRegistry(t *testing.T) (*Registry, *Home) {
	t.Helper()
	h := DemoHome()
	r := NewRegistry()
	r.RegisterHomeTools(h)
	return r, h
}

func TestRegistryNamesAndDefs(t *testing.T) {
	r, _ := newHomeRegistry(t)
	want := []string{"control_device", "create_rule", "delete_rule", "list_devices", "list_rules", "query_device"}
	if diff := cmp.Diff(want, r.Names()); diff != "" {
		t.Fatalf("Names() mismatch (-want +got):\n%s", diff)
	}
	defs := r.Defs()
	if len(defs) != len(want) || defs[0].Function.Name != "control_device" {
		t.Fatalf("Defs() = %d defs starting with %q, want sorted defs", len(defs), defs[0].Function.Name)
	}
}

func TestRegistryMetadata(t *testing.T) {
	r, _ := newHomeRegistry(t)

	rel, ok := r.Relationships("query_device")
	if !ok {
		t.Fatal("Relationships(query_device) ok = false")
	}
	if diff := cmp.Diff([]string{"list_devices"}, rel.CallAfter); diff != "" {
		t.Fatalf("CallAfter mismatch (-want +got):\n%s", diff)
	}
	if _, ok := r.Relationships("get_devices"); ok {
		t.Fatal("Relationships(get_devices) ok = true, want false for unregistered tool")
	}

	if !r.Cacheable("list_devices") {
		t.Fatal("Cacheable(list_devices) = false, want true")
	}
	if r.Cacheable("control_device") {
		t.Fatal("Cacheable(control_device) = true, want false")
	}
	if r.Cacheable("nope") {
		t.Fatal("Cacheable(nope) = true, want false")
	}
	if diff := cmp.Diff([]string{"query_device", "list_devices"}, r.Invalidates("control_device")); diff != "" {
		t.Fatalf("Invalidates mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "nope", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("Execute() error = %v, want ErrUnknownTool", err)
	}
}

func TestControlDeviceFlow(t *testing.T) {
	r, h := newHomeRegistry(t)
	ctx := context.Background()

	out, err := r.Execute(ctx, "control_device", json.RawMessage(`{"device_id":"living_room_light","command":"turn_on"}`))
	if err != nil || !out.Success {
		t.Fatalf("control_device = %+v, %v; want success", out, err)
	}
	d, err := h.Device("living_room_light")
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if on, _ := d.State["on"].(bool); !on {
		t.Fatalf("light state = %v, want on", d.State)
	}

	out, err = r.Execute(ctx, "control_device", json.RawMessage(`{"device_id":"living_room_light","command":"explode"}`))
	if err != nil || out.Success || !strings.Contains(out.Error, "unsupported command") {
		t.Fatalf("control_device bad command = %+v, %v; want domain failure", out, err)
	}

	if err := h.SetOnline("bedroom_ac", false); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	_, err = r.Execute(ctx, "control_device", json.RawMessage(`{"device_id":"bedroom_ac","command":"turn_on"}`))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("control_device offline error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestQueryAndListDevices(t *testing.T) {
	r, _ := newHomeRegistry(t)
	ctx := context.Background()

	out, err := r.Execute(ctx, "list_devices", json.RawMessage(`{"type":"sensor"}`))
	if err != nil || !out.Success {
		t.Fatalf("list_devices = %+v, %v", out, err)
	}
	var devices []Device
	if err := json.Unmarshal(out.Data, &devices); err != nil {
		t.Fatalf("decode devices: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "kitchen_sensor" {
		t.Fatalf("list_devices(type=sensor) = %+v, want kitchen_sensor", devices)
	}

	out, err = r.Execute(ctx, "query_device", json.RawMessage(`{"device_id":"missing"}`))
	if err != nil || out.Success {
		t.Fatalf("query_device missing = %+v, %v; want domain failure", out, err)
	}

	out, _ = r.Execute(ctx, "query_device", json.RawMessage(`not json`))
	if out.Success || !strings.HasPrefix(out.Error, "invalid arguments") {
		t.Fatalf("query_device bad args = %+v, want invalid arguments", out)
	}
}

func TestRuleLifecycle(t *testing.T) {
	r, h := newHomeRegistry(t)
	ctx := context.Background()

	out, err := r.Execute(ctx, "create_rule", json.RawMessage(`{"name":"cool down","condition":"kitchen_sensor.temperature > 30","action":"bedroom_ac.turn_on"}`))
	if err != nil || !out.Success {
		t.Fatalf("create_rule = %+v, %v", out, err)
	}
	var rule Rule
	if err := json.Unmarshal(out.Data, &rule); err != nil {
		t.Fatalf("decode rule: %v", err)
	}
	if !strings.HasPrefix(rule.ID, "rule-") || !rule.Enabled {
		t.Fatalf("rule = %+v, want enabled rule with generated ID", rule)
	}

	if len(h.Rules()) != 1 {
		t.Fatalf("Rules() len = %d, want 1", len(h.Rules()))
	}
	out, _ = r.Execute(ctx, "delete_rule", json.RawMessage(`{"rule_id":"`+rule.ID+`"}`))
	if !out.Success {
		t.Fatalf("delete_rule = %+v, want success", out)
	}
	out, _ = r.Execute(ctx, "delete_rule", json.RawMessage(`{"rule_id":"`+rule.ID+`"}`))
	if out.Success {
		t.Fatal("delete_rule twice succeeded, want failure")
	}
}

func TestTruncateWithNotice(t *testing.T) {
	got, cut := TruncateWithNotice(strings.Repeat("a", 10)+strings.Repeat("b", 10), 10)
	if !cut {
		t.Fatal("TruncateWithNotice() cut = false, want true")
	}
	if !strings.HasPrefix(got, "aaaaa") || !strings.HasSuffix(got, "bbbbb") || !strings.Contains(got, "truncated 10 bytes") {
		t.Fatalf("TruncateWithNotice() = %q", got)
	}
	if got, cut := TruncateWithNotice("short", 10); cut || got != "short" {
		t.Fatalf("TruncateWithNotice(short) = %q, %v", got, cut)
	}

	// Six three-byte runes; neither cut may land inside one.
	got, _ = TruncateWithNotice("客厅灯卧室灯", 8)
	if !utf8.ValidString(got) || !strings.HasPrefix(got, "客") || !strings.HasSuffix(got, "灯") {
		t.Fatalf("TruncateWithNotice(multibyte) = %q", got)
	}
}

func TestCallContextRoundTrip(t *testing.T) {
	ctx := WithCallContext(context.Background(), CallContext{SessionKey: " home ", TurnID: "t1", CallID: "c1", Attempt: 2})
	got := CallContextFrom(ctx)
	if got.SessionKey != "home" || got.TurnID != "t1" || got.CallID != "c1" || got.Attempt != 2 {
		t.Fatalf("CallContextFrom() = %+v", got)
	}
	if got := CallContextFrom(context.Background()); got != (CallContext{}) {
		t.Fatalf("CallContextFrom(empty) = %+v, want zero", got)
	}
}
