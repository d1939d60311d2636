package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/linanwx/edgeagent/provider"
)

// RegisterHomeTools registers the device and rule tools backed by h.
func (r *Registry) RegisterHomeTools(h *Home) {
	r.Register(&ListDevicesTool{home: h})
	r.Register(&QueryDeviceTool{home: h})
	r.Register(&ControlDeviceTool{home: h})
	r.Register(&ListRulesTool{home: h})
	r.Register(&CreateRuleTool{home: h})
	r.Register(&DeleteRuleTool{home: h})
}

// ListDevicesTool lists known devices.
type ListDevicesTool struct{ home *Home }

func (t *ListDevicesTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "list_devices",
			Description: "List IoT devices, optionally filtered by room or device type.",
			Parameters: objectSchema(nil, map[string]any{
				"room": stringProp("Only devices in this room."),
				"type": stringProp("Only devices of this type (light, climate, lock, sensor)."),
			}),
		},
	}
}

func (t *ListDevicesTool) Meta() Meta { return Meta{} }

func (t *ListDevicesTool) Run(ctx context.Context, args json.RawMessage) (Output, error) {
	var a struct {
		Room string `json:"room"`
		Type string `json:"type"`
	}
	if out, ok := parseArgs(args, &a); !ok {
		return out, nil
	}
	return OK(t.home.Devices(strings.TrimSpace(a.Room), strings.TrimSpace(a.Type))), nil
}

// QueryDeviceTool reads the current state of one device.
type QueryDeviceTool struct{ home *Home }

func (t *QueryDeviceTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "query_device",
			Description: "Read the current state of a device.",
			Parameters: objectSchema([]string{"device_id"}, map[string]any{
				"device_id": stringProp("Device ID from list_devices."),
			}),
		},
	}
}

func (t *QueryDeviceTool) Meta() Meta {
	return Meta{Relationships: Relationships{CallAfter: []string{"list_devices"}}}
}

func (t *QueryDeviceTool) Run(ctx context.Context, args json.RawMessage) (Output, error) {
	var a struct {
		DeviceID string `json:"device_id"`
	}
	if out, ok := parseArgs(args, &a); !ok {
		return out, nil
	}
	d, err := t.home.Device(strings.TrimSpace(a.DeviceID))
	if err != nil {
		return Failed(err.Error()), nil
	}
	return OK(d), nil
}

// ControlDeviceTool sends a command to a device.
type ControlDeviceTool struct{ home *Home }

func (t *ControlDeviceTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "control_device",
			Description: "Send a command to a device: turn_on, turn_off, toggle, lock, unlock, or set with params.",
			Parameters: objectSchema([]string{"device_id", "command"}, map[string]any{
				"device_id": stringProp("Device ID from list_devices."),
				"command": map[string]any{
					"type": "string",
					"enum": []string{"turn_on", "turn_off", "toggle", "lock", "unlock", "set"},
				},
				"params": map[string]any{
					"type":        "object",
					"description": "State values for the set command, e.g. {\"brightness\": 40}.",
				},
			}),
		},
	}
}

func (t *ControlDeviceTool) Meta() Meta {
	return Meta{
		Relationships: Relationships{
			CallAfter:     []string{"query_device"},
			ExclusiveWith: []string{"control_device"},
		},
		SideEffects: true,
		Invalidates: []string{"query_device", "list_devices"},
	}
}

func (t *ControlDeviceTool) Run(ctx context.Context, args json.RawMessage) (Output, error) {
	var a struct {
		DeviceID string         `json:"device_id"`
		Command  string         `json:"command"`
		Params   map[string]any `json:"params"`
	}
	if out, ok := parseArgs(args, &a); !ok {
		return out, nil
	}
	d, err := t.home.Control(strings.TrimSpace(a.DeviceID), a.Command, a.Params)
	if err != nil {
		// An offline device is an execution failure worth retrying.
		if errors.Is(err, ErrDeviceUnavailable) {
			return Output{}, err
		}
		return Failed(err.Error()), nil
	}
	return OK(d), nil
}

// ListRulesTool lists automation rules.
type ListRulesTool struct{ home *Home }

func (t *ListRulesTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "list_rules",
			Description: "List automation rules.",
			Parameters:  objectSchema(nil, map[string]any{}),
		},
	}
}

func (t *ListRulesTool) Run(ctx context.Context, args json.RawMessage) (Output, error) {
	return OK(t.home.Rules()), nil
}

// CreateRuleTool adds an automation rule.
type CreateRuleTool struct{ home *Home }

func (t *CreateRuleTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "create_rule",
			Description: "Create an automation rule that runs an action when a condition holds.",
			Parameters: objectSchema([]string{"name", "condition", "action"}, map[string]any{
				"name":      stringProp("Short rule name."),
				"condition": stringProp("Trigger condition, e.g. kitchen_sensor.temperature > 30."),
				"action":    stringProp("Action, e.g. bedroom_ac.turn_on."),
			}),
		},
	}
}

func (t *CreateRuleTool) Meta() Meta {
	return Meta{
		Relationships: Relationships{ExclusiveWith: []string{"delete_rule"}},
		SideEffects:   true,
		Invalidates:   []string{"list_rules"},
	}
}

func (t *CreateRuleTool) Run(ctx context.Context, args json.RawMessage) (Output, error) {
	var a struct {
		Name      string `json:"name"`
		Condition string `json:"condition"`
		Action    string `json:"action"`
	}
	if out, ok := parseArgs(args, &a); !ok {
		return out, nil
	}
	rule, err := t.home.AddRule(a.Name, a.Condition, a.Action)
	if err != nil {
		return Failed(err.Error()), nil
	}
	return OK(rule), nil
}

// DeleteRuleTool removes an automation rule.
type DeleteRuleTool struct{ home *Home }

func (t *DeleteRuleTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "delete_rule",
			Description: "Delete an automation rule by ID.",
			Parameters: objectSchema([]string{"rule_id"}, map[string]any{
				"rule_id": stringProp("Rule ID from list_rules."),
			}),
		},
	}
}

func (t *DeleteRuleTool) Meta() Meta {
	return Meta{
		Relationships: Relationships{CallAfter: []string{"list_rules"}},
		SideEffects:   true,
		Invalidates:   []string{"list_rules"},
	}
}

func (t *DeleteRuleTool) Run(ctx context.Context, args json.RawMessage) (Output, error) {
	var a struct {
		RuleID string `json:"rule_id"`
	}
	if out, ok := parseArgs(args, &a); !ok {
		return out, nil
	}
	if err := t.home.DeleteRule(strings.TrimSpace(a.RuleID)); err != nil {
		return Failed(err.Error()), nil
	}
	return OK(map[string]string{"deleted": a.RuleID}), nil
}
