package tools

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDeviceNotFound is returned for unknown device IDs.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceUnavailable is returned when a device is offline.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrRuleNotFound is returned for unknown rule IDs.
	ErrRuleNotFound = errors.New("rule not found")
)

// Device is a controllable IoT endpoint.
type Device struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Room      string         `json:"room,omitempty"`
	Online    bool           `json:"online"`
	State     map[string]any `json:"state,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Rule is an automation rule: when Condition holds, run Action.
type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Condition string    `json:"condition"`
	Action    string    `json:"action"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Home is an in-memory device and rule store backing the built-in tools.
type Home struct {
	mu      sync.RWMutex
	devices map[string]*Device
	rules   map[string]*Rule
	now     func() time.Time
}

// NewHome creates an empty Home.
func NewHome() *Home {
	return &Home{
		devices: make(map[string]*Device),
		rules:   make(map[string]*Rule),
		now:     time.Now,
	}
}

// DemoHome returns a Home seeded with a few typical devices.
func DemoHome() *Home {
	h := NewHome()
	h.AddDevice(Device{ID: "living_room_light", Name: "Living room light", Type: "light", Room: "living_room", Online: true,
		State: map[string]any{"on": false, "brightness": 80}})
	h.AddDevice(Device{ID: "bedroom_ac", Name: "Bedroom AC", Type: "climate", Room: "bedroom", Online: true,
		State: map[string]any{"on": false, "target_temp": 24}})
	h.AddDevice(Device{ID: "front_door_lock", Name: "Front door lock", Type: "lock", Room: "hallway", Online: true,
		State: map[string]any{"locked": true}})
	h.AddDevice(Device{ID: "kitchen_sensor", Name: "Kitchen sensor", Type: "sensor", Room: "kitchen", Online: true,
		State: map[string]any{"temperature": 22.5, "humidity": 41}})
	return h
}

// AddDevice adds or replaces a device.
func (h *Home) AddDevice(d Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d.State = maps.Clone(d.State)
	if d.State == nil {
		d.State = map[string]any{}
	}
	d.UpdatedAt = h.now()
	h.devices[d.ID] = &d
}

// SetOnline marks a device reachable or not.
func (h *Home) SetOnline(id string, online bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	d.Online = online
	return nil
}

// Devices returns devices filtered by room and type, sorted by ID.
// Empty filters match everything.
func (h *Home) Devices(room, typ string) []Device {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Device, 0, len(h.devices))
	for _, d := range h.devices {
		if room != "" && !strings.EqualFold(d.Room, room) {
			continue
		}
		if typ != "" && !strings.EqualFold(d.Type, typ) {
			continue
		}
		out = append(out, copyDevice(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Device returns one device.
func (h *Home) Device(id string) (Device, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return copyDevice(d), nil
}

// Control applies a command to a device. Supported commands are turn_on,
// turn_off, toggle, lock, unlock and set (params merged into state).
func (h *Home) Control(id, command string, params map[string]any) (Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if !d.Online {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceUnavailable, id)
	}

	switch strings.ToLower(strings.TrimSpace(command)) {
	case "turn_on":
		d.State["on"] = true
	case "turn_off":
		d.State["on"] = false
	case "toggle":
		on, _ := d.State["on"].(bool)
		d.State["on"] = !on
	case "lock":
		d.State["locked"] = true
	case "unlock":
		d.State["locked"] = false
	case "set":
		if len(params) == 0 {
			return Device{}, fmt.Errorf("set requires params")
		}
		maps.Copy(d.State, params)
	default:
		return Device{}, fmt.Errorf("unsupported command %q", command)
	}
	d.UpdatedAt = h.now()
	return copyDevice(d), nil
}

// Rules returns all rules sorted by creation time.
func (h *Home) Rules() []Rule {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Rule, 0, len(h.rules))
	for _, r := range h.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AddRule stores a new enabled rule and returns it with its generated ID.
func (h *Home) AddRule(name, condition, action string) (Rule, error) {
	name, condition, action = strings.TrimSpace(name), strings.TrimSpace(condition), strings.TrimSpace(action)
	if name == "" || condition == "" || action == "" {
		return Rule{}, fmt.Errorf("name, condition and action are required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r := &Rule{
		ID:        "rule-" + uuid.NewString()[:8],
		Name:      name,
		Condition: condition,
		Action:    action,
		Enabled:   true,
		CreatedAt: h.now(),
	}
	h.rules[r.ID] = r
	return *r, nil
}

// DeleteRule removes a rule.
func (h *Home) DeleteRule(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(h.rules, id)
	return nil
}

func copyDevice(d *Device) Device {
	out := *d
	out.State = maps.Clone(d.State)
	return out
}
