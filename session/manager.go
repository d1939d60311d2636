// Package session persists conversation history per session key.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linanwx/edgeagent/provider"
)

const (
	sessionsDir     = "sessions"
	sessionFileName = "session.json"
	defaultKey      = "main"
)

// Session is the stored conversation of one key.
type Session struct {
	Key       string             `json:"key"`
	Messages  []provider.Message `json:"messages"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Manager loads and saves sessions under <workspace>/sessions.
type Manager struct {
	root string

	mu    sync.Mutex
	cache map[string]*Session
}

// NewManager creates the sessions directory if needed.
func NewManager(workspace string) (*Manager, error) {
	root := filepath.Join(workspace, sessionsDir)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Manager{root: root, cache: make(map[string]*Session)}, nil
}

// PathForKey maps a key to its file. Colons separate directory levels;
// anything outside [A-Za-z0-9._-] is dropped from each level.
func (m *Manager) PathForKey(key string) string {
	parts := keySegments(key)
	elems := append([]string{m.root}, parts...)
	elems = append(elems, sessionFileName)
	return filepath.Join(elems...)
}

func keySegments(key string) []string {
	var out []string
	for _, raw := range strings.Split(key, ":") {
		seg := sanitizeSegment(raw)
		if seg != "" {
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return []string{defaultKey}
	}
	return out
}

func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}

// Get returns the session for key, loading it from disk on first use.
// The same pointer is returned until Reload replaces it.
func (m *Manager) Get(key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.cache[key]; ok {
		return s, nil
	}
	s, err := m.load(key)
	if err != nil {
		return nil, err
	}
	m.cache[key] = s
	return s, nil
}

// Reload reads the session from disk, replacing the cached copy. A
// missing file yields an empty session.
func (m *Manager) Reload(key string) (*Session, error) {
	s, err := m.load(key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cache[key] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) load(key string) (*Session, error) {
	path := m.PathForKey(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		now := time.Now()
		return &Session{Key: key, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", key, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	if s.Key == "" {
		s.Key = key
	}
	return &s, nil
}

// Save writes the session atomically and caches it.
func (m *Manager) Save(s *Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.Key, err)
	}
	path := m.PathForKey(s.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write session %s: %w", s.Key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit session %s: %w", s.Key, err)
	}

	m.mu.Lock()
	m.cache[s.Key] = s
	m.mu.Unlock()
	return nil
}

// Delete removes the stored session.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	err := os.Remove(m.PathForKey(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys of all stored sessions.
func (m *Manager) Keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != sessionFileName {
			return nil
		}
		rel, err := filepath.Rel(m.root, filepath.Dir(path))
		if err != nil {
			return err
		}
		keys = append(keys, strings.ReplaceAll(filepath.ToSlash(rel), "/", ":"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
