package cron

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreFileName is the job file inside the workspace.
const StoreFileName = "cron.yaml"

// Store reads and writes the job list as YAML. An empty path keeps jobs
// in memory only.
type Store struct {
	path string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: strings.TrimSpace(path)}
}

// StoreIn returns the store of a workspace.
func StoreIn(workspace string) *Store {
	return NewStore(filepath.Join(workspace, StoreFileName))
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// ModTime returns the modification time of the backing file, or the zero
// time when there is none.
func (s *Store) ModTime() time.Time {
	if s.path == "" {
		return time.Time{}
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// Read returns the stored jobs. A missing file is an empty list.
func (s *Store) Read() ([]Job, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cron store: %w", err)
	}
	var list []Job
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse cron store %s: %w", s.path, err)
	}
	return list, nil
}

// Write replaces the stored jobs, sorted by ID.
func (s *Store) Write(jobs []Job) error {
	if s.path == "" {
		return nil
	}
	list := append([]Job(nil), jobs...)
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode cron store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cron store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit cron store: %w", err)
	}
	return nil
}
