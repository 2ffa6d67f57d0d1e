package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
)

// FSStore keeps the task collection in a single JSON file. Writes go to a
// temp file first and are renamed into place so a crash mid-write never
// corrupts the collection.
type FSStore struct {
	path string
}

// NewFSStore creates the parent directory if needed and returns the store.
func NewFSStore(path string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FSStore{path: path}, nil
}

// Save writes the collection atomically.
func (s *FSStore) Save(_ context.Context, tasks map[string]*domain.Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task collection: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write task collection: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace task collection: %w", err)
	}
	return nil
}

// Load reads the collection; a missing file yields an empty map.
func (s *FSStore) Load(_ context.Context) (map[string]*domain.Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*domain.Task{}, nil
		}
		return nil, fmt.Errorf("failed to read task collection: %w", err)
	}

	tasks := map[string]*domain.Task{}
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode task collection: %w", err)
	}
	return tasks, nil
}
