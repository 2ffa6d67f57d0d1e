// Package storage provides the durable store for the task collection: one
// opaque JSON document keyed by task id, written wholesale and reloaded
// wholesale at startup. Backends: local filesystem (default) and S3.
package storage

import (
	"context"
	"fmt"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/config"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
)

// TaskStore persists the full task collection.
type TaskStore interface {
	// Save writes the entire collection, replacing the previous state.
	Save(ctx context.Context, tasks map[string]*domain.Task) error

	// Load reads the collection. A store that was never written returns an
	// empty map, not an error.
	Load(ctx context.Context) (map[string]*domain.Task, error)
}

// New selects a store backend from configuration.
func New(cfg *config.Config, logger observability.Logger) (TaskStore, error) {
	switch cfg.Store.Backend {
	case "fs":
		return NewFSStore(cfg.Store.Path)
	case "s3":
		return NewS3Store(context.Background(), cfg.Store, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
