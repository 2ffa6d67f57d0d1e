// Package registry owns the durable record of every submitted task. All
// in-memory state lives behind this one component; callers never share the
// task map directly.
//
// Durability policy: status transitions are flushed to the store
// synchronously, while pure progress updates are buffered and flushed on a
// fixed interval. This bounds write volume under rapid progress events
// without ever losing a status change to a crash.
package registry

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/storage"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/taskid"
)

// Registry is the task registry. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	dirty bool

	// flushMu serializes store writes so a slow backend cannot interleave
	// an older snapshot over a newer one.
	flushMu sync.Mutex

	store         storage.TaskStore
	logger        observability.Logger
	flushInterval time.Duration
}

// New creates a registry backed by the given store.
func New(store storage.TaskStore, logger observability.Logger, flushInterval time.Duration) *Registry {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Registry{
		tasks:         make(map[string]*domain.Task),
		store:         store,
		logger:        logger,
		flushInterval: flushInterval,
	}
}

// Create registers a task for the locator, deriving its id from the embedded
// resource identifier. Idempotent: an existing non-completed task is
// returned unchanged with created=false; a completed one is reported as
// skipped so resubmission performs no new work.
//
// destBase is the directory under which the task gets its own subdirectory
// keyed by id.
func (r *Registry) Create(locator, destBase string) (task *domain.Task, created, skipped bool) {
	id := taskid.Derive(locator)

	r.mu.Lock()
	if existing, ok := r.tasks[id]; ok {
		clone := existing.Clone()
		r.mu.Unlock()
		if clone.Status == domain.TaskStatusCompleted {
			return clone, false, true
		}
		return clone, false, false
	}

	t := &domain.Task{
		ID:            id,
		SourceLocator: locator,
		Destination:   filepath.Join(destBase, id),
		Status:        domain.TaskStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	r.tasks[id] = t
	clone := t.Clone()
	r.mu.Unlock()

	// creation is a status transition, write it through
	r.flush(context.Background())
	return clone, true, false
}

// Get returns a copy of the task.
func (r *Registry) Get(id string) (*domain.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// List returns copies of all tasks ordered by creation time.
func (r *Registry) List() []*domain.Task {
	r.mu.RLock()
	out := make([]*domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update applies a mutation to the task. With durable=true the store is
// written before Update returns; otherwise the change is buffered for the
// next interval flush. Returns false if the task does not exist.
func (r *Registry) Update(id string, durable bool, mutate func(*domain.Task)) bool {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	mutate(t)
	r.dirty = true
	r.mu.Unlock()

	if durable {
		r.flush(context.Background())
	}
	return true
}

// Delete removes the task and writes the store through. Used for cancelled
// tasks, which are dropped immediately to bound the collection's size.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	_, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
		r.dirty = true
	}
	r.mu.Unlock()

	if ok {
		r.flush(context.Background())
	}
}

// Recover loads the persisted collection and prepares it for scheduling:
// completed tasks are kept solely for idempotent resubmission, tasks that
// were pending, running or failed at shutdown are demoted to pending with
// their progress preserved so the external tool can resume at the file
// level. Returns the ids to enqueue, in creation order.
func (r *Registry) Recover(ctx context.Context) ([]string, error) {
	loaded, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	var resumable []*domain.Task
	for id, t := range loaded {
		switch t.Status {
		case domain.TaskStatusCompleted:
			r.tasks[id] = t
		case domain.TaskStatusPending, domain.TaskStatusRunning, domain.TaskStatusFailed:
			t.Status = domain.TaskStatusPending
			t.LastError = ""
			r.tasks[id] = t
			resumable = append(resumable, t)
		default:
			// cancelled records are user-abandoned work, drop them
		}
	}
	r.dirty = len(loaded) > 0
	r.mu.Unlock()

	sort.Slice(resumable, func(i, j int) bool {
		return resumable[i].CreatedAt.Before(resumable[j].CreatedAt)
	})
	ids := make([]string, len(resumable))
	for i, t := range resumable {
		ids[i] = t.ID
	}

	if len(loaded) > 0 {
		r.flush(ctx)
	}
	return ids, nil
}

// Run flushes buffered updates on the fixed interval until the context is
// cancelled, then performs a final flush.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Flush(context.Background())
			return
		case <-ticker.C:
			r.mu.RLock()
			dirty := r.dirty
			r.mu.RUnlock()
			if dirty {
				r.flush(ctx)
			}
		}
	}
}

// Flush forces a store write of the current state.
func (r *Registry) Flush(ctx context.Context) {
	r.flush(ctx)
}

// flush writes a snapshot of the collection. Store failures are logged, not
// propagated: persistence is best-effort and recovery relies on the next
// successful flush.
func (r *Registry) flush(ctx context.Context) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	snapshot := make(map[string]*domain.Task, len(r.tasks))
	for id, t := range r.tasks {
		snapshot[id] = t.Clone()
	}
	r.dirty = false
	r.mu.Unlock()

	if err := r.store.Save(ctx, snapshot); err != nil {
		r.logger.Error("failed to persist task collection", "error", err, "tasks", len(snapshot))
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
	}
}
