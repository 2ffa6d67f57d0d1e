// Package scheduler admits queued tasks up to a fixed concurrency ceiling
// and consumes the event stream of their external processes. All state
// transitions of a task's lifetime flow through the single Run loop, so
// observers always see them in order.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/config"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/hub"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/progress"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/registry"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/supervisor"
)

const (
	operationDownload = "download"
	eventBuffer       = 256
)

// Status is a point-in-time view of the scheduler for the status endpoint.
type Status struct {
	Running     bool           `json:"running"`
	ActiveCount int            `json:"active_count"`
	QueueDepth  int            `json:"queue_depth"`
	Ceiling     int            `json:"ceiling"`
	Tasks       []*domain.Task `json:"tasks"`
}

// ProcessStarter launches one external process per admitted task. Satisfied
// by *supervisor.Supervisor.
type ProcessStarter interface {
	Start(task *domain.Task, events chan<- supervisor.Event) (*supervisor.Handle, error)
}

// Scheduler owns the pending queue and the set of running downloads.
type Scheduler struct {
	registry   *registry.Registry
	hub        *hub.Hub
	supervisor ProcessStarter
	logger     observability.Logger
	metrics    observability.Metrics

	downloadRoot string
	poll         time.Duration
	events       chan supervisor.Event

	// mu guards the ceiling, the pending queue and the active set.
	mu      sync.Mutex
	ceiling int
	queue   []string
	active  map[string]*supervisor.Handle
	started map[string]time.Time
}

// New creates a scheduler and registers itself as the hub's replay source,
// so new event subscribers immediately see the progress of running tasks.
func New(
	reg *registry.Registry,
	h *hub.Hub,
	sup ProcessStarter,
	logger observability.Logger,
	metrics observability.Metrics,
	cfg config.SchedulerConfig,
	downloadRoot string,
) *Scheduler {
	s := &Scheduler{
		registry:     reg,
		hub:          h,
		supervisor:   sup,
		logger:       logger,
		metrics:      metrics,
		downloadRoot: downloadRoot,
		ceiling:      clampCeiling(cfg.MaxConcurrent),
		poll:         cfg.PollInterval,
		events:       make(chan supervisor.Event, eventBuffer),
		active:       make(map[string]*supervisor.Handle),
		started:      make(map[string]time.Time),
	}
	if s.poll <= 0 {
		s.poll = 500 * time.Millisecond
	}
	h.SetReplaySource(s.replayEvents)
	return s
}

// SubmitBatch registers one task per locator and enqueues the new or
// retryable ones. Locators resolving to an already-completed task are
// returned in skipped and perform no work. destBase overrides the
// configured download root when non-empty; existing tasks keep the
// destination they were created with.
func (s *Scheduler) SubmitBatch(locators []string, destBase string) (tasks []*domain.Task, skipped []string) {
	if destBase == "" {
		destBase = s.downloadRoot
	}
	for _, locator := range locators {
		task, created, alreadyDone := s.registry.Create(locator, destBase)
		tasks = append(tasks, task)
		if alreadyDone {
			skipped = append(skipped, task.ID)
			s.logger.Info("submission skipped, already completed", "task_id", task.ID)
			continue
		}
		if task.Status == domain.TaskStatusFailed {
			// resubmitting a failed locator retries it
			s.registry.Update(task.ID, true, func(t *domain.Task) {
				t.Status = domain.TaskStatusPending
				t.LastError = ""
			})
			task.Status = domain.TaskStatusPending
			task.LastError = ""
		}
		if created || task.Status == domain.TaskStatusPending {
			s.Enqueue(task.ID)
		}
	}
	return tasks, skipped
}

// Enqueue adds task ids to the pending queue, ignoring ids that are already
// queued or running.
func (s *Scheduler) Enqueue(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if s.queuedLocked(id) {
			continue
		}
		if _, running := s.active[id]; running {
			continue
		}
		s.queue = append(s.queue, id)
	}
}

// CancelAll stops every running download and drops the pending queue.
// Cancelled tasks are removed from the registry entirely; their processes
// produce no terminal outcome, the cancellation event published here is the
// only trace they leave.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	started := 0
	ids := make([]string, 0, len(s.active)+len(s.queue))
	for id, h := range s.active {
		// a nil handle is a reservation mid-start; removing it makes the
		// starter kill its process as soon as the spawn returns
		if h != nil {
			h.Cancel()
			started++
		}
		ids = append(ids, id)
		delete(s.active, id)
		delete(s.started, id)
	}
	ids = append(ids, s.queue...)
	s.queue = nil
	s.mu.Unlock()

	for i := 0; i < started; i++ {
		s.metrics.EndOperation(operationDownload)
	}
	for _, id := range ids {
		task, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		task.Status = domain.TaskStatusCancelled
		s.registry.Delete(id)
		s.hub.Publish(domain.Event{Type: domain.EventCancelled, TaskID: id, Task: task})
	}
	if len(ids) > 0 {
		s.logger.Info("cancelled all downloads", "count", len(ids))
	}
	return len(ids)
}

// RestartFailed re-pends every failed task and restarts the running ones
// from their current position. Progress counts survive the restart; the
// external tool skips files that already exist in the destination.
func (s *Scheduler) RestartFailed() int {
	s.mu.Lock()
	for id, h := range s.active {
		if h != nil {
			h.Cancel()
			s.metrics.EndOperation(operationDownload)
		}
		delete(s.active, id)
		delete(s.started, id)
	}
	s.queue = nil
	s.mu.Unlock()

	var ids []string
	for _, task := range s.registry.List() {
		switch task.Status {
		case domain.TaskStatusFailed, domain.TaskStatusRunning, domain.TaskStatusPending:
			s.registry.Update(task.ID, true, func(t *domain.Task) {
				t.Status = domain.TaskStatusPending
				t.LastError = ""
			})
			ids = append(ids, task.ID)
		}
	}
	s.Enqueue(ids...)
	if len(ids) > 0 {
		s.logger.Info("restarting downloads", "count", len(ids))
	}
	return len(ids)
}

// SetCeiling adjusts the concurrency ceiling at runtime, clamped to the
// configured bounds, and returns the effective value. Lowering the ceiling
// never kills running downloads; excess slots drain as tasks finish.
func (s *Scheduler) SetCeiling(n int) int {
	n = clampCeiling(n)
	s.mu.Lock()
	s.ceiling = n
	s.mu.Unlock()
	s.logger.Info("concurrency ceiling changed", "ceiling", n)
	return n
}

// Status reports queue depth, running downloads and the full task list.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	activeCount := len(s.active)
	queueDepth := len(s.queue)
	ceiling := s.ceiling
	s.mu.Unlock()

	return Status{
		Running:     activeCount > 0 || queueDepth > 0,
		ActiveCount: activeCount,
		QueueDepth:  queueDepth,
		Ceiling:     ceiling,
		Tasks:       s.registry.List(),
	}
}

// Run drives admission and event consumption until the context is
// cancelled, then kills any still-running processes.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
			s.admit()
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

// admit starts queued tasks while slots are free. The popped id is
// reserved in active (as a nil placeholder) before the lock is released, so
// a concurrent CancelAll or RestartFailed always sees the task as either
// queued or active, never in between.
func (s *Scheduler) admit() {
	for {
		s.mu.Lock()
		if len(s.active) >= s.ceiling || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		id := s.queue[0]
		s.queue = s.queue[1:]
		if _, taken := s.active[id]; taken {
			s.mu.Unlock()
			continue
		}
		s.active[id] = nil
		s.mu.Unlock()

		task, ok := s.registry.Get(id)
		if !ok || task.Status.IsTerminal() {
			s.unreserve(id)
			continue
		}
		s.start(task)
	}
}

func (s *Scheduler) start(task *domain.Task) {
	s.registry.Update(task.ID, true, func(t *domain.Task) {
		t.Status = domain.TaskStatusRunning
	})
	task.Status = domain.TaskStatusRunning

	handle, err := s.supervisor.Start(task, s.events)
	if err != nil {
		s.unreserve(task.ID)
		s.logger.Error("failed to start download", "task_id", task.ID, "error", err)
		s.registry.Update(task.ID, true, func(t *domain.Task) {
			t.Status = domain.TaskStatusFailed
			t.LastError = err.Error()
		})
		s.metrics.RecordError(operationDownload, "start_failure")
		s.hub.Publish(domain.Event{Type: domain.EventTaskError, TaskID: task.ID, Error: err.Error()})
		return
	}

	s.mu.Lock()
	if existing, reserved := s.active[task.ID]; !reserved || existing != nil {
		// the reservation was revoked by CancelAll or RestartFailed while
		// the process was spawning; the fresh process must die too
		s.mu.Unlock()
		handle.Cancel()
		return
	}
	s.active[task.ID] = handle
	s.started[task.ID] = time.Now()
	s.mu.Unlock()

	s.metrics.StartOperation(operationDownload)
	s.hub.Publish(domain.Event{Type: domain.EventTaskStart, TaskID: task.ID, Task: task})
}

// unreserve drops the id's placeholder if the slot is still only reserved.
func (s *Scheduler) unreserve(id string) {
	s.mu.Lock()
	if h, ok := s.active[id]; ok && h == nil {
		delete(s.active, id)
	}
	s.mu.Unlock()
}

func (s *Scheduler) handleEvent(ev supervisor.Event) {
	switch {
	case ev.Snapshot != nil:
		snap := ev.Snapshot
		s.registry.Update(ev.TaskID, false, func(t *domain.Task) {
			t.ProgressPercent = snap.Percent
			t.CurrentItem = snap.CurrentItem
		})
		s.hub.Publish(domain.Event{Type: domain.EventProgress, TaskID: ev.TaskID, Snapshot: snap})

	case ev.Warning != nil:
		s.metrics.RecordWarning(string(ev.Warning.Kind))
		s.logger.Warn("download warning", "task_id", ev.TaskID, "kind", string(ev.Warning.Kind))
		s.hub.Publish(domain.Event{Type: domain.EventWarning, TaskID: ev.TaskID, Warning: ev.Warning})

	case ev.Outcome != nil:
		s.finish(ev.TaskID, ev.Outcome.Err)
	}
}

// finish records the terminal outcome of a process that ran to exit.
// Outcomes for tasks no longer registered (cancelled between exit and
// delivery) are dropped.
func (s *Scheduler) finish(id string, outcomeErr error) {
	s.mu.Lock()
	_, wasActive := s.active[id]
	startedAt, hasStart := s.started[id]
	delete(s.active, id)
	delete(s.started, id)
	s.mu.Unlock()

	if !wasActive {
		return
	}
	s.metrics.EndOperation(operationDownload)
	if hasStart {
		s.metrics.RecordDuration(operationDownload, time.Since(startedAt).Seconds())
	}

	if outcomeErr == nil {
		now := time.Now().UTC()
		ok := s.registry.Update(id, true, func(t *domain.Task) {
			t.Status = domain.TaskStatusCompleted
			t.ProgressPercent = 100
			t.CurrentItem = ""
			t.CompletedAt = &now
		})
		if !ok {
			return
		}
		s.metrics.RecordSuccess(operationDownload)
		s.logger.Info("download completed", "task_id", id)
		task, _ := s.registry.Get(id)
		s.hub.Publish(domain.Event{Type: domain.EventTaskComplete, TaskID: id, Task: task})
		return
	}

	ok := s.registry.Update(id, true, func(t *domain.Task) {
		t.Status = domain.TaskStatusFailed
		t.LastError = outcomeErr.Error()
	})
	if !ok {
		return
	}
	s.metrics.RecordError(operationDownload, errorKind(outcomeErr))
	s.logger.Error("download failed", "task_id", id, "error", outcomeErr)
	task, _ := s.registry.Get(id)
	s.hub.Publish(domain.Event{Type: domain.EventTaskError, TaskID: id, Error: outcomeErr.Error(), Task: task})
}

// shutdown kills running processes without publishing terminal events; the
// tasks stay recorded as running and are demoted to pending on the next
// start.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.active {
		if h != nil {
			h.Cancel()
		}
		delete(s.active, id)
		delete(s.started, id)
	}
	s.queue = nil
}

// replayEvents builds one progress event per running task for new hub
// subscribers.
func (s *Scheduler) replayEvents() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for id, h := range s.active {
		if h == nil {
			continue
		}
		if snap := h.CurrentProgress(); snap != nil {
			out = append(out, domain.Event{Type: domain.EventProgress, TaskID: id, Snapshot: snap})
		}
	}
	return out
}

func (s *Scheduler) queuedLocked(id string) bool {
	for _, q := range s.queue {
		if q == id {
			return true
		}
	}
	return false
}

func clampCeiling(n int) int {
	if n < config.MinConcurrent {
		return config.MinConcurrent
	}
	if n > config.MaxConcurrent {
		return config.MaxConcurrent
	}
	return n
}

func errorKind(err error) string {
	var exitErr *progress.ExitError
	if errors.As(err, &exitErr) && exitErr.Kind != "" {
		return string(exitErr.Kind)
	}
	return "process_failure"
}
