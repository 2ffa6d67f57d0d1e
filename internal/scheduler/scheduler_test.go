package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/config"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/hub"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/registry"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/storage"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/supervisor"
)

const testLocatorBase = "https://drive.example.com/folders/"

func testLocator(n int) string {
	return fmt.Sprintf("%sfolder%02d_aaaaaaaaaaaaaaaaaaaa", testLocatorBase, n)
}

// fakeTool writes an executable shell script standing in for the real
// download binary.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script tool stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-tool")
	content := "#!/bin/sh\n" + script + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

type fixture struct {
	scheduler *Scheduler
	registry  *registry.Registry
	hub       *hub.Hub
	events    <-chan domain.Event
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// stop halts the run loop and waits for it to finish, so tests can drive
// scheduler state directly without racing admission.
func (fx *fixture) stop() {
	fx.cancel()
	<-fx.loopDone
}

func newFixture(t *testing.T, toolScript string, ceiling int) *fixture {
	t.Helper()
	logger := observability.NewLogger(observability.LoggerOptions{Output: io.Discard})

	store, err := storage.NewFSStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	reg := registry.New(store, logger, 50*time.Millisecond)

	h := hub.New(logger)
	sup := supervisor.New(config.ToolConfig{Binary: fakeTool(t, toolScript)}, logger)

	sched := New(reg, h, sup, logger, observability.NopMetrics{}, config.SchedulerConfig{
		MaxConcurrent: ceiling,
		PollInterval:  10 * time.Millisecond,
	}, t.TempDir())

	events, unsubscribe := h.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		sched.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-loopDone
		unsubscribe()
	})

	return &fixture{scheduler: sched, registry: reg, hub: h, events: events, cancel: cancel, loopDone: loopDone}
}

// collect drains events until the predicate says enough, or the deadline
// expires.
func collect(t *testing.T, events <-chan domain.Event, enough func([]domain.Event) bool) []domain.Event {
	t.Helper()
	var got []domain.Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
			if enough(got) {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d so far", len(got))
		}
	}
}

func countType(events []domain.Event, typ domain.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestCeilingOneRunsTasksSequentially(t *testing.T) {
	fx := newFixture(t, `echo "Download completed"`, 1)

	locators := []string{testLocator(1), testLocator(2), testLocator(3)}
	tasks, skipped := fx.scheduler.SubmitBatch(locators, "")
	require.Len(t, tasks, 3)
	assert.Empty(t, skipped)

	got := collect(t, fx.events, func(evs []domain.Event) bool {
		return countType(evs, domain.EventTaskComplete) == 3
	})

	assert.Equal(t, 3, countType(got, domain.EventTaskStart))

	// with one slot, a start must never appear before the previous
	// task's terminal event
	inFlight := 0
	for _, ev := range got {
		switch ev.Type {
		case domain.EventTaskStart:
			inFlight++
			assert.LessOrEqual(t, inFlight, 1, "two tasks in flight under ceiling 1")
		case domain.EventTaskComplete, domain.EventTaskError:
			inFlight--
		}
	}

	for _, task := range fx.registry.List() {
		assert.Equal(t, domain.TaskStatusCompleted, task.Status)
		assert.Equal(t, 100, task.ProgressPercent)
		require.NotNil(t, task.CompletedAt)
	}
}

func TestConcurrentCeilingAdmitsInParallel(t *testing.T) {
	fx := newFixture(t, `sleep 0.2; echo "Download completed"`, 3)

	fx.scheduler.SubmitBatch([]string{testLocator(1), testLocator(2), testLocator(3)}, "")

	collect(t, fx.events, func(evs []domain.Event) bool {
		return countType(evs, domain.EventTaskStart) == 3
	})

	st := fx.scheduler.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 3, st.ActiveCount)
	assert.Equal(t, 0, st.QueueDepth)
}

func TestCancelAllIsSilentAndForgets(t *testing.T) {
	fx := newFixture(t, `exec sleep 60`, 2)

	tasks, _ := fx.scheduler.SubmitBatch([]string{testLocator(1)}, "")
	require.Len(t, tasks, 1)
	id := tasks[0].ID

	collect(t, fx.events, func(evs []domain.Event) bool {
		return countType(evs, domain.EventTaskStart) == 1
	})

	cancelled := fx.scheduler.CancelAll()
	assert.Equal(t, 1, cancelled)

	got := collect(t, fx.events, func(evs []domain.Event) bool {
		return countType(evs, domain.EventCancelled) == 1
	})
	assert.Equal(t, id, got[len(got)-1].TaskID)

	// the killed process must not surface a terminal outcome
	time.Sleep(300 * time.Millisecond)
	select {
	case ev := <-fx.events:
		assert.NotEqual(t, domain.EventTaskError, ev.Type)
		assert.NotEqual(t, domain.EventTaskComplete, ev.Type)
	default:
	}

	_, exists := fx.registry.Get(id)
	assert.False(t, exists)
	assert.False(t, fx.scheduler.Status().Running)
}

func TestFailedTaskCarriesDiagnosticError(t *testing.T) {
	fx := newFixture(t, `echo "fatal: network unreachable" >&2; exit 1`, 1)

	tasks, _ := fx.scheduler.SubmitBatch([]string{testLocator(1)}, "")
	id := tasks[0].ID

	got := collect(t, fx.events, func(evs []domain.Event) bool {
		return countType(evs, domain.EventTaskError) == 1
	})
	last := got[len(got)-1]
	assert.Contains(t, last.Error, "network unreachable")

	task, ok := fx.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Contains(t, task.LastError, "network unreachable")
}

func TestRestartFailedRePendsAndPreservesProgress(t *testing.T) {
	fx := newFixture(t, `echo "Download completed"`, 1)
	fx.stop() // this test drives state directly, keep admission out of the way

	task, created, _ := fx.registry.Create(testLocator(1), t.TempDir())
	require.True(t, created)
	fx.registry.Update(task.ID, true, func(tk *domain.Task) {
		tk.Status = domain.TaskStatusFailed
		tk.ProgressPercent = 40
		tk.LastError = "boom"
	})

	restarted := fx.scheduler.RestartFailed()
	assert.Equal(t, 1, restarted)

	after, ok := fx.registry.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, after.Status)
	assert.Equal(t, 40, after.ProgressPercent)
	assert.Empty(t, after.LastError)
	assert.Equal(t, 1, fx.scheduler.Status().QueueDepth)
}

func TestResubmitCompletedIsSkipped(t *testing.T) {
	fx := newFixture(t, `echo "Download completed"`, 1)

	tasks, _ := fx.scheduler.SubmitBatch([]string{testLocator(1)}, "")
	id := tasks[0].ID

	collect(t, fx.events, func(evs []domain.Event) bool {
		return countType(evs, domain.EventTaskComplete) == 1
	})

	again, skipped := fx.scheduler.SubmitBatch([]string{testLocator(1)}, "")
	require.Len(t, again, 1)
	assert.Equal(t, []string{id}, skipped)
	assert.Equal(t, domain.TaskStatusCompleted, again[0].Status)
}

// gatedStarter parks admission inside the process spawn until released, so
// tests can interleave control calls with a start in flight.
type gatedStarter struct {
	real    *supervisor.Supervisor
	entered chan string
	release chan struct{}
}

func (g *gatedStarter) Start(task *domain.Task, events chan<- supervisor.Event) (*supervisor.Handle, error) {
	g.entered <- task.ID
	<-g.release
	return g.real.Start(task, events)
}

func TestCancelAllCatchesTaskMidStart(t *testing.T) {
	logger := observability.NewLogger(observability.LoggerOptions{Output: io.Discard})
	store, err := storage.NewFSStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	reg := registry.New(store, logger, time.Second)
	h := hub.New(logger)

	gate := &gatedStarter{
		real:    supervisor.New(config.ToolConfig{Binary: fakeTool(t, `exec sleep 60`)}, logger),
		entered: make(chan string),
		release: make(chan struct{}),
	}
	sched := New(reg, h, gate, logger, observability.NopMetrics{}, config.SchedulerConfig{
		MaxConcurrent: 1,
		PollInterval:  10 * time.Millisecond,
	}, t.TempDir())

	events, unsubscribe := h.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		sched.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-loopDone
	})

	tasks, _ := sched.SubmitBatch([]string{testLocator(1)}, "")
	require.Len(t, tasks, 1)
	id := tasks[0].ID

	select {
	case startingID := <-gate.entered:
		require.Equal(t, id, startingID)
	case <-time.After(5 * time.Second):
		t.Fatal("admission never reached the starter")
	}

	// the start is parked inside the spawn; the hard stop must still see
	// the task and revoke it
	cancelled := sched.CancelAll()
	assert.Equal(t, 1, cancelled)

	close(gate.release)

	got := collect(t, events, func(evs []domain.Event) bool {
		return countType(evs, domain.EventCancelled) == 1
	})
	assert.Zero(t, countType(got, domain.EventTaskStart), "revoked start must not announce the task")
	assert.Zero(t, countType(got, domain.EventTaskError))

	_, exists := reg.Get(id)
	assert.False(t, exists)
	assert.Eventually(t, func() bool {
		return sched.Status().ActiveCount == 0
	}, 2*time.Second, 10*time.Millisecond, "the revoked process must not stay active")
}

func TestSetCeilingClampsToBounds(t *testing.T) {
	fx := newFixture(t, `echo "Download completed"`, 1)
	fx.stop()

	assert.Equal(t, config.MaxConcurrent, fx.scheduler.SetCeiling(99))
	assert.Equal(t, config.MinConcurrent, fx.scheduler.SetCeiling(0))
	assert.Equal(t, 4, fx.scheduler.SetCeiling(4))
	assert.Equal(t, 4, fx.scheduler.Status().Ceiling)
}

func TestRaisingCeilingAdmitsQueuedTask(t *testing.T) {
	fx := newFixture(t, `exec sleep 60`, 1)

	fx.scheduler.SubmitBatch([]string{testLocator(1), testLocator(2)}, "")

	collect(t, fx.events, func(evs []domain.Event) bool {
		return countType(evs, domain.EventTaskStart) == 1
	})
	st := fx.scheduler.Status()
	assert.Equal(t, 1, st.ActiveCount)
	assert.Equal(t, 1, st.QueueDepth)

	fx.scheduler.SetCeiling(2)

	collect(t, fx.events, func(evs []domain.Event) bool {
		return countType(evs, domain.EventTaskStart) == 1
	})
	assert.Equal(t, 2, fx.scheduler.Status().ActiveCount)
}

func TestEnqueueDeduplicates(t *testing.T) {
	fx := newFixture(t, `exec sleep 60`, 1)
	fx.stop()

	fx.scheduler.Enqueue("a", "a", "b", "a")
	assert.Equal(t, 2, fx.scheduler.Status().QueueDepth)
}
