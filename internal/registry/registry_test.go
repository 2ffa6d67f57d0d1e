package registry

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
	obmocks "github.com/jayhsu5202/Google-Drive-Downloader/internal/observability/mocks"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/storage"
	stmocks "github.com/jayhsu5202/Google-Drive-Downloader/internal/storage/mocks"
)

const folderURL = "https://drive.google.com/drive/folders/1a2B3c4D5e6F7g8H9i0JkLmNoPqRsTuV"

func testLogger() observability.Logger {
	return observability.NewLogger(observability.LoggerOptions{Output: io.Discard})
}

func newFSRegistry(t *testing.T) (*Registry, *storage.FSStore) {
	t.Helper()
	store, err := storage.NewFSStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	return New(store, testLogger(), 50*time.Millisecond), store
}

func TestCreateIdempotent(t *testing.T) {
	r, _ := newFSRegistry(t)

	first, created, skipped := r.Create(folderURL, "/dl")
	assert.True(t, created)
	assert.False(t, skipped)
	assert.Equal(t, "1a2B3c4D5e6F7g8H9i0JkLmNoPqRsTuV", first.ID)
	assert.Equal(t, filepath.Join("/dl", first.ID), first.Destination)
	assert.Equal(t, domain.TaskStatusPending, first.Status)

	second, created, skipped := r.Create(folderURL, "/dl")
	assert.False(t, created)
	assert.False(t, skipped)
	assert.Equal(t, first.ID, second.ID)

	assert.Len(t, r.List(), 1)
}

func TestCreateCompletedReportedAsSkipped(t *testing.T) {
	r, _ := newFSRegistry(t)

	task, _, _ := r.Create(folderURL, "/dl")
	r.Update(task.ID, true, func(t *domain.Task) {
		t.Status = domain.TaskStatusCompleted
		t.ProgressPercent = 100
	})

	_, created, skipped := r.Create(folderURL, "/dl")
	assert.False(t, created)
	assert.True(t, skipped)
}

func TestStatusWritesAreSynchronous(t *testing.T) {
	r, store := newFSRegistry(t)
	task, _, _ := r.Create(folderURL, "/dl")

	r.Update(task.ID, true, func(t *domain.Task) {
		t.Status = domain.TaskStatusRunning
	})

	// read the store directly, without any interval flush having run
	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, persisted, task.ID)
	assert.Equal(t, domain.TaskStatusRunning, persisted[task.ID].Status)
}

func TestProgressWritesAreDebounced(t *testing.T) {
	r, store := newFSRegistry(t)
	task, _, _ := r.Create(folderURL, "/dl")

	r.Update(task.ID, false, func(t *domain.Task) {
		t.ProgressPercent = 42
		t.CurrentItem = "a.bin"
	})

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, persisted[task.ID].ProgressPercent, "buffered update must not hit the store yet")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()

	assert.Eventually(t, func() bool {
		persisted, err := store.Load(context.Background())
		return err == nil && persisted[task.ID].ProgressPercent == 42
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

func TestRecover(t *testing.T) {
	store, err := storage.NewFSStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	seed := map[string]*domain.Task{
		"pending-task-aaaaaaaaaaaa": {
			ID: "pending-task-aaaaaaaaaaaa", Status: domain.TaskStatusPending,
			CreatedAt: base.Add(2 * time.Minute),
		},
		"running-task-bbbbbbbbbbbb": {
			ID: "running-task-bbbbbbbbbbbb", Status: domain.TaskStatusRunning,
			ProgressPercent: 60, CurrentItem: "c.bin",
			CreatedAt: base.Add(1 * time.Minute),
		},
		"failed-task-cccccccccccc": {
			ID: "failed-task-cccccccccccc", Status: domain.TaskStatusFailed,
			LastError: "boom", CreatedAt: base.Add(3 * time.Minute),
		},
		"done-task-dddddddddddd": {
			ID: "done-task-dddddddddddd", Status: domain.TaskStatusCompleted,
			ProgressPercent: 100, CreatedAt: base,
		},
		"gone-task-eeeeeeeeeeee": {
			ID: "gone-task-eeeeeeeeeeee", Status: domain.TaskStatusCancelled,
			CreatedAt: base,
		},
	}
	require.NoError(t, store.Save(context.Background(), seed))

	r := New(store, testLogger(), time.Second)
	ids, err := r.Recover(context.Background())
	require.NoError(t, err)

	// creation order: running, pending, failed; completed retained but not
	// enqueued; cancelled dropped entirely
	assert.Equal(t, []string{
		"running-task-bbbbbbbbbbbb",
		"pending-task-aaaaaaaaaaaa",
		"failed-task-cccccccccccc",
	}, ids)

	running, ok := r.Get("running-task-bbbbbbbbbbbb")
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, running.Status)
	assert.Equal(t, 60, running.ProgressPercent, "progress survives recovery for file-level resume")
	assert.Equal(t, "c.bin", running.CurrentItem)

	failed, ok := r.Get("failed-task-cccccccccccc")
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, failed.Status)
	assert.Empty(t, failed.LastError)

	_, ok = r.Get("done-task-dddddddddddd")
	assert.True(t, ok, "completed tasks are reloaded for idempotent resubmission")

	_, ok = r.Get("gone-task-eeeeeeeeeeee")
	assert.False(t, ok)
}

func TestDeleteWritesThrough(t *testing.T) {
	r, store := newFSRegistry(t)
	task, _, _ := r.Create(folderURL, "/dl")

	r.Delete(task.ID)

	_, ok := r.Get(task.ID)
	assert.False(t, ok)

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, persisted, task.ID)
}

func TestStoreFailureIsLoggedNotPropagated(t *testing.T) {
	store := &stmocks.MockStore{}
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	logger := &obmocks.MockLogger{}
	logger.On("Error", "failed to persist task collection", mock.Anything).Return()

	r := New(store, logger, time.Second)

	task, created, _ := r.Create(folderURL, "/dl")
	assert.True(t, created, "a failed durable write must not fail the caller")
	assert.NotNil(t, task)

	logger.AssertCalled(t, "Error", "failed to persist task collection", mock.Anything)
}
