// Package supervisor owns one external-process lifecycle per running job.
// It wires the progress parser to the process's two output streams,
// re-emits parsed snapshots and warnings upward, and reports exactly one
// terminal outcome per job, except for cancelled jobs which terminate
// silently.
package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/config"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/progress"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/taskid"
)

// Event is one observation forwarded to the scheduler. Exactly one field is
// populated.
type Event struct {
	TaskID   string
	Snapshot *domain.Snapshot
	Warning  *domain.Warning
	Outcome  *Outcome
}

// Outcome is the single terminal report for a job. Err nil means completed.
type Outcome struct {
	Err error
}

// Supervisor starts and tracks external download processes.
type Supervisor struct {
	binary    string
	extraArgs []string
	logger    observability.Logger
}

// New creates a supervisor invoking the configured tool binary.
func New(cfg config.ToolConfig, logger observability.Logger) *Supervisor {
	return &Supervisor{
		binary:    cfg.Binary,
		extraArgs: cfg.ExtraArgs,
		logger:    logger,
	}
}

// Handle tracks one running external process.
type Handle struct {
	taskID    string
	cmd       *exec.Cmd
	parser    *progress.Parser
	cancelled atomic.Bool
	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
}

// Start launches the external tool for the task and begins forwarding
// events. The destination directory is created if absent. The fixed
// argument contract: folder resource id, destination path, skip-existing
// and resume flags.
func (s *Supervisor) Start(task *domain.Task, events chan<- Event) (*Handle, error) {
	if err := os.MkdirAll(task.Destination, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	resource := task.SourceLocator
	if id, ok := taskid.ResourceID(task.SourceLocator); ok {
		resource = id
	}

	args := []string{"--folder", resource, "-O", task.Destination, "--continue", "--remaining-ok"}
	args = append(args, s.extraArgs...)
	cmd := exec.Command(s.binary, args...)
	configureProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", s.binary, err)
	}

	h := &Handle{
		taskID: task.ID,
		cmd:    cmd,
		parser: progress.NewParser(),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	s.logger.Info("download process started",
		"task_id", task.ID, "pid", cmd.Process.Pid, "destination", task.Destination)

	var pumps sync.WaitGroup
	pumps.Add(2)
	go h.pump(progress.StreamPrimary, stdout, events, &pumps)
	go h.pump(progress.StreamDiagnostic, stderr, events, &pumps)

	go h.wait(s.logger, events, &pumps)

	return h, nil
}

// Cancel kills the process group immediately, taking down any helper
// processes the tool forked. Idempotent; a cancelled job emits no terminal
// outcome at all, which is how callers distinguish cancellation from both
// success and failure.
func (h *Handle) Cancel() {
	if !h.cancelled.CompareAndSwap(false, true) {
		return
	}
	h.quitOnce.Do(func() { close(h.quit) })
	killProcessTree(h.cmd)
}

// CurrentProgress returns the last known snapshot, or nil before the first
// observation and after cancellation.
func (h *Handle) CurrentProgress() *domain.Snapshot {
	if h.cancelled.Load() {
		return nil
	}
	return h.parser.Current()
}

// Done is closed once the process has exited and its terminal outcome, if
// any, has been emitted.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// pump reads raw chunks from one stream into the parser and forwards
// whatever it produces.
func (h *Handle) pump(stream progress.Stream, r io.Reader, events chan<- Event, pumps *sync.WaitGroup) {
	defer pumps.Done()

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			snaps, warns := h.parser.Feed(stream, string(buf[:n]))
			for i := range snaps {
				h.send(events, Event{TaskID: h.taskID, Snapshot: &snaps[i]})
			}
			for i := range warns {
				h.send(events, Event{TaskID: h.taskID, Warning: &warns[i]})
			}
		}
		if err != nil {
			return
		}
	}
}

// wait collects the process exit after both streams are drained and emits
// the terminal outcome, unless the job was cancelled.
func (h *Handle) wait(logger observability.Logger, events chan<- Event, pumps *sync.WaitGroup) {
	defer close(h.done)

	pumps.Wait()
	err := h.cmd.Wait()

	if h.cancelled.Load() {
		// silent, expected termination
		logger.Info("download process cancelled", "task_id", h.taskID)
		return
	}

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		h.send(events, Event{TaskID: h.taskID, Outcome: &Outcome{Err: err}})
		return
	}

	h.send(events, Event{TaskID: h.taskID, Outcome: &Outcome{Err: h.parser.Classify(exitCode)}})
}

func (h *Handle) send(events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-h.quit:
	}
}
