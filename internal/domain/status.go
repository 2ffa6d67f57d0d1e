package domain

// TaskStatus represents the lifecycle state of a download task
type TaskStatus string

const (
	// TaskStatusPending means the task is queued but not started
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning means the external tool is working on the task
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusCompleted means every item of the folder was downloaded
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed means the external tool exited without full completion
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusCancelled means the task was stopped by the user
	TaskStatusCancelled TaskStatus = "cancelled"
)

// String returns the string representation of TaskStatus
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the task reached a final state
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// IsRecoverable returns true if the task should be reloaded and re-queued
// after a process restart. Completed tasks are kept only for idempotent
// resubmission; cancelled tasks represent abandoned work.
func (s TaskStatus) IsRecoverable() bool {
	return s == TaskStatusPending || s == TaskStatusRunning || s == TaskStatusFailed
}
