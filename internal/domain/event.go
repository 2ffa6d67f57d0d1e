package domain

import "time"

// EventType identifies a lifecycle or progress broadcast.
type EventType string

const (
	EventTaskStart    EventType = "task_start"
	EventProgress     EventType = "progress"
	EventWarning      EventType = "warning"
	EventTaskComplete EventType = "task_complete"
	EventTaskError    EventType = "task_error"
	EventCancelled    EventType = "cancelled"
)

// WarningKind categorizes the recoverable diagnostic conditions surfaced to
// listeners without changing task status.
type WarningKind string

const (
	// WarningQuota means the remote side reported the access volume for an
	// item was exceeded (rate/quota limiting)
	WarningQuota WarningKind = "access_volume_exceeded"

	// WarningPermission means the tool could not resolve the sharing link or
	// was denied access to an item
	WarningPermission WarningKind = "permission_denied"
)

// Warning is a recoverable condition reported by the parser. The job keeps
// running; if the process later exits without full completion the warning is
// promoted to the task's fatal error.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// Event is an immutable, self-contained message broadcast to every live
// subscriber. Exactly one of Snapshot, Warning or Error is populated
// depending on Type; Task carries the record for terminal transitions.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Warning   *Warning  `json:"warning,omitempty"`
	Error     string    `json:"error,omitempty"`
	Task      *Task     `json:"task,omitempty"`
}
