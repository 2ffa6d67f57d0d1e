// Package domain defines the entities shared across the orchestrator: the
// download task and its status enum, the progress snapshot produced by the
// output parser, warnings, and the event messages broadcast to subscribers.
package domain

import "time"

// Task is the unit of work: one requested folder download and its tracked
// lifecycle. Tasks are persisted by the registry; everything else about a
// running job (process handle, parser state) is ephemeral.
type Task struct {
	ID              string     `json:"id"`
	SourceLocator   string     `json:"source_locator"`
	Destination     string     `json:"destination"`
	Status          TaskStatus `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	CurrentItem     string     `json:"current_item,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// Clone returns a copy of the task, safe to hand to callers outside the
// registry's lock.
func (t *Task) Clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}
