package models

import (
	"strings"
	"time"
)

// Task is a unit of work, optionally attached to a module.
type Task struct {
	ID        string       `json:"id"`
	ModuleID  string       `json:"module_id,omitempty"` // empty = unassigned
	Title     string       `json:"title"`
	Status    TaskStatus   `json:"status"`
	Priority  TaskPriority `json:"priority"`
	Assignee  string       `json:"assignee,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Validate checks the task at the boundary, applying status and priority defaults.
func (t *Task) Validate() error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Status == "" {
		t.Status = TaskStatusTodo
	}
	if t.Priority == "" {
		t.Priority = TaskPriorityMedium
	}

	if err := checkLength("title", t.Title, 1, 200); err != nil {
		return err
	}
	if !t.Status.Valid() {
		return invalidf("unknown task status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return invalidf("unknown task priority %q", t.Priority)
	}
	return nil
}
