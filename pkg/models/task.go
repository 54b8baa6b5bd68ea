package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on unmet dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates every dependency has succeeded and the task may be claimed.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates exactly one worker has claimed the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSucceeded indicates the task completed with a result.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task's work failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled, usually because an
	// ancestor failed or the run was shut down.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning,
		TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition is possible from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the status machine allows moving from s to next.
// The machine is pending -> ready -> running -> {succeeded|failed|cancelled};
// pending and ready may additionally move straight to cancelled when a
// dependency fails or the run is shut down. No transition skips forward or
// reverses.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusReady || next == TaskStatusCancelled
	case TaskStatusReady:
		return next == TaskStatusRunning || next == TaskStatusCancelled
	case TaskStatusRunning:
		return next == TaskStatusSucceeded || next == TaskStatusFailed || next == TaskStatusCancelled
	default:
		return false
	}
}

// Task represents a dependency-gated unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Description is what the task asks an agent to do.
	Description string `json:"description"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// DependsOn lists task IDs that must succeed before this task is ready.
	DependsOn []string `json:"depends_on,omitempty"`
	// Result holds the final answer produced by the agent loop, if any.
	Result string `json:"result,omitempty"`
	// ErrorDetail records why the task failed or which ancestor cancelled it.
	ErrorDetail string `json:"error_detail,omitempty"`
	// OwnerAgent is the ID of the agent that claimed this task, empty until claimed.
	OwnerAgent string `json:"owner_agent,omitempty"`
	// Seq is the insertion sequence assigned by the store; scheduling ties
	// among ready tasks break by creation order.
	Seq int64 `json:"seq"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task so callers cannot mutate store state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
