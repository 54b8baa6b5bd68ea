// Package supervisor runs a hive session end to end: it spawns the teammate
// agents, drives the claim loop over the task store, enforces the failure
// threshold, and winds the team down when the run is over.
package supervisor

import (
	"time"
)

// EventType represents the type of supervisor event.
type EventType string

const (
	// EventAgentSpawned indicates a teammate agent has been spawned.
	EventAgentSpawned EventType = "agent_spawned"
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventConversationExpired indicates a request went unanswered past its
	// deadline.
	EventConversationExpired EventType = "conversation_expired"
	// EventThresholdTripped indicates the failure threshold was crossed and
	// the run is shutting down.
	EventThresholdTripped EventType = "threshold_tripped"
	// EventSessionDone indicates the entire session is complete.
	EventSessionDone EventType = "session_done"
)

// Event represents an event emitted by the supervisor. Subscribers use these
// to observe run progress.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
