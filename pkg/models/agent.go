package models

import "time"

// AgentState represents the lifecycle state of an agent instance.
type AgentState string

const (
	// AgentStateSpawned indicates the agent exists but has not started its loop.
	AgentStateSpawned AgentState = "spawned"
	// AgentStateActive indicates the agent is executing a task or conversation.
	AgentStateActive AgentState = "active"
	// AgentStateIdle indicates the agent is waiting for work or messages.
	AgentStateIdle AgentState = "idle"
	// AgentStateTerminated indicates the agent has stopped for good.
	AgentStateTerminated AgentState = "terminated"
)

// Valid returns true if the state is a known value.
func (s AgentState) Valid() bool {
	switch s {
	case AgentStateSpawned, AgentStateActive, AgentStateIdle, AgentStateTerminated:
		return true
	default:
		return false
	}
}

// AgentRole distinguishes the supervising agent from worker teammates.
type AgentRole string

const (
	// RoleSupervisor is the single agent that owns run lifecycle decisions.
	RoleSupervisor AgentRole = "supervisor"
	// RoleTeammate is a worker agent that claims tasks and exchanges messages.
	RoleTeammate AgentRole = "teammate"
)

// AgentInstance represents one autonomous agent: an independent reasoning
// loop with its own context and a single inbox. Only the supervisor loop may
// spawn or terminate an instance.
type AgentInstance struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Role is the agent's role within the team.
	Role AgentRole `json:"role"`
	// State is the current lifecycle state.
	State AgentState `json:"state"`
	// TaskID is the task this agent is currently working on, if any.
	TaskID string `json:"task_id,omitempty"`
	// SpawnedAt is when the supervisor created this agent.
	SpawnedAt time.Time `json:"spawned_at"`
}
