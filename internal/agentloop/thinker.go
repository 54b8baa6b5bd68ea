// Package agentloop runs one agent's reasoning loop for a single task:
// call the reasoning step, perform the actions it requests, feed the
// outcomes back, repeat until a final answer.
package agentloop

import "context"

// Action is one requested action from the reasoning step: a name and
// structured arguments. The loop does not interpret action semantics beyond
// dispatching to a registered handler and feeding the outcome back.
type Action struct {
	// ID identifies the action within its step so outcomes pair up.
	ID string
	// Name selects the handler.
	Name string
	// Args are the structured arguments.
	Args map[string]any
}

// Outcome is the result of executing one action.
type Outcome struct {
	// ActionID pairs the outcome with its action.
	ActionID string
	// Content is the handler's output, or the error text.
	Content string
	// IsError marks a failed action. Failed actions do not abort the loop;
	// the reasoning step decides what to do with the error.
	IsError bool
}

// Turn is one entry in the accumulated conversation context. Either Text is
// set (a user/assistant exchange) or Actions/Outcomes are (a tool round).
type Turn struct {
	// Role is "user" or "assistant".
	Role string
	// Text is the turn's content for plain exchanges.
	Text string
	// Actions are the actions the assistant requested, if any.
	Actions []Action
	// Outcomes are the executed results fed back, if any.
	Outcomes []Outcome
}

// StepResult is what one reasoning step produced: either a final answer
// (Done) or a set of requested actions.
type StepResult struct {
	// Done is true when Answer is the final answer for this unit of work.
	Done bool
	// Answer is the final answer text when Done.
	Answer string
	// Actions are the requested actions when not Done.
	Actions []Action
}

// Thinker is the external reasoning step. Given the accumulated context it
// returns either a final answer or requested actions. Implementations block
// on the underlying call; the loop bounds each step with a timeout.
type Thinker interface {
	Step(ctx context.Context, system string, turns []Turn) (*StepResult, error)
}

// Handler executes one action kind. Handlers return the content to feed back
// to the reasoning step; an error becomes an error outcome, not a loop
// failure.
type Handler func(ctx context.Context, action Action) (string, error)
