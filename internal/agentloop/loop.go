package agentloop

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/hive/internal/mailbox"
	"github.com/ShayCichocki/hive/internal/protocol"
	"github.com/ShayCichocki/hive/internal/trace"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Config contains the collaborators and bounds for a Runner.
type Config struct {
	// Thinker is the reasoning step. Required.
	Thinker Thinker
	// Handlers maps action names to their executors.
	Handlers map[string]Handler
	// Router delivers teammate messages; nil disables mailbox checks.
	Router *mailbox.Router
	// Engine enforces conversation rules; nil disables protocol handling.
	Engine *protocol.Engine
	// Trace receives the human-readable run trace; nil is silent.
	Trace *trace.RunTrace
	// MaxSteps bounds reasoning iterations per task (0 = default 20).
	MaxSteps int
	// StepTimeout bounds one reasoning step call (0 = default 2m). The wait
	// is explicit and bounded, never indefinite.
	StepTimeout time.Duration
	// MailWait is how long the loop waits for inbound messages at each step
	// boundary (0 = default 50ms). A worker idles here between steps so
	// teammate messages are observed promptly.
	MailWait time.Duration
}

// Runner drives one agent's loop for one task at a time.
type Runner struct {
	cfg Config
}

// NewRunner creates a runner from the given config.
func NewRunner(cfg Config) *Runner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 20
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 2 * time.Minute
	}
	if cfg.MailWait <= 0 {
		cfg.MailWait = 50 * time.Millisecond
	}
	return &Runner{cfg: cfg}
}

// RunTask executes the loop for a task on behalf of the given agent and
// returns the final answer. Inbound mail is drained at each step boundary;
// a terminate message is recorded with the protocol engine but the current
// unit of work still runs to completion, per the termination rules.
func (r *Runner) RunTask(ctx context.Context, agentID string, task *models.Task) (string, error) {
	system := fmt.Sprintf("You are agent %s on a hive team. Complete the task you are given, using the available actions. Answer with the final result when done.", agentID)
	turns := []Turn{{Role: "user", Text: task.Description}}

	for step := 1; step <= r.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		turns = r.drainMail(ctx, agentID, turns)
		r.cfg.Trace.LoopIteration(agentID, step)

		stepCtx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
		result, err := r.cfg.Thinker.Step(stepCtx, system, turns)
		cancel()
		if err != nil {
			r.cfg.Trace.LoopEnd(agentID, "step error")
			return "", fmt.Errorf("reasoning step: %w", err)
		}

		if result.Done {
			r.cfg.Trace.StepSummary(agentID, "final", 0)
			r.cfg.Trace.LoopEnd(agentID, "final answer")
			return result.Answer, nil
		}
		r.cfg.Trace.StepSummary(agentID, "actions", len(result.Actions))

		assistant := Turn{Role: "assistant", Actions: result.Actions}
		feedback := Turn{Role: "user"}
		for _, action := range result.Actions {
			r.cfg.Trace.ActionCall(agentID, action.Name, action.Args)
			outcome := r.execute(ctx, action)
			r.cfg.Trace.ActionResult(agentID, action.Name, outcome.Content, outcome.IsError)
			feedback.Outcomes = append(feedback.Outcomes, outcome)
		}
		turns = append(turns, assistant, feedback)
	}

	r.cfg.Trace.LoopEnd(agentID, "max steps")
	return "", fmt.Errorf("agent %s: no final answer after %d steps", agentID, r.cfg.MaxSteps)
}

// execute runs one action through its handler. Unknown actions and handler
// errors become error outcomes fed back to the reasoning step.
func (r *Runner) execute(ctx context.Context, action Action) Outcome {
	handler, ok := r.cfg.Handlers[action.Name]
	if !ok {
		return Outcome{ActionID: action.ID, Content: fmt.Sprintf("unknown action %q", action.Name), IsError: true}
	}
	content, err := handler(ctx, action)
	if err != nil {
		return Outcome{ActionID: action.ID, Content: err.Error(), IsError: true}
	}
	return Outcome{ActionID: action.ID, Content: content}
}

// drainMail consumes every message currently queued for the agent and folds
// it into the conversation context.
func (r *Runner) drainMail(ctx context.Context, agentID string, turns []Turn) []Turn {
	if r.cfg.Router == nil {
		return turns
	}
	wait := r.cfg.MailWait
	for {
		msg, err := r.cfg.Router.Receive(ctx, agentID, wait)
		if err != nil || msg == nil {
			return turns
		}
		// Only the first receive waits; the rest of the backlog drains
		// without blocking.
		wait = 0
		r.cfg.Trace.Mail(agentID, msg.From, string(msg.Kind))
		turns = append(turns, r.foldMessage(agentID, msg))
	}
}

// foldMessage converts an inbound message into a context turn, dispatching
// on kind.
func (r *Runner) foldMessage(agentID string, msg *models.Message) Turn {
	switch msg.Kind {
	case models.KindTerminate:
		if r.cfg.Engine != nil {
			r.cfg.Engine.MarkTerminated(agentID)
		}
		return Turn{Role: "user", Text: fmt.Sprintf("[terminate from %s] finish your current task and stop: %s", msg.From, msg.Payload.Reason)}
	case models.KindRequest:
		req := msg.Payload.Request
		return Turn{Role: "user", Text: fmt.Sprintf("[request %s from %s] %s: %s (use the reply action with this correlation id)", msg.CorrelationID, msg.From, req.Subject, req.Body)}
	case models.KindResponse:
		resp := msg.Payload.Response
		return Turn{Role: "user", Text: fmt.Sprintf("[response %s from %s] ok=%v: %s", msg.CorrelationID, msg.From, resp.OK, resp.Body)}
	default:
		return Turn{Role: "user", Text: fmt.Sprintf("[note from %s] %s", msg.From, msg.Payload.Note)}
	}
}

// MailboxHandlers returns the standard teammate-communication actions for an
// agent: ask_teammate opens a request conversation, reply answers one, and
// notify sends one-way information. Protocol errors (unknown recipient, too
// many outstanding, unmatched reply) flow back to the reasoning step as
// error outcomes for it to handle; nothing retries automatically.
func MailboxHandlers(agentID string, engine *protocol.Engine, router *mailbox.Router) map[string]Handler {
	return map[string]Handler{
		"ask_teammate": func(ctx context.Context, action Action) (string, error) {
			to := stringArg(action.Args, "to")
			corrID, err := engine.SendRequest(agentID, to, &models.RequestPayload{
				Subject: stringArg(action.Args, "subject"),
				Body:    stringArg(action.Args, "body"),
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("request %s sent to %s; the response will arrive as a message", corrID, to), nil
		},
		"reply": func(ctx context.Context, action Action) (string, error) {
			err := engine.SendResponse(agentID, stringArg(action.Args, "correlation_id"), &models.ResponsePayload{
				OK:   boolArg(action.Args, "ok"),
				Body: stringArg(action.Args, "body"),
			})
			if err != nil {
				return "", err
			}
			return "reply sent", nil
		},
		"notify": func(ctx context.Context, action Action) (string, error) {
			to := stringArg(action.Args, "to")
			_, err := router.Send(&models.Message{
				From:    agentID,
				To:      to,
				Kind:    models.KindNotification,
				Payload: models.Payload{Note: stringArg(action.Args, "note")},
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("notified %s", to), nil
		},
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}
