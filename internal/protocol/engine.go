// Package protocol enforces the message-exchange rules that let autonomous
// agents coordinate without deadlock or unbounded chatter: request/response
// pairing by correlation ID, response deadlines, an outstanding-conversation
// cap, and terminate semantics.
package protocol

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/mailbox"
	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrUnmatchedResponse indicates a response whose correlation ID matches no
// outstanding request held by the responder.
var ErrUnmatchedResponse = errors.New("response matches no outstanding request")

// ErrTooManyOutstanding indicates the requester already has the maximum
// number of conversations awaiting a response.
var ErrTooManyOutstanding = errors.New("too many outstanding requests")

// ErrTerminated indicates the agent has received terminate and may no longer
// open conversations.
var ErrTerminated = errors.New("agent is terminated")

// ConversationState is the per-conversation state machine, keyed by
// correlation ID.
type ConversationState string

const (
	// StateAwaitingResponse means the request was sent and no response has
	// arrived.
	StateAwaitingResponse ConversationState = "awaiting_response"
	// StateResolved means a correlated response or an explicit terminate
	// arrived.
	StateResolved ConversationState = "resolved"
	// StateExpired means the response deadline elapsed with no response.
	StateExpired ConversationState = "expired"
)

// Conversation tracks one request/response pair.
type Conversation struct {
	// CorrelationID links the request to its response.
	CorrelationID string
	// Requester is the agent that sent the request.
	Requester string
	// Responder is the agent the request was sent to.
	Responder string
	// State is the current conversation state.
	State ConversationState
	// Deadline is when an unanswered request expires.
	Deadline time.Time
}

// Options configures the engine.
type Options struct {
	// ResponseDeadline is how long a request may await a response before it
	// expires. Zero means DefaultResponseDeadline.
	ResponseDeadline time.Duration
	// MaxOutstanding caps simultaneous awaiting_response conversations per
	// agent. Zero means DefaultMaxOutstanding. This bound is what keeps two
	// autonomous peers from looping indefinitely at each other.
	MaxOutstanding int
}

// DefaultResponseDeadline is the response deadline when none is configured.
const DefaultResponseDeadline = 30 * time.Second

// DefaultMaxOutstanding is the per-agent outstanding-conversation cap when
// none is configured.
const DefaultMaxOutstanding = 1

// Engine layers the conversation state machine over the mailbox router. It
// never retries and never drops a condition silently: expiry is surfaced to
// the requester, who decides to retry, escalate or abandon.
type Engine struct {
	mu            sync.Mutex
	router        *mailbox.Router
	deadline      time.Duration
	maxOut        int
	conversations map[string]*Conversation
	outstanding   map[string]int
	terminated    map[string]bool
	now           func() time.Time
	logf          func(format string, args ...any)
}

// NewEngine creates an engine over the given router.
func NewEngine(router *mailbox.Router, opts Options) *Engine {
	deadline := opts.ResponseDeadline
	if deadline <= 0 {
		deadline = DefaultResponseDeadline
	}
	maxOut := opts.MaxOutstanding
	if maxOut <= 0 {
		maxOut = DefaultMaxOutstanding
	}
	return &Engine{
		router:        router,
		deadline:      deadline,
		maxOut:        maxOut,
		conversations: make(map[string]*Conversation),
		outstanding:   make(map[string]int),
		terminated:    make(map[string]bool),
		now:           time.Now,
		logf:          func(string, ...any) {},
	}
}

// SetDebugLog sets the debug logging function.
func (e *Engine) SetDebugLog(fn func(format string, args ...any)) {
	if fn != nil {
		e.logf = fn
	}
}

// SendRequest opens a conversation and delivers a request message. Fails
// with ErrTooManyOutstanding when the requester is at its cap, ErrTerminated
// when the requester has been told to stop, and the router's error when the
// recipient is unknown. On failure no conversation is recorded.
func (e *Engine) SendRequest(from, to string, payload *models.RequestPayload) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminated[from] {
		return "", fmt.Errorf("%w: %s", ErrTerminated, from)
	}
	if e.outstanding[from] >= e.maxOut {
		return "", fmt.Errorf("%w: %s has %d awaiting", ErrTooManyOutstanding, from, e.outstanding[from])
	}

	corrID := uuid.New().String()
	msg := &models.Message{
		From:          from,
		To:            to,
		Kind:          models.KindRequest,
		CorrelationID: corrID,
		Payload:       models.Payload{Request: payload},
	}
	if _, err := e.router.Send(msg); err != nil {
		return "", err
	}

	e.conversations[corrID] = &Conversation{
		CorrelationID: corrID,
		Requester:     from,
		Responder:     to,
		State:         StateAwaitingResponse,
		Deadline:      e.now().Add(e.deadline),
	}
	e.outstanding[from]++
	e.logf("[protocol] %s -> %s request %s (outstanding=%d)", from, to, corrID, e.outstanding[from])
	return corrID, nil
}

// SendResponse answers an outstanding request. The correlation ID must name
// a conversation in awaiting_response whose responder is the sender;
// anything else, including a conversation that has already expired, fails
// with ErrUnmatchedResponse and changes nothing.
func (e *Engine) SendResponse(from, corrID string, payload *models.ResponsePayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	conv, ok := e.conversations[corrID]
	if ok && conv.State == StateAwaitingResponse && !e.now().Before(conv.Deadline) {
		e.expireLocked(conv)
	}
	if !ok || conv.State != StateAwaitingResponse || conv.Responder != from {
		return fmt.Errorf("%w: %s from %s", ErrUnmatchedResponse, corrID, from)
	}

	msg := &models.Message{
		From:          from,
		To:            conv.Requester,
		Kind:          models.KindResponse,
		CorrelationID: corrID,
		Payload:       models.Payload{Response: payload},
	}
	if _, err := e.router.Send(msg); err != nil {
		return err
	}

	conv.State = StateResolved
	e.outstanding[conv.Requester]--
	e.logf("[protocol] %s resolved %s", from, corrID)
	return nil
}

// Sweep expires every conversation whose deadline has passed, exactly once
// each, and returns them. Each expiry is surfaced to the requester as a
// notification message so it is observed at the next receive boundary. The
// engine itself never retries.
func (e *Engine) Sweep() []*Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var expired []*Conversation
	for _, conv := range e.conversations {
		if conv.State != StateAwaitingResponse || now.Before(conv.Deadline) {
			continue
		}
		e.expireLocked(conv)
		expired = append(expired, conv)
	}
	return expired
}

// expireLocked moves a conversation to expired and notifies the requester.
// Caller holds e.mu and has verified the conversation is awaiting.
func (e *Engine) expireLocked(conv *Conversation) {
	conv.State = StateExpired
	e.outstanding[conv.Requester]--
	e.logf("[protocol] conversation %s expired (%s -> %s)", conv.CorrelationID, conv.Requester, conv.Responder)

	// Best effort; the requester may already be gone.
	_, _ = e.router.Send(&models.Message{
		From:          conv.Responder,
		To:            conv.Requester,
		Kind:          models.KindNotification,
		CorrelationID: conv.CorrelationID,
		Payload: models.Payload{
			Note: fmt.Sprintf("no response from %s within deadline", conv.Responder),
		},
	})
}

// MarkTerminated records that the agent received terminate. Its outstanding
// conversations resolve (explicit terminate is terminal) and it may not open
// new ones. The agent finishes its current unit of work on its own.
func (e *Engine) MarkTerminated(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminated[agentID] {
		return
	}
	e.terminated[agentID] = true
	for _, conv := range e.conversations {
		if conv.State != StateAwaitingResponse {
			continue
		}
		if conv.Requester == agentID || conv.Responder == agentID {
			conv.State = StateResolved
			e.outstanding[conv.Requester]--
		}
	}
	e.logf("[protocol] %s terminated", agentID)
}

// Terminated reports whether the agent has received terminate.
func (e *Engine) Terminated(agentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated[agentID]
}

// State returns the conversation state for a correlation ID, or "" if the
// conversation is unknown.
func (e *Engine) State(corrID string) ConversationState {
	e.mu.Lock()
	defer e.mu.Unlock()

	conv, ok := e.conversations[corrID]
	if !ok {
		return ""
	}
	return conv.State
}

// Outstanding returns how many conversations the agent is awaiting.
func (e *Engine) Outstanding(agentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outstanding[agentID]
}
