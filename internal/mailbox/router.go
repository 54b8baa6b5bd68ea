// Package mailbox provides per-agent inbox queues and point-to-point or
// broadcast delivery between teammate agents.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrUnknownRecipient indicates the destination names no live agent.
var ErrUnknownRecipient = errors.New("unknown recipient")

// inbox is the ordered queue of inbound messages for one agent.
type inbox struct {
	queue   []*models.Message
	nextSeq int64
	// consumed retains delivered messages for audit only; they are never
	// redelivered.
	consumed []*models.Message
	// arrived carries at most one wake-up token for the blocked receiver.
	arrived chan struct{}
}

// Router owns one inbox per known agent. All enqueues and pops go through
// the router's lock, so messages from one sender to one recipient are
// observed in send order; interleaving across senders is unspecified.
type Router struct {
	mu      sync.Mutex
	inboxes map[string]*inbox
	logf    func(format string, args ...any)
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		inboxes: make(map[string]*inbox),
		logf:    func(string, ...any) {},
	}
}

// SetDebugLog sets the debug logging function.
func (r *Router) SetDebugLog(fn func(format string, args ...any)) {
	if fn != nil {
		r.logf = fn
	}
}

// Register creates an inbox for the agent. Registering an existing agent is
// a no-op; its queued messages are kept.
func (r *Router) Register(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inboxes[agentID]; ok {
		return
	}
	r.inboxes[agentID] = &inbox{arrived: make(chan struct{}, 1)}
	r.logf("[mailbox] registered %s", agentID)
}

// Unregister removes the agent's inbox. Undelivered messages are dropped;
// anything of consequence lives in the task store, which messages only
// notify about.
func (r *Router) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inboxes, agentID)
	r.logf("[mailbox] unregistered %s", agentID)
}

// Known reports whether the agent has a live inbox.
func (r *Router) Known(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inboxes[agentID]
	return ok
}

// Send enqueues the message onto the recipient's inbox and returns the
// sequence number it was assigned there. A recipient of models.Broadcast
// fans out to every registered agent except the sender. Fails with
// ErrUnknownRecipient if the destination names no live agent.
func (r *Router) Send(msg *models.Message) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.To == models.Broadcast {
		var last int64
		for id, ib := range r.inboxes {
			if id == msg.From {
				continue
			}
			cp := *msg
			cp.To = id
			last = r.enqueueLocked(ib, &cp)
		}
		return last, nil
	}

	ib, ok := r.inboxes[msg.To]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRecipient, msg.To)
	}
	return r.enqueueLocked(ib, msg), nil
}

// enqueueLocked assigns the inbox sequence number, stamps the send time and
// wakes the receiver. Caller holds r.mu.
func (r *Router) enqueueLocked(ib *inbox, msg *models.Message) int64 {
	ib.nextSeq++
	msg.Seq = ib.nextSeq
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	ib.queue = append(ib.queue, msg)
	select {
	case ib.arrived <- struct{}{}:
	default:
	}
	r.logf("[mailbox] %s -> %s kind=%s seq=%d", msg.From, msg.To, msg.Kind, msg.Seq)
	return msg.Seq
}

// Receive pops the oldest unconsumed message for the agent, blocking up to
// the timeout. A timeout returns (nil, nil): it is an expected outcome, not
// a fault. Context cancellation returns the context error so agents observe
// run-wide shutdown at their receive boundary. Delivery is at-most-once.
func (r *Router) Receive(ctx context.Context, agentID string, timeout time.Duration) (*models.Message, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		r.mu.Lock()
		ib, ok := r.inboxes[agentID]
		if !ok {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, agentID)
		}
		if len(ib.queue) > 0 {
			msg := ib.queue[0]
			ib.queue = ib.queue[1:]
			ib.consumed = append(ib.consumed, msg)
			r.mu.Unlock()
			return msg, nil
		}
		arrived := ib.arrived
		r.mu.Unlock()

		select {
		case <-arrived:
			// Re-check; the token may be stale.
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pending returns copies of the agent's undelivered messages, oldest first.
// Used to persist inbox contents across restarts.
func (r *Router) Pending(agentID string) []*models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	ib, ok := r.inboxes[agentID]
	if !ok {
		return nil
	}
	out := make([]*models.Message, 0, len(ib.queue))
	for _, msg := range ib.queue {
		cp := *msg
		out = append(out, &cp)
	}
	return out
}

// Audit returns the messages the agent has already consumed, oldest first.
// Retained for inspection only; consumed messages are never redelivered.
func (r *Router) Audit(agentID string) []*models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	ib, ok := r.inboxes[agentID]
	if !ok {
		return nil
	}
	out := make([]*models.Message, 0, len(ib.consumed))
	for _, msg := range ib.consumed {
		cp := *msg
		out = append(out, &cp)
	}
	return out
}

// Agents returns the IDs of all registered agents.
func (r *Router) Agents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.inboxes))
	for id := range r.inboxes {
		ids = append(ids, id)
	}
	return ids
}
