package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/mailbox"
	"github.com/ShayCichocki/hive/internal/protocol"
	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/pkg/models"
)

// SupervisorID is the fixed agent ID of the supervisor itself. Teammates
// address escalations to it.
const SupervisorID = "supervisor"

// TaskRunner executes one task on behalf of an agent.
type TaskRunner interface {
	RunTask(ctx context.Context, agentID string, task *models.Task) (string, error)
}

// RunnerFactory creates the task runner for a spawned agent.
type RunnerFactory func(agentID string) TaskRunner

// AgentPersister mirrors agent roster changes to durable storage.
type AgentPersister interface {
	SaveAgent(a *models.AgentInstance) error
}

// MailPersister checkpoints undelivered inbox contents to durable storage.
type MailPersister interface {
	ReplaceInbox(recipient string, msgs []*models.Message) error
}

// MailLoader reads back checkpointed inbox contents for a resumed run.
type MailLoader interface {
	LoadInbox(recipient string) ([]*models.Message, error)
}

// Options configures a Supervisor.
type Options struct {
	// Teammates is how many worker agents to spawn (0 = default 3).
	Teammates int
	// TeammateIDs fixes the teammate identities instead of minting fresh
	// ones. A resumed run passes its persisted roster here so checkpointed
	// inboxes find their owners again; when fewer IDs than Teammates are
	// given the rest are minted.
	TeammateIDs []string
	// FailureThreshold is the fraction of tasks that may end failed or
	// cancelled before the run aborts (0 = default 0.5). Cancellations from a
	// cascade count; work lost is work lost either way.
	FailureThreshold float64
	// SweepInterval is how often expired conversations and the failure
	// threshold are checked (0 = default 1s).
	SweepInterval time.Duration
	// PollInterval is passed through to the claim loop.
	PollInterval time.Duration
	// EventBuffer sizes the event channel (0 = default 100).
	EventBuffer int
}

// Summary is the outcome of a completed run.
type Summary struct {
	// Total is the number of tasks the run ended with.
	Total int
	// Succeeded, Failed and Cancelled count terminal tasks per status.
	Succeeded int
	Failed    int
	Cancelled int
	// ExpiredConversations counts requests that went unanswered.
	ExpiredConversations int
	// ThresholdTripped is true when the failure threshold aborted the run.
	ThresholdTripped bool
	// DroppedEvents counts events dropped on the full event channel.
	DroppedEvents uint64
	// Duration is the wall time of the run.
	Duration time.Duration
	// Tasks holds every task with its final status, result and error detail,
	// in creation order.
	Tasks []*models.Task
}

// Supervisor owns the agent team for one run.
type Supervisor struct {
	store   *store.Store
	router  *mailbox.Router
	engine  *protocol.Engine
	factory RunnerFactory
	opts    Options
	emitter *Emitter
	logf    func(format string, args ...any)

	mu       sync.Mutex
	agents   map[string]*models.AgentInstance
	roster   AgentPersister
	mail     MailPersister
	mailLoad MailLoader
	expired  int
	tripped  bool
}

// New creates a supervisor over the given components.
func New(st *store.Store, router *mailbox.Router, engine *protocol.Engine, factory RunnerFactory, opts Options) *Supervisor {
	if opts.Teammates <= 0 {
		opts.Teammates = 3
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 0.5
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 100
	}
	return &Supervisor{
		store:   st,
		router:  router,
		engine:  engine,
		factory: factory,
		opts:    opts,
		emitter: NewEmitter(opts.EventBuffer),
		agents:  make(map[string]*models.AgentInstance),
		logf:    func(string, ...any) {},
	}
}

// SetDebugLog sets the debug logging function.
func (s *Supervisor) SetDebugLog(fn func(format string, args ...any)) {
	if fn != nil {
		s.logf = fn
	}
}

// SetRosterPersister attaches durable storage for the agent roster.
func (s *Supervisor) SetRosterPersister(p AgentPersister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster = p
}

// SetMailPersister attaches durable storage for undelivered messages. Each
// inbox is checkpointed before its agent retires, so an interrupted run
// resumes with its unread mail but never redelivers consumed messages.
func (s *Supervisor) SetMailPersister(p MailPersister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mail = p
}

// SetMailLoader attaches the checkpoint source for a resumed run. Each
// agent's persisted messages are re-enqueued when its inbox is registered,
// before any task runs.
func (s *Supervisor) SetMailLoader(l MailLoader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mailLoad = l
}

// Events returns the channel for receiving run events. It is closed when the
// run finishes.
func (s *Supervisor) Events() <-chan Event {
	return s.emitter.Events()
}

// Agents returns copies of the current roster.
func (s *Supervisor) Agents() []*models.AgentInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.AgentInstance, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// Run executes the session: spawn the team, drive the claim loop until every
// task is terminal or the failure threshold trips, then wind the team down.
// It blocks until done and returns the run summary. The event channel is
// closed before Run returns.
func (s *Supervisor) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	s.router.Register(SupervisorID)
	s.recordAgent(&models.AgentInstance{
		ID:        SupervisorID,
		Role:      models.RoleSupervisor,
		State:     models.AgentStateActive,
		SpawnedAt: start,
	})
	s.restoreInbox(SupervisorID)

	agentIDs := append([]string(nil), s.opts.TeammateIDs...)
	for len(agentIDs) < s.opts.Teammates {
		agentIDs = append(agentIDs, "agent-"+uuid.New().String()[:8])
	}
	for _, id := range agentIDs {
		s.router.Register(id)
		s.restoreInbox(id)
		s.recordAgent(&models.AgentInstance{
			ID:        id,
			Role:      models.RoleTeammate,
			State:     models.AgentStateSpawned,
			SpawnedAt: time.Now(),
		})
		s.emitter.Emit(Event{
			Type:      EventAgentSpawned,
			AgentID:   id,
			Message:   fmt.Sprintf("Agent %s spawned", id),
			Timestamp: time.Now(),
		})
		s.logf("[supervisor] spawned %s", id)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	monitorDone := make(chan struct{})
	go s.monitor(runCtx, cancelRun, monitorDone)

	sched := scheduler.New(s.store, s.execute, scheduler.Options{
		AgentIDs:     agentIDs,
		PollInterval: s.opts.PollInterval,
		Stopped:      s.engine.Terminated,
		OnClaim: func(agentID string, task *models.Task) {
			s.setAgentTask(agentID, task.ID)
			s.emitter.Emit(Event{
				Type:      EventTaskStarted,
				TaskID:    task.ID,
				AgentID:   agentID,
				Message:   task.Description,
				Timestamp: time.Now(),
			})
		},
		OnDone: func(agentID string, task *models.Task, err error) {
			s.setAgentTask(agentID, "")
			evt := Event{
				Type:      EventTaskCompleted,
				TaskID:    task.ID,
				AgentID:   agentID,
				Timestamp: time.Now(),
			}
			if task.Status == models.TaskStatusFailed {
				evt.Type = EventTaskFailed
				evt.Error = err
				evt.Message = task.ErrorDetail
			}
			s.emitter.Emit(evt)
		},
	})
	sched.SetDebugLog(s.logf)

	runErr := sched.Run(runCtx)

	cancelRun()
	<-monitorDone

	// Sweep once more so conversations that expired during wind-down are
	// counted.
	s.noteExpired(s.engine.Sweep())
	s.broadcastTerminate("session complete")
	s.retireAgents()

	counts := s.store.Counts()
	s.mu.Lock()
	summary := &Summary{
		Succeeded:            counts[models.TaskStatusSucceeded],
		Failed:               counts[models.TaskStatusFailed],
		Cancelled:            counts[models.TaskStatusCancelled],
		ExpiredConversations: s.expired,
		ThresholdTripped:     s.tripped,
		DroppedEvents:        s.emitter.DroppedCount(),
		Duration:             time.Since(start),
		Tasks:                s.store.List(),
	}
	for _, n := range counts {
		summary.Total += n
	}
	s.mu.Unlock()

	s.emitter.Emit(Event{
		Type:      EventSessionDone,
		Message:   fmt.Sprintf("%d succeeded, %d failed, %d cancelled", summary.Succeeded, summary.Failed, summary.Cancelled),
		Timestamp: time.Now(),
	})
	s.emitter.Close()

	if runErr != nil && ctx.Err() != nil {
		return summary, runErr
	}
	return summary, nil
}

// execute runs one claimed task through the agent's runner.
func (s *Supervisor) execute(ctx context.Context, agentID string, task *models.Task) (string, error) {
	runner := s.factory(agentID)
	return runner.RunTask(ctx, agentID, task)
}

// monitor periodically sweeps expired conversations and checks the failure
// threshold. Crossing the threshold cancels all unstarted tasks, tells every
// agent to stop, and unwinds the claim loop.
func (s *Supervisor) monitor(ctx context.Context, cancelRun context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.noteExpired(s.engine.Sweep())

		counts := s.store.Counts()
		total := 0
		for _, n := range counts {
			total += n
		}
		if total == 0 {
			continue
		}
		// Cascaded cancellations count against the threshold: one root
		// failure that takes out half the graph aborts the run.
		lost := counts[models.TaskStatusFailed] + counts[models.TaskStatusCancelled]
		frac := float64(lost) / float64(total)
		if frac < s.opts.FailureThreshold {
			continue
		}

		s.mu.Lock()
		already := s.tripped
		s.tripped = true
		s.mu.Unlock()
		if already {
			continue
		}

		s.logf("[supervisor] failure threshold tripped: %d/%d failed or cancelled", lost, total)
		s.emitter.Emit(Event{
			Type:      EventThresholdTripped,
			Message:   fmt.Sprintf("%d of %d tasks failed or cancelled, aborting run", lost, total),
			Timestamp: time.Now(),
		})
		if err := s.store.CancelRemaining("failure threshold exceeded"); err != nil {
			s.logf("[supervisor] cancel remaining: %v", err)
		}
		s.broadcastTerminate("failure threshold exceeded")
		cancelRun()
		return
	}
}

// noteExpired records swept conversations and surfaces them as events.
func (s *Supervisor) noteExpired(expired []*protocol.Conversation) {
	for _, conv := range expired {
		s.mu.Lock()
		s.expired++
		s.mu.Unlock()
		s.emitter.Emit(Event{
			Type:      EventConversationExpired,
			AgentID:   conv.Requester,
			Message:   fmt.Sprintf("no response from %s for %s", conv.Responder, conv.CorrelationID),
			Timestamp: time.Now(),
		})
	}
}

// broadcastTerminate tells every teammate to finish its current work and
// stop. Safe to call more than once.
func (s *Supervisor) broadcastTerminate(reason string) {
	_, err := s.router.Send(&models.Message{
		From:    SupervisorID,
		To:      models.Broadcast,
		Kind:    models.KindTerminate,
		Payload: models.Payload{Reason: reason},
	})
	if err != nil {
		s.logf("[supervisor] broadcast terminate: %v", err)
	}
}

// retireAgents marks every teammate terminated and removes its inbox.
func (s *Supervisor) retireAgents() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.agents {
		if a.State == models.AgentStateTerminated {
			continue
		}
		a.State = models.AgentStateTerminated
		a.TaskID = ""
		s.persistAgentLocked(a)
		if id != SupervisorID {
			s.engine.MarkTerminated(id)
		}
		if s.mail != nil {
			if err := s.mail.ReplaceInbox(id, s.router.Pending(id)); err != nil {
				s.logf("[supervisor] checkpoint inbox %s: %v", id, err)
			}
		}
		s.router.Unregister(id)
		s.logf("[supervisor] retired %s", id)
	}
}

// restoreInbox re-enqueues an agent's checkpointed messages. Only messages
// that were never delivered are ever checkpointed, so this cannot redeliver
// anything the agent already consumed.
func (s *Supervisor) restoreInbox(agentID string) {
	s.mu.Lock()
	loader := s.mailLoad
	s.mu.Unlock()
	if loader == nil {
		return
	}

	msgs, err := loader.LoadInbox(agentID)
	if err != nil {
		s.logf("[supervisor] restore inbox %s: %v", agentID, err)
		return
	}
	for _, msg := range msgs {
		if _, err := s.router.Send(msg); err != nil {
			s.logf("[supervisor] restore message for %s: %v", agentID, err)
		}
	}
	if len(msgs) > 0 {
		s.logf("[supervisor] restored %d messages for %s", len(msgs), agentID)
	}
}

// recordAgent adds or replaces a roster entry.
func (s *Supervisor) recordAgent(a *models.AgentInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
	s.persistAgentLocked(a)
}

// setAgentTask updates an agent's state around task execution. An empty task
// ID means the agent went idle.
func (s *Supervisor) setAgentTask(agentID, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return
	}
	a.TaskID = taskID
	if taskID == "" {
		a.State = models.AgentStateIdle
	} else {
		a.State = models.AgentStateActive
	}
	s.persistAgentLocked(a)
}

// persistAgentLocked writes through to the roster store if one is attached.
// Caller holds s.mu.
func (s *Supervisor) persistAgentLocked(a *models.AgentInstance) {
	if s.roster == nil {
		return
	}
	cp := *a
	if err := s.roster.SaveAgent(&cp); err != nil {
		s.logf("[supervisor] persist agent %s: %v", a.ID, err)
	}
}
