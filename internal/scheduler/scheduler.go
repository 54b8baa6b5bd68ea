// Package scheduler runs the claim loop: a bounded set of agent workers that
// repeatedly claim ready tasks from the store and execute them. Conflict
// resolution lives entirely in the store's atomic claim; workers never
// coordinate with each other directly.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Executor runs one claimed task to completion on behalf of an agent and
// returns its result. An error marks the task failed; the worker itself
// keeps going.
type Executor func(ctx context.Context, agentID string, task *models.Task) (string, error)

// Options configures a Scheduler.
type Options struct {
	// AgentIDs are the worker identities. One worker runs per ID, so the
	// slice length is the concurrency bound.
	AgentIDs []string
	// PollInterval bounds how long an idle worker waits before re-checking
	// for work (0 = default 250ms). The store's notify channel usually wakes
	// a worker sooner.
	PollInterval time.Duration
	// Stopped reports whether the agent has been told to stop requesting new
	// tasks. Nil means never.
	Stopped func(agentID string) bool
	// OnClaim is called when a worker claims a task. Nil is fine.
	OnClaim func(agentID string, task *models.Task)
	// OnDone is called after a claimed task reached a terminal status. Nil is
	// fine.
	OnDone func(agentID string, task *models.Task, err error)
}

// Scheduler drives the bounded worker pool over one store.
type Scheduler struct {
	store *store.Store
	exec  Executor
	opts  Options
	logf  func(format string, args ...any)
}

// New creates a scheduler over the given store and executor.
func New(st *store.Store, exec Executor, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	return &Scheduler{
		store: st,
		exec:  exec,
		opts:  opts,
		logf:  func(string, ...any) {},
	}
}

// SetDebugLog sets the debug logging function.
func (s *Scheduler) SetDebugLog(fn func(format string, args ...any)) {
	if fn != nil {
		s.logf = fn
	}
}

// Run executes the claim loop with one worker per agent ID and blocks until
// every task is terminal, every worker has been told to stop, or the context
// is cancelled. On cancellation tasks that have not started are cancelled;
// in-flight tasks finish and report on their own.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, agentID := range s.opts.AgentIDs {
		id := agentID
		g.Go(func() error {
			return s.worker(ctx, id)
		})
	}
	err := g.Wait()

	if ctx.Err() != nil {
		if cerr := s.store.CancelRemaining("run cancelled"); cerr != nil {
			s.logf("[scheduler] cancel remaining: %v", cerr)
		}
	}
	return err
}

// worker is one agent's claim loop. Exits nil when no claimable work can ever
// appear again or the agent is stopped; exits with the context error on
// cancellation.
func (s *Scheduler) worker(ctx context.Context, agentID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.opts.Stopped != nil && s.opts.Stopped(agentID) {
			s.logf("[scheduler] worker %s stopped, exiting", agentID)
			return nil
		}

		task, err := s.store.Claim(agentID)
		if err != nil {
			return err
		}
		if task != nil {
			s.runOne(ctx, agentID, task)
			continue
		}

		if s.drained() {
			s.logf("[scheduler] worker %s: no work remains, exiting", agentID)
			return nil
		}

		timer := time.NewTimer(s.opts.PollInterval)
		select {
		case <-s.store.Notify():
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

// runOne executes a claimed task and records its outcome. Executor failure
// marks the task failed; it never takes the worker down with it.
func (s *Scheduler) runOne(ctx context.Context, agentID string, task *models.Task) {
	if s.opts.OnClaim != nil {
		s.opts.OnClaim(agentID, task)
	}
	s.logf("[scheduler] %s running task %s", agentID, task.ID)

	result, err := s.exec(ctx, agentID, task)
	if err != nil {
		s.logf("[scheduler] %s task %s failed: %v", agentID, task.ID, err)
		if terr := s.store.Transition(task.ID, models.TaskStatusFailed, "", err.Error()); terr != nil {
			s.logf("[scheduler] record failure for %s: %v", task.ID, terr)
		}
	} else {
		if terr := s.store.Transition(task.ID, models.TaskStatusSucceeded, result, ""); terr != nil {
			s.logf("[scheduler] record success for %s: %v", task.ID, terr)
		}
	}

	if s.opts.OnDone != nil {
		done, gerr := s.store.Get(task.ID)
		if gerr == nil {
			s.opts.OnDone(agentID, done, err)
		}
	}
}

// drained reports whether no task is or can become claimable. Running tasks
// count as work because their completion may promote dependents.
func (s *Scheduler) drained() bool {
	counts := s.store.Counts()
	return counts[models.TaskStatusPending] == 0 &&
		counts[models.TaskStatusReady] == 0 &&
		counts[models.TaskStatusRunning] == 0
}
