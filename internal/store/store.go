// Package store owns every Task object in a run. All status changes go
// through Transition or Claim, which makes the store the single serialization
// point for the scheduler's claim race and for cascading cancellation.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Persister mirrors task changes to durable storage. Implementations must be
// safe for concurrent use; the store calls them while holding its lock.
type Persister interface {
	SaveTask(t *models.Task) error
}

// Store is the authoritative, in-memory record of tasks and their dependency
// edges. It embeds a DAG for cycle checks and dependent lookups; the DAG
// holds topology only, all state lives here.
type Store struct {
	mu      sync.Mutex
	tasks   map[string]*models.Task
	dag     *graph.DAG
	nextSeq int64
	// notify wakes the scheduler when readiness may have changed.
	notify chan struct{}
	// persist is optional; nil means in-memory only.
	persist Persister
	// now is replaceable for tests.
	now func() time.Time
	// logf is an optional debug logging hook.
	logf func(format string, args ...any)
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tasks:  make(map[string]*models.Task),
		dag:    graph.New(),
		notify: make(chan struct{}, 1),
		now:    time.Now,
		logf:   func(string, ...any) {},
	}
}

// SetPersister attaches durable storage. Task changes from then on are
// written through; a write failure surfaces on the mutating call.
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = p
}

// SetDebugLog sets the debug logging function.
func (s *Store) SetDebugLog(fn func(format string, args ...any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.logf = fn
	}
}

// Notify returns a channel that receives a token whenever task readiness may
// have changed. The channel has capacity one; it coalesces bursts.
func (s *Store) Notify() <-chan struct{} {
	return s.notify
}

// Create registers a new task with the given dependency edges and returns its
// ID. It fails with ErrUnknownDependency if a dependency does not exist and
// with ErrCycle if the edges would close a cycle; on failure nothing is
// created or linked. A task whose dependencies are already all succeeded is
// created ready; a task with an already failed or cancelled dependency is
// created and immediately cancelled with that ancestor recorded.
func (s *Store) Create(description string, deps []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dep := range deps {
		if _, ok := s.tasks[dep]; !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownDependency, dep)
		}
	}

	id := uuid.New().String()
	if err := s.dag.AddNode(id, deps); err != nil {
		return "", err
	}

	s.nextSeq++
	task := &models.Task{
		ID:          id,
		Description: description,
		Status:      models.TaskStatusPending,
		DependsOn:   append([]string(nil), deps...),
		Seq:         s.nextSeq,
		CreatedAt:   s.now(),
	}
	s.tasks[id] = task
	s.logf("[store] created task %s (seq=%d, deps=%v)", id, task.Seq, deps)

	// A dependency may already be terminal at creation time.
	if cause := s.terminalDependencyLocked(task); cause != nil {
		s.cancelLocked(task, cause)
	} else if s.depsSucceededLocked(task) {
		task.Status = models.TaskStatusReady
	}

	if err := s.persistLocked(task); err != nil {
		return "", err
	}
	s.wakeLocked()
	return id, nil
}

// Get returns a copy of the task, or ErrNotFound.
func (s *Store) Get(id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return task.Clone(), nil
}

// List returns copies of all tasks in creation order, optionally filtered to
// the given statuses.
func (s *Store) List(statuses ...models.TaskStatus) []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Task
	for _, task := range s.tasks {
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if task.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Counts returns the number of tasks per status.
func (s *Store) Counts() map[models.TaskStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.TaskStatus]int)
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts
}

// Transition moves a task to a new status, recording the result on success
// and the error detail on failure. Invalid target statuses fail with
// InvalidTransitionError, unknown IDs with ErrNotFound; rejected calls leave
// all state unchanged. A terminal transition re-evaluates dependents within
// the same call: succeeded promotes pending dependents whose dependencies are
// now all satisfied, failed or cancelled cascades cancellation through every
// transitive dependent with this task recorded as the cause.
func (s *Store) Transition(id string, next models.TaskStatus, result, errDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, next, result, errDetail, "")
}

// Claim atomically moves the oldest ready task to running on behalf of the
// given agent. Returns nil when no task is ready; at most one caller ever
// observes the ready->running edge for a given task.
func (s *Store) Claim(agentID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *models.Task
	for _, task := range s.tasks {
		if task.Status != models.TaskStatusReady {
			continue
		}
		if oldest == nil || task.Seq < oldest.Seq {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, nil
	}

	if err := s.transitionLocked(oldest.ID, models.TaskStatusRunning, "", "", agentID); err != nil {
		return nil, err
	}
	s.logf("[store] task %s claimed by agent %s", oldest.ID, agentID)
	return oldest.Clone(), nil
}

// CancelRemaining cancels every task that has not started running, recording
// the given reason. Used on run-wide shutdown; in-flight tasks are left to
// finish and report through Transition.
func (s *Store) CancelRemaining(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		if task.Status != models.TaskStatusPending && task.Status != models.TaskStatusReady {
			continue
		}
		task.Status = models.TaskStatusCancelled
		task.ErrorDetail = reason
		at := s.now()
		task.CompletedAt = &at
		if err := s.persistLocked(task); err != nil {
			return err
		}
	}
	s.wakeLocked()
	return nil
}

// Archive removes a terminal task from the store. Tasks are never removed
// implicitly; this is the only destruction path.
func (s *Store) Archive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !task.Status.Terminal() {
		return &InvalidTransitionError{TaskID: id, From: task.Status, To: "archived"}
	}
	delete(s.tasks, id)
	return nil
}

// Restore loads a previously persisted task, preserving its ID, sequence and
// status. Used on resume; restored edges go through the same cycle check as
// Create.
func (s *Store) Restore(task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if err := s.dag.AddNode(task.ID, task.DependsOn); err != nil {
		return err
	}
	cp := task.Clone()
	// A task that was mid-flight when the previous run stopped cannot resume
	// its claim; it goes back to ready for a fresh claim.
	if cp.Status == models.TaskStatusRunning {
		cp.Status = models.TaskStatusReady
		cp.OwnerAgent = ""
	}
	s.tasks[cp.ID] = cp
	if cp.Seq > s.nextSeq {
		s.nextSeq = cp.Seq
	}
	s.wakeLocked()
	return nil
}

// transitionLocked applies a single status change and its follow-ups. Caller
// holds s.mu.
func (s *Store) transitionLocked(id string, next models.TaskStatus, result, errDetail, agentID string) error {
	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !next.Valid() || !task.Status.CanTransition(next) {
		return &InvalidTransitionError{TaskID: id, From: task.Status, To: next}
	}

	prev := task.Status
	task.Status = next
	if agentID != "" {
		task.OwnerAgent = agentID
	}
	switch next {
	case models.TaskStatusSucceeded:
		task.Result = result
	case models.TaskStatusFailed, models.TaskStatusCancelled:
		task.ErrorDetail = errDetail
	}
	if next.Terminal() {
		at := s.now()
		task.CompletedAt = &at
	}
	s.logf("[store] task %s: %s -> %s", id, prev, next)

	if err := s.persistLocked(task); err != nil {
		return err
	}

	// Dependents must see the new status within the same logical operation.
	switch next {
	case models.TaskStatusSucceeded:
		if err := s.promoteDependentsLocked(task); err != nil {
			return err
		}
	case models.TaskStatusFailed, models.TaskStatusCancelled:
		if err := s.cascadeCancelLocked(task); err != nil {
			return err
		}
	}

	s.wakeLocked()
	return nil
}

// promoteDependentsLocked moves pending dependents to ready once all of their
// dependencies have succeeded.
func (s *Store) promoteDependentsLocked(task *models.Task) error {
	for _, depID := range s.dag.Dependents(task.ID) {
		dep := s.tasks[depID]
		if dep == nil || dep.Status != models.TaskStatusPending {
			continue
		}
		if s.depsSucceededLocked(dep) {
			dep.Status = models.TaskStatusReady
			s.logf("[store] task %s unblocked by %s", dep.ID, task.ID)
			if err := s.persistLocked(dep); err != nil {
				return err
			}
		}
	}
	return nil
}

// cascadeCancelLocked cancels every transitive dependent of the terminal
// task, recording it as the cause. In diamond graphs a dependent is visited
// once and keeps the first cause; already terminal tasks are left untouched.
func (s *Store) cascadeCancelLocked(cause *models.Task) error {
	for _, depID := range s.dag.TransitiveDependents(cause.ID) {
		dep := s.tasks[depID]
		if dep == nil || dep.Status.Terminal() || dep.Status == models.TaskStatusRunning {
			// Running dependents finish on their own; their outcome reports
			// through Transition like any other.
			continue
		}
		s.cancelLocked(dep, cause)
		if err := s.persistLocked(dep); err != nil {
			return err
		}
	}
	return nil
}

// cancelLocked marks a task cancelled because of a terminal ancestor.
func (s *Store) cancelLocked(task *models.Task, cause *models.Task) {
	task.Status = models.TaskStatusCancelled
	task.ErrorDetail = fmt.Sprintf("dependency %s %s", cause.ID, cause.Status)
	at := s.now()
	task.CompletedAt = &at
	s.logf("[store] task %s cancelled (dependency %s %s)", task.ID, cause.ID, cause.Status)
}

// terminalDependencyLocked returns the first failed or cancelled dependency
// of the task, or nil.
func (s *Store) terminalDependencyLocked(task *models.Task) *models.Task {
	for _, depID := range task.DependsOn {
		dep := s.tasks[depID]
		if dep != nil && (dep.Status == models.TaskStatusFailed || dep.Status == models.TaskStatusCancelled) {
			return dep
		}
	}
	return nil
}

// depsSucceededLocked reports whether every dependency of the task has
// succeeded.
func (s *Store) depsSucceededLocked(task *models.Task) bool {
	for _, depID := range task.DependsOn {
		dep := s.tasks[depID]
		if dep == nil || dep.Status != models.TaskStatusSucceeded {
			return false
		}
	}
	return true
}

// persistLocked writes through to durable storage if one is attached.
func (s *Store) persistLocked(task *models.Task) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveTask(task.Clone()); err != nil {
		return fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	return nil
}

// wakeLocked nudges the scheduler without blocking.
func (s *Store) wakeLocked() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
