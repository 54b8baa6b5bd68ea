package store

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrNotFound indicates the referenced task ID is unknown to the store.
var ErrNotFound = errors.New("task not found")

// ErrUnknownDependency indicates a dependency references a task that does not exist.
var ErrUnknownDependency = errors.New("unknown dependency")

// ErrCycle indicates the requested dependencies would close a cycle.
// It matches graph.ErrCycleDetected under errors.Is.
var ErrCycle = graph.ErrCycleDetected

// InvalidTransitionError reports a status change the task state machine does
// not allow. The store rejects the call and leaves all state unchanged.
type InvalidTransitionError struct {
	TaskID string
	From   models.TaskStatus
	To     models.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
