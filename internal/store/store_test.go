package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

func mustCreate(t *testing.T, s *Store, desc string, deps ...string) string {
	t.Helper()
	id, err := s.Create(desc, deps)
	if err != nil {
		t.Fatalf("Create(%q, %v) = %v", desc, deps, err)
	}
	return id
}

func mustStatus(t *testing.T, s *Store, id string, want models.TaskStatus) {
	t.Helper()
	task, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get(%s) = %v", id, err)
	}
	if task.Status != want {
		t.Fatalf("task %s status = %s, want %s", id, task.Status, want)
	}
}

func TestCreate_NoDepsIsReady(t *testing.T) {
	s := New()
	id := mustCreate(t, s, "standalone")
	mustStatus(t, s, id, models.TaskStatusReady)
}

func TestCreate_WithPendingDeps(t *testing.T) {
	s := New()
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b", a)
	mustStatus(t, s, b, models.TaskStatusPending)
}

func TestCreate_UnknownDependency(t *testing.T) {
	s := New()
	_, err := s.Create("x", []string{"no-such-task"})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("Create with unknown dep = %v, want ErrUnknownDependency", err)
	}
	if len(s.List()) != 0 {
		t.Error("rejected create should leave the store empty")
	}
}

func TestCreate_DepAlreadySucceeded(t *testing.T) {
	s := New()
	a := mustCreate(t, s, "a")
	claimRun(t, s, a)
	if err := s.Transition(a, models.TaskStatusSucceeded, "done", ""); err != nil {
		t.Fatalf("Transition = %v", err)
	}

	b := mustCreate(t, s, "b", a)
	mustStatus(t, s, b, models.TaskStatusReady)
}

func TestCreate_DepAlreadyFailed(t *testing.T) {
	s := New()
	a := mustCreate(t, s, "a")
	claimRun(t, s, a)
	if err := s.Transition(a, models.TaskStatusFailed, "", "boom"); err != nil {
		t.Fatalf("Transition = %v", err)
	}

	b := mustCreate(t, s, "b", a)
	task, _ := s.Get(b)
	if task.Status != models.TaskStatusCancelled {
		t.Fatalf("task created under failed dep: status = %s, want cancelled", task.Status)
	}
	if !strings.Contains(task.ErrorDetail, a) || !strings.Contains(task.ErrorDetail, "failed") {
		t.Errorf("ErrorDetail = %q, want the failed ancestor recorded", task.ErrorDetail)
	}
}

func TestTransition_InvalidRejected(t *testing.T) {
	s := New()
	a := mustCreate(t, s, "a") // ready

	tests := []struct {
		name string
		to   models.TaskStatus
	}{
		{"ready to succeeded skips running", models.TaskStatusSucceeded},
		{"ready to failed skips running", models.TaskStatusFailed},
		{"ready to pending reverses", models.TaskStatusPending},
		{"unknown status", models.TaskStatus("paused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Transition(a, tt.to, "", "")
			if err == nil {
				t.Fatal("invalid transition accepted")
			}
			if !IsInvalidTransition(err) {
				t.Errorf("error = %v, want InvalidTransitionError", err)
			}
			mustStatus(t, s, a, models.TaskStatusReady)
		})
	}
}

func TestTransition_UnknownTask(t *testing.T) {
	s := New()
	if err := s.Transition("nope", models.TaskStatusReady, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Transition(unknown) = %v, want ErrNotFound", err)
	}
}

func TestClaim_OldestReadyFirst(t *testing.T) {
	s := New()
	first := mustCreate(t, s, "first")
	second := mustCreate(t, s, "second")

	task, err := s.Claim("agent-1")
	if err != nil {
		t.Fatalf("Claim = %v", err)
	}
	if task.ID != first {
		t.Errorf("Claim returned %s, want the older task %s", task.ID, first)
	}
	if task.OwnerAgent != "agent-1" {
		t.Errorf("OwnerAgent = %q, want agent-1", task.OwnerAgent)
	}

	task, err = s.Claim("agent-2")
	if err != nil {
		t.Fatalf("Claim = %v", err)
	}
	if task.ID != second {
		t.Errorf("second Claim returned %s, want %s", task.ID, second)
	}

	task, err = s.Claim("agent-3")
	if err != nil {
		t.Fatalf("Claim = %v", err)
	}
	if task != nil {
		t.Errorf("Claim with nothing ready = %v, want nil", task)
	}
}

func TestClaim_ExclusiveUnderContention(t *testing.T) {
	s := New()
	const tasks = 20
	for i := 0; i < tasks; i++ {
		mustCreate(t, s, fmt.Sprintf("task %d", i))
	}

	var mu sync.Mutex
	claimed := make(map[string]string)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			for {
				task, err := s.Claim(agent)
				if err != nil {
					t.Errorf("Claim = %v", err)
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				if prev, ok := claimed[task.ID]; ok {
					t.Errorf("task %s claimed twice (by %s and %s)", task.ID, prev, agent)
				}
				claimed[task.ID] = agent
				mu.Unlock()
			}
		}(fmt.Sprintf("agent-%d", w))
	}
	wg.Wait()

	if len(claimed) != tasks {
		t.Errorf("claimed %d tasks, want %d", len(claimed), tasks)
	}
}

func TestSucceeded_PromotesDependents(t *testing.T) {
	s := New()
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	c := mustCreate(t, s, "c", a, b)

	claimRun(t, s, a)
	if err := s.Transition(a, models.TaskStatusSucceeded, "ok", ""); err != nil {
		t.Fatalf("Transition = %v", err)
	}
	mustStatus(t, s, c, models.TaskStatusPending) // b still outstanding

	claimRun(t, s, b)
	if err := s.Transition(b, models.TaskStatusSucceeded, "ok", ""); err != nil {
		t.Fatalf("Transition = %v", err)
	}
	mustStatus(t, s, c, models.TaskStatusReady)
}

func TestFailed_CascadesCancellation(t *testing.T) {
	s := New()
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b", a)
	c := mustCreate(t, s, "c", b)

	claimRun(t, s, a)
	if err := s.Transition(a, models.TaskStatusFailed, "", "exploded"); err != nil {
		t.Fatalf("Transition = %v", err)
	}

	for _, id := range []string{b, c} {
		task, _ := s.Get(id)
		if task.Status != models.TaskStatusCancelled {
			t.Errorf("dependent %s status = %s, want cancelled", id, task.Status)
		}
		if !strings.Contains(task.ErrorDetail, a) {
			t.Errorf("dependent %s ErrorDetail = %q, want cause %s recorded", id, task.ErrorDetail, a)
		}
	}
}

func TestCascade_DiamondSingleCause(t *testing.T) {
	// a -> b, a -> c, {b,c} -> d. When a fails, d is cancelled once with a as
	// the recorded cause even though both of its paths collapsed.
	s := New()
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b", a)
	c := mustCreate(t, s, "c", a)
	d := mustCreate(t, s, "d", b, c)

	claimRun(t, s, a)
	if err := s.Transition(a, models.TaskStatusFailed, "", "boom"); err != nil {
		t.Fatalf("Transition = %v", err)
	}

	task, _ := s.Get(d)
	if task.Status != models.TaskStatusCancelled {
		t.Fatalf("d status = %s, want cancelled", task.Status)
	}
	want := fmt.Sprintf("dependency %s failed", a)
	if task.ErrorDetail != want {
		t.Errorf("d ErrorDetail = %q, want %q", task.ErrorDetail, want)
	}
}

func TestCascade_SkipsRunningDependent(t *testing.T) {
	// b depends on a only loosely in time: b is already running when a
	// (a dependency of c but not b) fails. Running tasks finish on their own.
	s := New()
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	c := mustCreate(t, s, "c", a, b)

	claimRun(t, s, b)

	claimRun(t, s, a)
	if err := s.Transition(a, models.TaskStatusFailed, "", "boom"); err != nil {
		t.Fatalf("Transition = %v", err)
	}

	mustStatus(t, s, b, models.TaskStatusRunning)
	mustStatus(t, s, c, models.TaskStatusCancelled)

	// b still completes and reports normally.
	if err := s.Transition(b, models.TaskStatusSucceeded, "ok", ""); err != nil {
		t.Errorf("running task completion after cascade = %v", err)
	}
}

func TestCancelRemaining(t *testing.T) {
	s := New()
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b", a)
	c := mustCreate(t, s, "c")
	claimRun(t, s, c)

	if err := s.CancelRemaining("run cancelled"); err != nil {
		t.Fatalf("CancelRemaining = %v", err)
	}

	mustStatus(t, s, a, models.TaskStatusCancelled)
	mustStatus(t, s, b, models.TaskStatusCancelled)
	mustStatus(t, s, c, models.TaskStatusRunning)

	task, _ := s.Get(a)
	if task.ErrorDetail != "run cancelled" {
		t.Errorf("ErrorDetail = %q, want the shutdown reason", task.ErrorDetail)
	}
}

func TestArchive(t *testing.T) {
	s := New()
	a := mustCreate(t, s, "a")

	if err := s.Archive(a); err == nil {
		t.Error("Archive of a non-terminal task should fail")
	}

	claimRun(t, s, a)
	if err := s.Transition(a, models.TaskStatusSucceeded, "ok", ""); err != nil {
		t.Fatalf("Transition = %v", err)
	}
	if err := s.Archive(a); err != nil {
		t.Fatalf("Archive = %v", err)
	}
	if _, err := s.Get(a); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Archive = %v, want ErrNotFound", err)
	}
}

func TestRestore_RunningGoesBackToReady(t *testing.T) {
	s := New()
	task := &models.Task{
		ID:          "t1",
		Description: "interrupted",
		Status:      models.TaskStatusRunning,
		OwnerAgent:  "agent-dead",
		Seq:         5,
	}
	if err := s.Restore(task); err != nil {
		t.Fatalf("Restore = %v", err)
	}

	got, _ := s.Get("t1")
	if got.Status != models.TaskStatusReady {
		t.Errorf("restored status = %s, want ready", got.Status)
	}
	if got.OwnerAgent != "" {
		t.Errorf("restored OwnerAgent = %q, want cleared", got.OwnerAgent)
	}

	// New creates continue the sequence.
	id := mustCreate(t, s, "next")
	next, _ := s.Get(id)
	if next.Seq <= 5 {
		t.Errorf("new task Seq = %d, want > 5", next.Seq)
	}
}

func TestList_FilterAndOrder(t *testing.T) {
	s := New()
	a := mustCreate(t, s, "a")
	mustCreate(t, s, "b", a)

	all := s.List()
	if len(all) != 2 || all[0].ID != a {
		t.Errorf("List() = %d tasks, first %s; want 2 with %s first", len(all), all[0].ID, a)
	}

	ready := s.List(models.TaskStatusReady)
	if len(ready) != 1 || ready[0].ID != a {
		t.Errorf("List(ready) = %v, want only %s", ready, a)
	}
}

type failingPersister struct{ fail bool }

func (p *failingPersister) SaveTask(t *models.Task) error {
	if p.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestPersistFailureSurfaces(t *testing.T) {
	s := New()
	p := &failingPersister{}
	s.SetPersister(p)

	a := mustCreate(t, s, "a")
	p.fail = true
	if _, err := s.Create("b", nil); err == nil {
		t.Error("Create with failing persister should surface the error")
	}
	p.fail = false
	claimRun(t, s, a)
}

// claimRun moves a specific ready task to running via the public API.
func claimRun(t *testing.T, s *Store, id string) {
	t.Helper()
	task, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get(%s) = %v", id, err)
	}
	if task.Status != models.TaskStatusReady {
		t.Fatalf("task %s not ready (status %s)", id, task.Status)
	}
	if err := s.Transition(id, models.TaskStatusRunning, "", ""); err != nil {
		t.Fatalf("Transition(%s, running) = %v", id, err)
	}
}
