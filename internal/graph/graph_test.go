package graph

import (
	"errors"
	"testing"
)

func TestAddNode_UnknownDependency(t *testing.T) {
	g := New()
	if err := g.AddNode("a", []string{"missing"}); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("AddNode with missing dep = %v, want ErrUnknownNode", err)
	}
	if g.Has("a") {
		t.Error("rejected node should not be in the graph")
	}
}

func TestAddNode_DuplicateNode(t *testing.T) {
	g := New()
	if err := g.AddNode("a", nil); err != nil {
		t.Fatalf("AddNode(a) = %v", err)
	}
	if err := g.AddNode("a", nil); err == nil {
		t.Error("adding a duplicate node should fail")
	}
}

func TestAddNode_SelfDependency(t *testing.T) {
	g := New()
	if err := g.AddNode("a", []string{"a"}); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("self-dependency = %v, want ErrCycleDetected", err)
	}
	if g.Has("a") {
		t.Error("rejected node should not be in the graph")
	}
}

func TestAddNode_CycleRollback(t *testing.T) {
	// Edges arrive one node at a time, so a cycle can only close on the last
	// AddNode; the rejection must leave the earlier nodes usable.
	g := New()
	if err := g.AddNode("a", nil); err != nil {
		t.Fatalf("AddNode(a) = %v", err)
	}
	if err := g.AddNode("b", []string{"a"}); err != nil {
		t.Fatalf("AddNode(b) = %v", err)
	}

	if err := g.AddNode("a2", []string{"b", "a2"}); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("cycle-closing AddNode = %v, want ErrCycleDetected", err)
	}
	if g.Has("a2") {
		t.Error("rejected node should have been rolled back")
	}
	if g.Size() != 2 {
		t.Errorf("Size() = %d after rollback, want 2", g.Size())
	}

	// The graph still accepts valid nodes afterwards.
	if err := g.AddNode("c", []string{"b"}); err != nil {
		t.Errorf("AddNode(c) after rejection = %v", err)
	}
}

func TestDependents(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", []string{"a"})
	mustAdd(t, g, "c", []string{"a"})

	deps := g.Dependents("a")
	if len(deps) != 2 {
		t.Fatalf("Dependents(a) = %v, want 2 entries", deps)
	}
	if got := g.Dependencies("b"); len(got) != 1 || got[0] != "a" {
		t.Errorf("Dependencies(b) = %v, want [a]", got)
	}
}

func TestTransitiveDependents_Diamond(t *testing.T) {
	// a <- b, a <- c, b <- d, c <- d: d is reachable from a on two paths but
	// must appear once.
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", []string{"a"})
	mustAdd(t, g, "c", []string{"a"})
	mustAdd(t, g, "d", []string{"b", "c"})

	result := g.TransitiveDependents("a")
	if len(result) != 3 {
		t.Fatalf("TransitiveDependents(a) = %v, want 3 entries", result)
	}
	seen := make(map[string]int)
	for _, id := range result {
		seen[id]++
	}
	for _, id := range []string{"b", "c", "d"} {
		if seen[id] != 1 {
			t.Errorf("node %s appears %d times, want 1", id, seen[id])
		}
	}
}

func TestOrder_Topological(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", []string{"a"})
	mustAdd(t, g, "c", []string{"a"})
	mustAdd(t, g, "d", []string{"b", "c"})

	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order() = %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("Order() returned %d nodes, want 4", len(order))
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, edge := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}} {
		if pos[edge[0]] > pos[edge[1]] {
			t.Errorf("Order() = %v: %s must come before %s", order, edge[0], edge[1])
		}
	}
}

func TestOrder_Deterministic(t *testing.T) {
	build := func() *DAG {
		g := New()
		mustAdd(t, g, "root", nil)
		for _, id := range []string{"x", "y", "z"} {
			mustAdd(t, g, id, []string{"root"})
		}
		return g
	}

	first, err := build().Order()
	if err != nil {
		t.Fatalf("Order() = %v", err)
	}
	for i := 0; i < 5; i++ {
		next, err := build().Order()
		if err != nil {
			t.Fatalf("Order() = %v", err)
		}
		for j := range first {
			if first[j] != next[j] {
				t.Fatalf("Order() not deterministic: %v vs %v", first, next)
			}
		}
	}
}

func TestHasCycle_CleanGraph(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", []string{"a"})
	if g.HasCycle() {
		t.Error("HasCycle() = true for an acyclic graph")
	}
}

func mustAdd(t *testing.T, g *DAG, id string, deps []string) {
	t.Helper()
	if err := g.AddNode(id, deps); err != nil {
		t.Fatalf("AddNode(%s, %v) = %v", id, deps, err)
	}
}
