// Package graph provides the dependency DAG used for task scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/toposort"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownNode indicates an edge referenced a node that was never added.
var ErrUnknownNode = errors.New("unknown node")

// DAG is a directed acyclic graph over task IDs. Nodes are tasks, edges point
// from a task to the tasks it depends on. The DAG holds topology only; task
// state lives in the store.
type DAG struct {
	mu sync.RWMutex
	// nodes is the set of known task IDs.
	nodes map[string]bool
	// edges maps task ID to the IDs it depends on.
	edges map[string][]string
	// dependents maps task ID to the IDs that depend on it.
	dependents map[string][]string
}

// New creates an empty DAG.
func New() *DAG {
	return &DAG{
		nodes:      make(map[string]bool),
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// AddNode registers a node with its dependency edges. It fails with
// ErrUnknownNode if a dependency was never added, and with ErrCycleDetected
// if the edges would close a cycle. On failure the graph is unchanged.
func (g *DAG) AddNode(id string, deps []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.nodes[id] {
		return fmt.Errorf("node %s already exists", id)
	}
	for _, dep := range deps {
		if !g.nodes[dep] && dep != id {
			return fmt.Errorf("%w: %s", ErrUnknownNode, dep)
		}
	}

	g.nodes[id] = true
	g.edges[id] = append([]string(nil), deps...)

	if g.hasCycleLocked() {
		// Roll back so rejection leaves the graph unchanged.
		delete(g.nodes, id)
		delete(g.edges, id)
		return ErrCycleDetected
	}

	for _, dep := range deps {
		g.dependents[dep] = append(g.dependents[dep], id)
	}
	return nil
}

// Has reports whether the node is in the graph.
func (g *DAG) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Size returns the number of nodes in the graph.
func (g *DAG) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs the given node depends on.
func (g *DAG) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// Dependents returns the IDs that directly depend on the given node.
func (g *DAG) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[id]...)
}

// TransitiveDependents returns every node reachable by following dependent
// edges from the given node, in breadth-first order. Each node appears once
// even when multiple paths lead to it.
func (g *DAG) TransitiveDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{id: true}
	var result []string
	queue := append([]string(nil), g.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		result = append(result, next)
		queue = append(queue, g.dependents[next]...)
	}
	return result
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DAG) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *DAG) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case 1:
				// Back edge, cycle found.
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// Order returns node IDs in topological order: every dependency comes before
// the nodes that depend on it. Sibling order is made deterministic by sorting
// the edge list before the sort runs. Returns ErrCycleDetected on a cycle.
func (g *DAG) Order() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var edges []toposort.Edge
	for _, id := range ids {
		if len(g.edges[id]) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range g.edges[id] {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycleDetected, err)
	}

	order := make([]string, 0, len(sorted))
	for _, v := range sorted {
		if v != nil {
			order = append(order, v.(string))
		}
	}
	return order, nil
}
