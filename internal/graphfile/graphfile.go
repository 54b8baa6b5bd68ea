// Package graphfile loads task graphs from YAML files and registers them
// with the task store. File-local task names become store IDs through a
// returned name map.
package graphfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/hive/internal/store"
)

// TaskSpec is one task entry in a graph file.
type TaskSpec struct {
	// Name is the file-local task name other entries reference.
	Name string `yaml:"name"`
	// Description is what the task asks an agent to do.
	Description string `yaml:"description"`
	// DependsOn lists the names of tasks that must succeed first.
	DependsOn []string `yaml:"depends_on"`
}

// File is a parsed task graph file.
type File struct {
	// Name labels the run.
	Name string `yaml:"name"`
	// Tasks are the graph entries, in file order.
	Tasks []TaskSpec `yaml:"tasks"`
}

// Load parses and validates a task graph file. Validation catches duplicate
// names, empty descriptions, and references to names the file never defines;
// cycle detection is left to the store, which rejects them on registration.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse graph file %s: %w", path, err)
	}
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("graph file %s defines no tasks", path)
	}

	names := make(map[string]bool, len(f.Tasks))
	for i, spec := range f.Tasks {
		if spec.Name == "" {
			return nil, fmt.Errorf("task %d has no name", i)
		}
		if spec.Description == "" {
			return nil, fmt.Errorf("task %q has no description", spec.Name)
		}
		if names[spec.Name] {
			return nil, fmt.Errorf("duplicate task name %q", spec.Name)
		}
		names[spec.Name] = true
	}
	for _, spec := range f.Tasks {
		for _, dep := range spec.DependsOn {
			if !names[dep] {
				return nil, fmt.Errorf("task %q depends on unknown task %q", spec.Name, dep)
			}
		}
	}
	return &f, nil
}

// Apply registers the file's tasks with the store and returns the mapping
// from file-local names to store IDs. Entries are created in an order where
// dependencies come first; a failure leaves the already created prefix in
// the store.
func Apply(f *File, st *store.Store) (map[string]string, error) {
	order, err := creationOrder(f)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]TaskSpec, len(f.Tasks))
	for _, spec := range f.Tasks {
		byName[spec.Name] = spec
	}

	ids := make(map[string]string, len(f.Tasks))
	for _, name := range order {
		spec := byName[name]
		deps := make([]string, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			deps = append(deps, ids[dep])
		}
		id, err := st.Create(spec.Description, deps)
		if err != nil {
			return nil, fmt.Errorf("create task %q: %w", name, err)
		}
		ids[name] = id
	}
	return ids, nil
}

// creationOrder returns the task names with dependencies before dependents,
// keeping file order among independent tasks. A dependency cycle in the file
// is caught here, before anything reaches the store.
func creationOrder(f *File) ([]string, error) {
	indegree := make(map[string]int, len(f.Tasks))
	dependents := make(map[string][]string)
	for _, spec := range f.Tasks {
		indegree[spec.Name] += 0
		for _, dep := range spec.DependsOn {
			indegree[spec.Name]++
			dependents[dep] = append(dependents[dep], spec.Name)
		}
	}

	var queue []string
	for _, spec := range f.Tasks {
		if indegree[spec.Name] == 0 {
			queue = append(queue, spec.Name)
		}
	}

	order := make([]string, 0, len(f.Tasks))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) != len(f.Tasks) {
		return nil, fmt.Errorf("graph contains a dependency cycle")
	}
	return order, nil
}
