// Package plan builds execution plans over task sets: a topological order
// plus a partition into waves of mutually independent tasks.
package plan

import (
	"fmt"
	"sort"

	"github.com/gammazero/toposort"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/aristath/goalflow/internal/task"
)

// ValidationError reports a task set that cannot form a valid plan:
// unknown dependency references, duplicates, or cycles. It is fatal to
// plan construction and never retried.
type ValidationError struct {
	TaskID string // A task involved in the problem (one cycle participant for cycles)
	Reason string
}

func (e *ValidationError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("invalid task set: %s", e.Reason)
	}
	return fmt.Sprintf("invalid task set: task %q: %s", e.TaskID, e.Reason)
}

// Plan is a read-only derived view over a task set. It is never mutated;
// callers rebuild it whenever the task set changes and can compare
// fingerprints to detect that nothing moved.
type Plan struct {
	Order []string   // Full topological order of task IDs
	Waves [][]string // Wave k contains tasks whose dependencies all lie in waves < k

	wave        map[string]int
	fingerprint uint64
}

// Fingerprint returns a stable hash of the task set's structure
// (IDs, dependencies, priorities). Two plans built from identical task
// sets carry identical fingerprints.
func (p *Plan) Fingerprint() uint64 { return p.fingerprint }

// WaveOf returns the wave index of a task, or -1 if unknown.
func (p *Plan) WaveOf(id string) int {
	w, ok := p.wave[id]
	if !ok {
		return -1
	}
	return w
}

// planShape is the hashed structure backing Fingerprint.
type planShape struct {
	ID        string
	DependsOn []string
	Priority  int
}

// Build constructs a plan from a task set.
//
// Validation fails fast: duplicate IDs, self-dependencies, references to
// unknown tasks, and cycles all return a *ValidationError naming an
// offending task. Build never returns a partial plan.
//
// Within a wave, tasks are ordered by priority descending, then creation
// sequence ascending, so output is deterministic for a given task set.
func Build(tasks []*task.Task) (*Plan, error) {
	if len(tasks) == 0 {
		return nil, &ValidationError{Reason: "empty task set"}
	}

	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		if _, dup := byID[t.ID]; dup {
			return nil, &ValidationError{TaskID: t.ID, Reason: "duplicate task ID"}
		}
		byID[t.ID] = t
	}

	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if depID == t.ID {
				return nil, &ValidationError{TaskID: t.ID, Reason: "task depends on itself"}
			}
			if _, exists := byID[depID]; !exists {
				return nil, &ValidationError{TaskID: t.ID, Reason: fmt.Sprintf("depends on unknown task %q", depID)}
			}
		}
	}

	order, err := sortTopologically(tasks)
	if err != nil {
		// toposort reports the cycle without naming participants; identify
		// one via Kahn elimination so the error is actionable.
		if id := findCycleParticipant(tasks); id != "" {
			return nil, &ValidationError{TaskID: id, Reason: "dependency cycle"}
		}
		return nil, &ValidationError{Reason: fmt.Sprintf("dependency cycle: %v", err)}
	}

	// Wave of a task is 1 + max wave of its dependencies. Iterating in
	// topological order guarantees dependencies are assigned first.
	wave := make(map[string]int, len(order))
	maxWave := 0
	for _, id := range order {
		w := 0
		for _, depID := range byID[id].DependsOn {
			if dw := wave[depID] + 1; dw > w {
				w = dw
			}
		}
		wave[id] = w
		if w > maxWave {
			maxWave = w
		}
	}

	waves := make([][]string, maxWave+1)
	for _, id := range order {
		w := wave[id]
		waves[w] = append(waves[w], id)
	}
	for _, ids := range waves {
		sort.SliceStable(ids, func(i, j int) bool {
			a, b := byID[ids[i]], byID[ids[j]]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			return a.Seq < b.Seq
		})
	}

	// Rebuild the linear order from the waves so it honors the same
	// priority tie-breaks and stays idempotent across builds.
	flat := make([]string, 0, len(order))
	for _, ids := range waves {
		flat = append(flat, ids...)
	}

	shapes := make([]planShape, 0, len(tasks))
	for _, id := range flat {
		t := byID[id]
		deps := append([]string(nil), t.DependsOn...)
		sort.Strings(deps)
		shapes = append(shapes, planShape{ID: t.ID, DependsOn: deps, Priority: t.Priority})
	}
	fp, err := hashstructure.Hash(shapes, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting plan: %w", err)
	}

	return &Plan{Order: flat, Waves: waves, wave: wave, fingerprint: fp}, nil
}

// sortTopologically runs gammazero/toposort over the dependency edges.
func sortTopologically(tasks []*task.Task) ([]string, error) {
	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			// Edge from nil keeps dependency-free tasks in the result.
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, depID := range t.DependsOn {
			edges = append(edges, toposort.Edge{depID, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(tasks) {
		return nil, fmt.Errorf("topological sort lost %d tasks", len(tasks)-len(order))
	}
	return order, nil
}

// findCycleParticipant runs Kahn elimination and returns a task left over
// after all resolvable tasks are removed, i.e. a member of some cycle.
// Returns the lexicographically smallest leftover for determinism.
func findCycleParticipant(tasks []*task.Task) string {
	remaining := make(map[string]int, len(tasks)) // id -> unresolved dep count
	dependents := make(map[string][]string)
	for _, t := range tasks {
		remaining[t.ID] = len(t.DependsOn)
		for _, depID := range t.DependsOn {
			dependents[depID] = append(dependents[depID], t.ID)
		}
	}

	queue := make([]string, 0, len(tasks))
	for id, n := range remaining {
		if n == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		delete(remaining, id)
		for _, dep := range dependents[id] {
			if _, ok := remaining[dep]; !ok {
				continue
			}
			remaining[dep]--
			if remaining[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	leftover := ""
	for id := range remaining {
		if leftover == "" || id < leftover {
			leftover = id
		}
	}
	return leftover
}
