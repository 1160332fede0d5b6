package domain

import "time"

// blockingEdges returns adjacency and in-degree maps over the non-optional
// dependency edges. Optional edges never constrain ordering.
func blockingEdges(tasks []SubTask, deps []TaskDependency) (adj map[string][]string, indeg map[string]int) {
	adj = make(map[string][]string, len(tasks))
	indeg = make(map[string]int, len(tasks))
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
		indeg[t.ID] = 0
	}
	for _, d := range deps {
		if d.Optional || !known[d.FromTask] || !known[d.ToTask] {
			continue
		}
		adj[d.FromTask] = append(adj[d.FromTask], d.ToTask)
		indeg[d.ToTask]++
	}
	return adj, indeg
}

// topologicalOrder linearizes tasks with Kahn's algorithm over the
// non-optional dependency edges. Ties between zero-in-degree candidates keep
// the original task order. The second return is false when the graph is
// cyclic; callers must not use a partial order, so the cyclic case returns
// nil.
func topologicalOrder(tasks []SubTask, deps []TaskDependency) ([]SubTask, bool) {
	adj, indeg := blockingEdges(tasks, deps)

	byID := make(map[string]SubTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var queue []string
	for _, t := range tasks {
		if indeg[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	ordered := make([]SubTask, 0, len(tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])
		for _, next := range adj[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	// Leftover nodes never reached zero in-degree: the graph has a cycle.
	if len(ordered) != len(tasks) {
		return nil, false
	}
	return ordered, true
}

// criticalPath returns the task ids on the dependency chain with the
// greatest cumulative estimated duration, found by plain depth-first search
// from every source node. Exponential on dense graphs; fine for the
// MaxSubTasks-bounded graphs the decomposer emits, and callers reject cyclic
// input before getting here.
func criticalPath(tasks []SubTask, deps []TaskDependency) []string {
	adj, indeg := blockingEdges(tasks, deps)

	durations := make(map[string]time.Duration, len(tasks))
	for _, t := range tasks {
		durations[t.ID] = t.EstimatedDuration
	}

	var bestPath []string
	var bestCost time.Duration

	var walk func(id string, path []string, cost time.Duration)
	walk = func(id string, path []string, cost time.Duration) {
		path = append(path, id)
		cost += durations[id]
		if cost > bestCost {
			bestCost = cost
			bestPath = append([]string(nil), path...)
		}
		for _, next := range adj[id] {
			walk(next, path, cost)
		}
	}

	for _, t := range tasks {
		if indeg[t.ID] == 0 {
			walk(t.ID, nil, 0)
		}
	}
	return bestPath
}
