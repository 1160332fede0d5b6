package domain

import (
	"sync"
	"time"
)

// fakeClock advances a little on every read so durations are never zero but
// stay far below any wall-clock budget.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// Advance moves the clock forward by d.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// taskSet builds plain sub-tasks with the given ids, one minute each.
func taskSet(ids ...string) []SubTask {
	tasks := make([]SubTask, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, SubTask{
			ID:                id,
			Title:             "Task " + id,
			Description:       "do " + id,
			Type:              TaskTypeExecution,
			Priority:          1,
			EstimatedDuration: time.Minute,
		})
	}
	return tasks
}

func seqDep(from, to string) TaskDependency {
	return TaskDependency{FromTask: from, ToTask: to, Kind: DependencySequential}
}
