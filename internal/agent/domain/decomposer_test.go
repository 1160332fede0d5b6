package domain

import (
	"context"
	"testing"
	"time"

	"otto/internal/agent/ports/mocks"
)

const breakdownThreeTasks = `{"tasks": [
	{"id": "task_1", "title": "Gather", "description": "gather input", "type": "information_gathering", "priority": 1, "estimated_duration_seconds": 100},
	{"id": "task_2", "title": "Process", "description": "process input", "type": "data_processing", "priority": 2, "estimated_duration_seconds": 200},
	{"id": "task_3", "title": "Report", "description": "write report", "type": "synthesis", "priority": 1, "estimated_duration_seconds": 300}
]}`

func testDecomposerConfig() DecomposerConfig {
	cfg := DefaultDecomposerConfig()
	cfg.MinTaskDuration = time.Second
	cfg.EnableRiskAnalysis = false
	return cfg
}

func TestDecomposeParsesStructuredResponses(t *testing.T) {
	llm := mocks.ScriptedClient(
		`{"complexity": 7, "capabilities": ["research"]}`,
		breakdownThreeTasks,
		`{"dependencies": [
			{"from_task": "task_1", "to_task": "task_2", "kind": "sequential"},
			{"from_task": "task_2", "to_task": "task_3", "kind": "sequential"}
		]}`,
		`{"criteria": ["report exists", "data processed", "sources cited"]}`,
	)
	d := NewTaskDecomposer(llm, testDecomposerConfig(), nil, newFakeClock())

	dec := d.Decompose(context.Background(), "write a report", AgentContext{})
	if dec.Complexity != 7 {
		t.Errorf("expected complexity 7, got %.1f", dec.Complexity)
	}
	if len(dec.SubTasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(dec.SubTasks))
	}
	if len(dec.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(dec.Dependencies))
	}
	if len(dec.SuccessCriteria) != 3 {
		t.Errorf("expected 3 criteria, got %d", len(dec.SuccessCriteria))
	}

	// Optimization must keep a valid linearization.
	pos := make(map[string]int)
	for i, task := range dec.SubTasks {
		pos[task.ID] = i
	}
	for _, dep := range dec.Dependencies {
		if pos[dep.FromTask] >= pos[dep.ToTask] {
			t.Errorf("order violates %s -> %s", dep.FromTask, dep.ToTask)
		}
	}
}

func TestDecomposeFallsBackOnGarbage(t *testing.T) {
	llm := mocks.ScriptedClient("no json here at all")
	d := NewTaskDecomposer(llm, testDecomposerConfig(), nil, newFakeClock())

	dec := d.Decompose(context.Background(), "do something", AgentContext{})
	if dec.Complexity != 5 {
		t.Errorf("expected fallback complexity 5, got %.1f", dec.Complexity)
	}
	if len(dec.SubTasks) != 2 {
		t.Fatalf("expected fallback two-task breakdown, got %d tasks", len(dec.SubTasks))
	}
	if dec.SubTasks[0].Title != "Analyze Goal" || dec.SubTasks[1].Title != "Execute Goal" {
		t.Errorf("unexpected fallback tasks: %q, %q", dec.SubTasks[0].Title, dec.SubTasks[1].Title)
	}
	if len(dec.Dependencies) != 1 || dec.Dependencies[0].Kind != DependencySequential {
		t.Errorf("expected sequential fallback chain, got %+v", dec.Dependencies)
	}
	if len(dec.SuccessCriteria) == 0 {
		t.Error("expected non-empty success criteria")
	}
}

func TestDecomposeScalesDurationsToBudget(t *testing.T) {
	llm := mocks.ScriptedClient(
		`{"complexity": 4, "capabilities": ["general"]}`,
		breakdownThreeTasks,
		`{"dependencies": [{"from_task": "task_1", "to_task": "task_2", "kind": "sequential"}]}`,
		`{"criteria": ["done"]}`,
	)
	d := NewTaskDecomposer(llm, testDecomposerConfig(), nil, newFakeClock())

	budget := time.Minute
	dec := d.Decompose(context.Background(), "quick job", AgentContext{MaxDuration: budget})

	var total time.Duration
	for _, task := range dec.SubTasks {
		if task.EstimatedDuration < time.Second {
			t.Errorf("task %s below minimum duration: %s", task.ID, task.EstimatedDuration)
		}
		total += task.EstimatedDuration
	}
	// Raw total is 600s against a 60s budget; scaling must bring it inside.
	if total > budget {
		t.Errorf("scaled total %s exceeds budget %s", total, budget)
	}
}

func TestDecomposeDropsMalformedAndDedupesIDs(t *testing.T) {
	llm := mocks.ScriptedClient(
		`{"complexity": 3, "capabilities": ["general"]}`,
		`{"tasks": [
			{"id": "task_1", "title": "First", "description": "first", "type": "analysis", "priority": 1, "estimated_duration_seconds": 60},
			{"id": "", "title": "Broken", "description": "no id", "type": "analysis", "priority": 1, "estimated_duration_seconds": 60},
			{"id": "task_1", "title": "Duplicate", "description": "same id", "type": "execution", "priority": 1, "estimated_duration_seconds": 60}
		]}`,
		`{"dependencies": []}`,
		`{"criteria": ["done"]}`,
	)
	d := NewTaskDecomposer(llm, testDecomposerConfig(), nil, newFakeClock())

	dec := d.Decompose(context.Background(), "goal", AgentContext{})
	if len(dec.SubTasks) != 2 {
		t.Fatalf("expected malformed task dropped, got %d tasks", len(dec.SubTasks))
	}
	seen := make(map[string]bool)
	for _, task := range dec.SubTasks {
		if seen[task.ID] {
			t.Errorf("duplicate id %s survived refinement", task.ID)
		}
		seen[task.ID] = true
	}
}

func TestDecomposeKeepsOrderOnCyclicGraph(t *testing.T) {
	llm := mocks.ScriptedClient(
		`{"complexity": 4, "capabilities": ["general"]}`,
		breakdownThreeTasks,
		`{"dependencies": [
			{"from_task": "task_1", "to_task": "task_2", "kind": "sequential"},
			{"from_task": "task_2", "to_task": "task_3", "kind": "sequential"},
			{"from_task": "task_3", "to_task": "task_1", "kind": "sequential"}
		]}`,
		`{"criteria": ["done"]}`,
	)
	d := NewTaskDecomposer(llm, testDecomposerConfig(), nil, newFakeClock())

	dec := d.Decompose(context.Background(), "cyclic goal", AgentContext{})
	// Optimization is skipped; every task survives in its original order.
	want := []string{"task_1", "task_2", "task_3"}
	if len(dec.SubTasks) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(dec.SubTasks))
	}
	for i, id := range want {
		if dec.SubTasks[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, dec.SubTasks[i].ID)
		}
	}
}

func TestNormalizeTaskTypeDefaultsToExecution(t *testing.T) {
	cases := map[string]TaskType{
		"analysis":       TaskTypeAnalysis,
		" Synthesis ":    TaskTypeSynthesis,
		"something_else": TaskTypeExecution,
		"":               TaskTypeExecution,
	}
	for raw, want := range cases {
		if got := normalizeTaskType(raw); got != want {
			t.Errorf("normalizeTaskType(%q) = %s, want %s", raw, got, want)
		}
	}
}
