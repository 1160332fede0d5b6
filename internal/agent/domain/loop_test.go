package domain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"otto/internal/agent/ports"
	"otto/internal/agent/ports/mocks"
)

func testLoopConfig() LoopConfig {
	cfg := DefaultLoopConfig()
	cfg.MaxSteps = 5
	cfg.EnablePlanning = false
	cfg.EnableReflection = false
	return cfg
}

func newTestLoop(llm ports.ReasoningClient, tools ports.ToolRunner, cfg LoopConfig) *AgenticLoop {
	if tools == nil {
		tools = &mocks.MockToolRunner{}
	}
	return NewAgenticLoop(Services{LLM: llm, Tools: tools}, cfg, nil, newFakeClock(), nil)
}

func TestExecuteFinalAnswer(t *testing.T) {
	llm := mocks.ScriptedClient(
		"the goal needs one lookup",
		`{"type": "final_answer", "answer": "42"}`,
	)
	loop := newTestLoop(llm, nil, testLoopConfig())

	result, err := loop.Execute(context.Background(), "what is the answer", AgentContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Answer != "42" {
		t.Errorf("expected answer 42, got %q", result.Answer)
	}
	if !strings.HasPrefix(result.ID, "run_") {
		t.Errorf("expected a run id on the result, got %q", result.ID)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected thought + action steps, got %d", len(result.Steps))
	}
	if result.Steps[0].Kind != StepThought || result.Steps[1].Kind != StepAction {
		t.Errorf("unexpected step kinds: %s, %s", result.Steps[0].Kind, result.Steps[1].Kind)
	}
	if loop.State() != StateCompleted {
		t.Errorf("expected completed state, got %s", loop.State())
	}
}

func TestExecuteToolCallThenAnswer(t *testing.T) {
	llm := mocks.ScriptedClient(
		"check the file first",
		`{"type": "tool_call", "tool_name": "read_file", "parameters": {"path": "notes.txt"}}`,
		`{"type": "final_answer", "answer": "file says hello"}`,
	)
	tools := &mocks.MockToolRunner{}
	loop := newTestLoop(llm, tools, testLoopConfig())

	result, err := loop.Execute(context.Background(), "read my notes", AgentContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if tools.CallCount() != 1 {
		t.Fatalf("expected 1 tool call, got %d", tools.CallCount())
	}
	if len(result.ToolsUsed) != 1 || result.ToolsUsed[0] != "read_file" {
		t.Errorf("expected tools used [read_file], got %v", result.ToolsUsed)
	}
	// thought, action, observation, action
	kinds := []StepKind{StepThought, StepAction, StepObservation, StepAction}
	if len(result.Steps) != len(kinds) {
		t.Fatalf("expected %d steps, got %d", len(kinds), len(result.Steps))
	}
	for i, kind := range kinds {
		if result.Steps[i].Kind != kind {
			t.Errorf("step %d: expected %s, got %s", i, kind, result.Steps[i].Kind)
		}
	}
}

func TestExecuteUnparsableActionDefaultsToFinalAnswer(t *testing.T) {
	llm := mocks.ScriptedClient(
		"thinking",
		"I have no idea, here is some prose instead of JSON",
	)
	loop := newTestLoop(llm, nil, testLoopConfig())

	result, err := loop.Execute(context.Background(), "goal", AgentContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatal("fallback final answer must complete the run")
	}
	if result.Answer != fallbackAnswer {
		t.Errorf("expected fixed fallback answer, got %q", result.Answer)
	}
}

func TestExecuteToolFailureBecomesObservation(t *testing.T) {
	llm := mocks.ScriptedClient(
		"thinking",
		`{"type": "tool_call", "tool_name": "env", "parameters": {}}`,
		`{"type": "final_answer", "answer": "done anyway"}`,
	)
	tools := &mocks.MockToolRunner{
		RunFunc: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			return nil, errors.New("transport down")
		},
	}
	loop := newTestLoop(llm, tools, testLoopConfig())

	result, err := loop.Execute(context.Background(), "goal", AgentContext{})
	if err != nil {
		t.Fatalf("tool failure must not abort the run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}

	var observation string
	for _, s := range result.Steps {
		if s.Kind == StepObservation {
			observation = s.Content
		}
	}
	if !strings.Contains(observation, "transport down") {
		t.Errorf("expected failure in observation, got %q", observation)
	}
}

func TestExecuteStopsAtMaxSteps(t *testing.T) {
	llm := mocks.ScriptedClient(
		"thinking",
		`{"type": "tool_call", "tool_name": "echo", "parameters": {}}`,
	)
	cfg := testLoopConfig()
	cfg.MaxSteps = 3
	tools := &mocks.MockToolRunner{}
	loop := newTestLoop(llm, tools, cfg)

	result, err := loop.Execute(context.Background(), "goal", AgentContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected unfinished run without a final answer")
	}
	if tools.CallCount() != 3 {
		t.Errorf("expected exactly 3 tool calls, got %d", tools.CallCount())
	}
	if result.Error == "" {
		t.Error("expected error text on budget exhaustion")
	}
}

func TestExecuteThinkFailureIsFatal(t *testing.T) {
	llm := &mocks.MockReasoningClient{
		ChatFunc: func(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
			return nil, errors.New("backend down")
		},
	}
	loop := newTestLoop(llm, nil, testLoopConfig())

	result, err := loop.Execute(context.Background(), "goal", AgentContext{})
	if err == nil {
		t.Fatal("expected fatal error from think phase")
	}
	if result.Success {
		t.Fatal("expected failed result")
	}
	if !strings.Contains(result.Error, "thinking failed") {
		t.Errorf("unexpected error text: %q", result.Error)
	}
	if loop.State() != StateError {
		t.Errorf("expected error state, got %s", loop.State())
	}
}

func TestExecuteReflectionFailureIgnored(t *testing.T) {
	calls := 0
	llm := &mocks.MockReasoningClient{
		ChatFunc: func(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
			calls++
			switch calls {
			case 1:
				return &ports.ChatResponse{Content: "thinking"}, nil
			case 2:
				return &ports.ChatResponse{Content: `{"type": "final_answer", "answer": "ok"}`}, nil
			default:
				return nil, errors.New("reflection backend down")
			}
		},
	}
	cfg := testLoopConfig()
	cfg.EnableReflection = true
	loop := newTestLoop(llm, nil, cfg)

	result, err := loop.Execute(context.Background(), "goal", AgentContext{})
	if err != nil {
		t.Fatalf("reflection failure must not abort the run: %v", err)
	}
	if !result.Success || result.Answer != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
	for _, s := range result.Steps {
		if s.Kind == StepReflection {
			t.Error("no reflection step expected when the call fails")
		}
	}
}

func TestExecutePlanningFallback(t *testing.T) {
	llm := mocks.ScriptedClient(
		"thinking",
		"not a plan at all",
		`{"type": "final_answer", "answer": "ok"}`,
	)
	cfg := testLoopConfig()
	cfg.EnablePlanning = true
	loop := newTestLoop(llm, nil, cfg)

	result, err := loop.Execute(context.Background(), "goal", AgentContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var planStep *AgentStep
	for i := range result.Steps {
		if result.Steps[i].Kind == StepPlan {
			planStep = &result.Steps[i]
		}
	}
	if planStep == nil {
		t.Fatal("expected a plan step")
	}
	if !strings.Contains(planStep.Content, "0.30") {
		t.Errorf("expected fallback confidence 0.30 in plan, got %q", planStep.Content)
	}
}

func TestExecuteAbortBetweenIterations(t *testing.T) {
	loop := newTestLoop(mocks.ScriptedClient(
		"thinking",
		`{"type": "tool_call", "tool_name": "echo", "parameters": {}}`,
	), nil, testLoopConfig())
	loop.Abort()

	// Abort is reset at the start of Execute, so request it from inside the
	// first action instead.
	llm := &mocks.MockReasoningClient{
		ChatFunc: func(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
			loop.Abort()
			return &ports.ChatResponse{Content: "thinking"}, nil
		},
	}
	loop.services.LLM = llm

	result, err := loop.Execute(context.Background(), "goal", AgentContext{})
	if err == nil {
		t.Fatal("expected abort error")
	}
	if result.Success {
		t.Fatal("aborted run must not succeed")
	}
	if !strings.Contains(result.Error, "aborted") {
		t.Errorf("unexpected error text: %q", result.Error)
	}
}

func TestExecuteStopsAtMaxDuration(t *testing.T) {
	llm := mocks.ScriptedClient(
		"thinking",
		`{"type": "tool_call", "tool_name": "echo", "parameters": {}}`,
	)
	clk := newFakeClock()
	tools := &mocks.MockToolRunner{
		RunFunc: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			clk.Advance(time.Hour)
			return &ports.ToolResult{Content: "ok"}, nil
		},
	}
	cfg := testLoopConfig()
	cfg.MaxDuration = 5 * time.Minute
	loop := NewAgenticLoop(Services{LLM: llm, Tools: tools}, cfg, nil, clk, nil)

	result, err := loop.Execute(context.Background(), "goal", AgentContext{})
	if err == nil {
		t.Fatal("expected wall-clock budget error")
	}
	if result.Success {
		t.Fatal("run past the duration budget must not succeed")
	}
	if !strings.Contains(result.Error, "wall-clock budget") {
		t.Errorf("unexpected error text: %q", result.Error)
	}
	if tools.CallCount() != 1 {
		t.Errorf("expected the run to stop after 1 tool call, got %d", tools.CallCount())
	}
	if loop.State() != StateError {
		t.Errorf("expected error state, got %s", loop.State())
	}
}

func TestPauseSurfacesPausedState(t *testing.T) {
	var loop *AgenticLoop
	llm := mocks.ScriptedClient(
		"thinking",
		`{"type": "tool_call", "tool_name": "echo", "parameters": {}}`,
		`{"type": "final_answer", "answer": "ok"}`,
	)
	tools := &mocks.MockToolRunner{
		RunFunc: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			loop.Pause()
			time.AfterFunc(120*time.Millisecond, loop.Resume)
			return &ports.ToolResult{Content: "done"}, nil
		},
	}
	loop = newTestLoop(llm, tools, testLoopConfig())
	obs := &recordingObserver{}
	loop.Subscribe(obs)

	result, err := loop.Execute(context.Background(), "goal", AgentContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}

	want := []AgentState{StateThinking, StateExecuting, StatePaused, StateExecuting, StateCompleted}
	obs.mu.Lock()
	got := append([]AgentState(nil), obs.states...)
	obs.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	for i, s := range want {
		if got[i] != s {
			t.Fatalf("expected states %v, got %v", want, got)
		}
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	steps  []AgentStep
	states []AgentState
}

func (o *recordingObserver) OnStep(step AgentStep) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, step)
}

func (o *recordingObserver) OnStateChange(from, to AgentState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
}

func TestObserverSeesStepsAndStates(t *testing.T) {
	llm := mocks.ScriptedClient(
		"thinking",
		`{"type": "final_answer", "answer": "ok"}`,
	)
	loop := newTestLoop(llm, nil, testLoopConfig())
	obs := &recordingObserver{}
	loop.Subscribe(obs)

	result, err := loop.Execute(context.Background(), "goal", AgentContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(obs.steps) != len(result.Steps) {
		t.Errorf("observer saw %d steps, result has %d", len(obs.steps), len(result.Steps))
	}

	want := []AgentState{StateThinking, StateExecuting, StateCompleted}
	if len(obs.states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, obs.states)
	}
	for i, s := range want {
		if obs.states[i] != s {
			t.Fatalf("expected states %v, got %v", want, obs.states)
		}
	}
}
