package domain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"otto/internal/agent/ports"
	"otto/internal/observability"
	"otto/internal/utils/id"
)

// fallbackAnswer is recorded when the action-selection response cannot be
// parsed as either a tool call or a final answer.
const fallbackAnswer = "Unable to determine the next action from the model response."

// stepWindow is how many trailing steps the action-selection prompt sees.
const stepWindow = 5

// AgenticLoop drives one run: think, optionally plan, iterate until a final
// answer or the budget runs out, optionally reflect. Strictly sequential;
// the only suspension points are reasoning and tool calls.
type AgenticLoop struct {
	services Services
	config   LoopConfig
	logger   ports.Logger
	clock    ports.Clock
	metrics  *observability.Metrics
	tracer   trace.Tracer

	mu        sync.Mutex
	state     AgentState
	observers []RunObserver

	aborted atomic.Bool
	paused  atomic.Bool
}

// NewAgenticLoop wires a loop. metrics may be nil.
func NewAgenticLoop(services Services, config LoopConfig, logger ports.Logger, clock ports.Clock, metrics *observability.Metrics) *AgenticLoop {
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &AgenticLoop{
		services: services,
		config:   config,
		logger:   logger,
		clock:    clock,
		metrics:  metrics,
		tracer:   otel.Tracer("otto/agent"),
		state:    StateIdle,
	}
}

// Subscribe registers an observer for step and state-change notifications.
// Observers are called synchronously in registration order.
func (l *AgenticLoop) Subscribe(obs RunObserver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, obs)
}

// State returns the loop's current lifecycle state.
func (l *AgenticLoop) State() AgentState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Abort requests cooperative cancellation. The loop notices it between
// iterations; an in-flight reasoning or tool call is not interrupted.
func (l *AgenticLoop) Abort() {
	l.aborted.Store(true)
}

// Pause suspends the loop between iterations until Resume.
func (l *AgenticLoop) Pause() {
	l.paused.Store(true)
}

// Resume lifts a Pause.
func (l *AgenticLoop) Resume() {
	l.paused.Store(false)
}

func (l *AgenticLoop) setState(to AgentState) {
	l.mu.Lock()
	from := l.state
	l.state = to
	observers := l.observers
	l.mu.Unlock()

	if from == to {
		return
	}
	for _, obs := range observers {
		obs.OnStateChange(from, to)
	}
}

// run accumulates the mutable state of one Execute call.
type run struct {
	id        string
	goal      string
	start     time.Time
	steps     []AgentStep
	toolsUsed []string
	toolSeen  map[string]bool
}

func (l *AgenticLoop) record(r *run, kind StepKind, content string, metadata map[string]any) {
	step := AgentStep{
		ID:        id.NewStepID(),
		Kind:      kind,
		Content:   content,
		Timestamp: l.clock.Now(),
		Metadata:  metadata,
	}
	r.steps = append(r.steps, step)
	l.metrics.StepRecorded(string(kind))

	l.mu.Lock()
	observers := l.observers
	l.mu.Unlock()
	for _, obs := range observers {
		obs.OnStep(step)
	}
}

// Execute runs the loop for one goal. Phase failures in thinking, planning,
// or action selection are fatal and surface both in the result and the
// returned error; tool and reflection failures never abort the run.
func (l *AgenticLoop) Execute(ctx context.Context, goal string, agentCtx AgentContext) (*AgentResult, error) {
	maxSteps := l.config.MaxSteps
	if agentCtx.MaxSteps > 0 {
		maxSteps = agentCtx.MaxSteps
	}
	maxDuration := l.config.MaxDuration
	if agentCtx.MaxDuration > 0 {
		maxDuration = agentCtx.MaxDuration
	}

	l.aborted.Store(false)
	r := &run{id: id.NewRunID(), goal: goal, start: l.clock.Now(), toolSeen: make(map[string]bool)}
	l.logger.Debug("loop: run %s started", r.id)

	ctx, span := l.tracer.Start(ctx, "agent.execute")
	defer span.End()

	l.setState(StateThinking)
	thought, err := l.think(ctx, goal)
	if err != nil {
		return l.fail(r, fmt.Errorf("thinking failed: %w", err))
	}
	l.record(r, StepThought, thought, nil)

	if l.config.EnablePlanning {
		l.setState(StatePlanning)
		planText, err := l.plan(ctx, goal)
		if err != nil {
			return l.fail(r, fmt.Errorf("planning failed: %w", err))
		}
		l.record(r, StepPlan, planText, nil)
	}

	l.setState(StateExecuting)
	completed := false
	answer := ""

	for stepNum := 0; stepNum < maxSteps; stepNum++ {
		if l.aborted.Load() || ctx.Err() != nil {
			return l.fail(r, fmt.Errorf("run aborted"))
		}
		if l.clock.Now().Sub(r.start) >= maxDuration {
			return l.fail(r, fmt.Errorf("wall-clock budget %s exhausted", maxDuration))
		}
		if err := l.waitWhilePaused(ctx); err != nil {
			return l.fail(r, err)
		}

		action, err := l.selectAction(ctx, r.goal, r)
		if err != nil {
			return l.fail(r, fmt.Errorf("action selection failed: %w", err))
		}

		if action.Type == "final_answer" {
			l.record(r, StepAction, fmt.Sprintf("final_answer: %s", action.Answer), map[string]any{"type": "final_answer"})
			answer = action.Answer
			completed = true
			break
		}

		l.record(r, StepAction, fmt.Sprintf("tool_call: %s", action.ToolName), map[string]any{
			"type":       "tool_call",
			"tool_name":  action.ToolName,
			"parameters": action.Parameters,
		})
		l.runTool(ctx, r, action)
	}

	if completed && l.config.EnableReflection {
		l.setState(StateReflecting)
		if reflection, err := l.reflect(ctx, r, answer); err != nil {
			l.logger.Warn("loop: reflection failed, ignoring: %v", err)
		} else {
			l.record(r, StepReflection, reflection, nil)
		}
	}

	l.setState(StateCompleted)
	result := &AgentResult{
		ID:        r.id,
		Success:   completed,
		Answer:    answer,
		Steps:     r.steps,
		ToolsUsed: r.toolsUsed,
		Duration:  l.clock.Now().Sub(r.start),
	}
	if !completed {
		result.Error = fmt.Sprintf("no final answer within %d step(s)", maxSteps)
	}
	l.metrics.RunFinished(result.Success)
	return result, nil
}

func (l *AgenticLoop) fail(r *run, err error) (*AgentResult, error) {
	l.setState(StateError)
	l.metrics.RunFinished(false)
	return &AgentResult{
		ID:        r.id,
		Success:   false,
		Steps:     r.steps,
		ToolsUsed: r.toolsUsed,
		Duration:  l.clock.Now().Sub(r.start),
		Error:     err.Error(),
	}, err
}

func (l *AgenticLoop) waitWhilePaused(ctx context.Context) error {
	if !l.paused.Load() {
		return nil
	}
	l.setState(StatePaused)
	for l.paused.Load() {
		if l.aborted.Load() {
			return fmt.Errorf("run aborted")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	l.setState(StateExecuting)
	return nil
}

func (l *AgenticLoop) think(ctx context.Context, goal string) (string, error) {
	ctx, span := l.tracer.Start(ctx, "agent.think")
	defer span.End()

	resp, err := l.services.LLM.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: thinkPrompt},
			{Role: "user", Content: goal},
		},
		Options: ports.ChatOptions{Temperature: 0.7, MaxTokens: 500},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

type loopPlanResponse struct {
	Steps      []loopPlanStep `json:"steps"`
	Confidence float64        `json:"confidence"`
}

type loopPlanStep struct {
	Description     string   `json:"description"`
	RequiredTools   []string `json:"required_tools"`
	DurationSeconds int64    `json:"estimated_duration_seconds"`
}

func (l *AgenticLoop) plan(ctx context.Context, goal string) (string, error) {
	ctx, span := l.tracer.Start(ctx, "agent.plan")
	defer span.End()

	resp, err := l.services.LLM.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: loopPlanPrompt},
			{Role: "user", Content: goal},
		},
		Options: ports.ChatOptions{Temperature: 0.3, MaxTokens: 800},
	})
	if err != nil {
		return "", err
	}

	var parsed loopPlanResponse
	if !decodeModelJSON(resp.Content, &parsed) || len(parsed.Steps) == 0 {
		// Parse failure degrades to a single low-confidence step.
		parsed = loopPlanResponse{
			Steps:      []loopPlanStep{{Description: goal}},
			Confidence: 0.3,
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "plan (confidence %.2f):\n", parsed.Confidence)
	for i, s := range parsed.Steps {
		fmt.Fprintf(&b, "%d. %s", i+1, s.Description)
		if len(s.RequiredTools) > 0 {
			fmt.Fprintf(&b, " [tools: %s]", strings.Join(s.RequiredTools, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

type actionDecision struct {
	Type       string         `json:"type"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	Answer     string         `json:"answer"`
}

// selectAction asks the reasoning service for the next action given the goal
// and the trailing step window. An unparsable response defaults to a final
// answer with a fixed message rather than failing the run.
func (l *AgenticLoop) selectAction(ctx context.Context, goal string, r *run) (actionDecision, error) {
	ctx, span := l.tracer.Start(ctx, "agent.select_action")
	defer span.End()

	resp, err := l.services.LLM.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: actionPrompt},
			{Role: "user", Content: l.actionContext(goal, r)},
		},
		Options: ports.ChatOptions{Temperature: 0.2, MaxTokens: 600},
	})
	if err != nil {
		return actionDecision{}, err
	}

	var action actionDecision
	if !decodeModelJSON(resp.Content, &action) || !validAction(action) {
		l.logger.Warn("loop: unparsable action response, defaulting to final answer")
		return actionDecision{Type: "final_answer", Answer: fallbackAnswer}, nil
	}
	return action, nil
}

func validAction(a actionDecision) bool {
	switch a.Type {
	case "tool_call":
		return a.ToolName != ""
	case "final_answer":
		return true
	}
	return false
}

func (l *AgenticLoop) actionContext(goal string, r *run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\nRecent steps:\n", goal)
	steps := r.steps
	if len(steps) > stepWindow {
		steps = steps[len(steps)-stepWindow:]
	}
	for _, s := range steps {
		fmt.Fprintf(&b, "[%s] %s\n", s.Kind, s.Content)
	}
	return b.String()
}

// runTool executes one tool call and records the outcome as an observation.
// Tool failures become observation content; they never abort the run.
func (l *AgenticLoop) runTool(ctx context.Context, r *run, action actionDecision) {
	ctx, span := l.tracer.Start(ctx, "agent.tool_call")
	defer span.End()

	if !r.toolSeen[action.ToolName] {
		r.toolSeen[action.ToolName] = true
		r.toolsUsed = append(r.toolsUsed, action.ToolName)
	}

	call := ports.ToolCall{
		ID:        id.NewCallID(),
		Name:      action.ToolName,
		Arguments: action.Parameters,
	}
	result, err := l.services.Tools.Run(ctx, call)
	l.metrics.ToolCallFinished(err)

	var content string
	switch {
	case err != nil:
		content = fmt.Sprintf("tool %s failed: %v", action.ToolName, err)
	case result.Error != nil:
		content = fmt.Sprintf("tool %s failed: %v", action.ToolName, result.Error)
	default:
		content = result.Content
	}
	l.record(r, StepObservation, content, map[string]any{"tool_name": action.ToolName})
}

func (l *AgenticLoop) reflect(ctx context.Context, r *run, answer string) (string, error) {
	ctx, span := l.tracer.Start(ctx, "agent.reflect")
	defer span.End()

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\nFinal answer: %s\nSteps taken: %d\n", r.goal, answer, len(r.steps))
	resp, err := l.services.LLM.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: reflectPrompt},
			{Role: "user", Content: b.String()},
		},
		Options: ports.ChatOptions{Temperature: 0.5, MaxTokens: 400},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

const thinkPrompt = "" +
	"You reason about how to accomplish a goal. Respond with a short\n" +
	"free-form analysis: what the goal requires, what is known, what to do\n" +
	"first. No JSON, no lists of actions.\n"

const loopPlanPrompt = "" +
	"You outline an execution plan. Output ONLY valid JSON with the shape\n" +
	"{\"steps\": [{\"description\": \"...\", \"required_tools\": [],\n" +
	"\"estimated_duration_seconds\": 60}], \"confidence\": 0.8}.\n" +
	"2 to 6 steps.\n"

const actionPrompt = "" +
	"You choose the next action. Output ONLY valid JSON, one of:\n" +
	"{\"type\": \"tool_call\", \"tool_name\": \"...\", \"parameters\": {}}\n" +
	"{\"type\": \"final_answer\", \"answer\": \"...\"}\n" +
	"Choose final_answer once the goal is satisfied or no tool can help.\n"

const reflectPrompt = "" +
	"You assess a finished run. Respond with a short free-form reflection:\n" +
	"was the goal achieved, what worked, what to improve.\n"
