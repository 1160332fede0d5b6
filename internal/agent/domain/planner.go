package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"otto/internal/agent/ports"
	"otto/internal/observability"
	"otto/internal/utils/id"
)

// ExecutionPlanner builds a live plan from a decomposition and owns every
// mutation of it: scheduling, status transitions with dependency
// propagation, contingency evaluation, and model-driven adaptation.
type ExecutionPlanner struct {
	llm     ports.ReasoningClient
	config  PlannerConfig
	logger  ports.Logger
	clock   ports.Clock
	history *lru.Cache[string, *ExecutionPlan]
	metrics *observability.Metrics
}

// NewExecutionPlanner wires a planner. The execution-history archive keeps
// the most recent completed plans for later learning.
func NewExecutionPlanner(llm ports.ReasoningClient, config PlannerConfig, logger ports.Logger, clock ports.Clock) (*ExecutionPlanner, error) {
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	size := config.ExecutionHistorySize
	if size <= 0 {
		size = DefaultPlannerConfig().ExecutionHistorySize
	}
	history, err := lru.New[string, *ExecutionPlan](size)
	if err != nil {
		return nil, fmt.Errorf("create execution history: %w", err)
	}
	return &ExecutionPlanner{llm: llm, config: config, logger: logger, clock: clock, history: history}, nil
}

// WithMetrics attaches adaptation counters. Optional; a nil Metrics no-ops.
func (p *ExecutionPlanner) WithMetrics(m *observability.Metrics) *ExecutionPlanner {
	p.metrics = m
	return p
}

// CreatePlan maps each sub-task to a planned task with status pending,
// zero attempts, and confidence 0.8, and registers the built-in
// contingencies.
func (p *ExecutionPlanner) CreatePlan(decomposition *TaskDecomposition, agentCtx AgentContext) *ExecutionPlan {
	now := p.clock.Now()
	tasks := make([]*PlannedTask, 0, len(decomposition.SubTasks))
	for _, st := range decomposition.SubTasks {
		tasks = append(tasks, &PlannedTask{
			SubTask:    st,
			Status:     TaskStatusPending,
			Confidence: 0.8,
		})
	}

	plan := &ExecutionPlan{
		ID:           id.NewPlanID(),
		OriginalGoal: decomposition.Goal,
		CurrentGoal:  decomposition.Goal,
		Tasks:        tasks,
		Dependencies: decomposition.Dependencies,
		Status:       PlanStatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.config.EnableContingencies {
		plan.Contingencies = p.builtinContingencies()
	}

	// Tasks with no blocking dependency can run immediately.
	for _, t := range plan.Tasks {
		if p.dependenciesSatisfied(plan, t.ID) {
			t.Status = TaskStatusReady
		}
	}

	p.recomputeMetrics(plan)
	p.logger.Info("planner: created plan %s with %d tasks", plan.ID, len(plan.Tasks))
	return plan
}

func (p *ExecutionPlanner) builtinContingencies() []*ContingencyPlan {
	return []*ContingencyPlan{
		{
			ID:        id.NewContingencyID(),
			Trigger:   TriggerTaskFailure,
			Condition: "task failed and retry budget exhausted",
			Actions: []ContingencyAction{
				{Kind: ActionRetry, Params: map[string]any{"max_retries": p.config.MaxRetries}},
				{Kind: ActionSkip},
			},
			Priority: 2,
		},
		{
			ID:        id.NewContingencyID(),
			Trigger:   TriggerTimeout,
			Condition: "task ran past its estimate by the timeout multiplier",
			Actions: []ContingencyAction{
				{Kind: ActionModify, Params: map[string]any{"multiplier": p.config.TimeoutMultiplier}},
			},
			Priority: 1,
		},
	}
}

// Start moves the plan into executing. Only a created or paused plan can
// start.
func (p *ExecutionPlanner) Start(plan *ExecutionPlan) error {
	switch plan.Status {
	case PlanStatusCreated, PlanStatusPaused:
		plan.Status = PlanStatusExecuting
		plan.UpdatedAt = p.clock.Now()
		return nil
	default:
		return fmt.Errorf("cannot start plan in status %s", plan.Status)
	}
}

// Pause suspends an executing plan; Start resumes it.
func (p *ExecutionPlanner) Pause(plan *ExecutionPlan) error {
	if plan.Status != PlanStatusExecuting {
		return fmt.Errorf("cannot pause plan in status %s", plan.Status)
	}
	plan.Status = PlanStatusPaused
	plan.UpdatedAt = p.clock.Now()
	return nil
}

// Cancel terminates the plan without completing it.
func (p *ExecutionPlanner) Cancel(plan *ExecutionPlan) {
	plan.Status = PlanStatusCancelled
	plan.UpdatedAt = p.clock.Now()
}

// NextTask returns the highest-priority runnable task, or nil when nothing
// is runnable. Runnable means status ready, or pending with every
// non-optional dependency completed. Only valid while the plan is executing.
func (p *ExecutionPlanner) NextTask(plan *ExecutionPlan) *PlannedTask {
	if plan.Status != PlanStatusExecuting {
		return nil
	}

	var best *PlannedTask
	for _, t := range plan.Tasks {
		runnable := t.Status == TaskStatusReady ||
			(t.Status == TaskStatusPending && p.dependenciesSatisfied(plan, t.ID))
		if !runnable {
			continue
		}
		if best == nil || t.Priority > best.Priority {
			best = t
		}
	}
	return best
}

// dependenciesSatisfied reports whether every non-optional dependency of the
// task is completed.
func (p *ExecutionPlanner) dependenciesSatisfied(plan *ExecutionPlan, taskID string) bool {
	for _, dep := range plan.Dependencies {
		if dep.ToTask != taskID || dep.Optional {
			continue
		}
		from := plan.Task(dep.FromTask)
		if from == nil || from.Status != TaskStatusCompleted {
			return false
		}
	}
	return true
}

// UpdateTaskStatus applies one status transition and everything that hangs
// off it: timestamps, attempt counting, metrics, adaptation, dependency
// propagation, and contingency evaluation.
func (p *ExecutionPlanner) UpdateTaskStatus(ctx context.Context, plan *ExecutionPlan, taskID string, status TaskStatus, result string, taskErr error) error {
	task := plan.Task(taskID)
	if task == nil {
		return fmt.Errorf("unknown task %q", taskID)
	}

	now := p.clock.Now()
	if status == TaskStatusExecuting {
		if task.ActualStartTime == nil {
			task.ActualStartTime = &now
		}
		task.Attempts++
	}
	if status.Terminal() {
		task.ActualEndTime = &now
		if task.ActualStartTime != nil {
			task.ActualDuration = now.Sub(*task.ActualStartTime)
		}
	}
	if result != "" {
		task.Result = result
	}
	if taskErr != nil {
		task.Errors = append(task.Errors, taskErr.Error())
	}
	task.Status = status
	plan.UpdatedAt = now

	p.recomputeMetrics(plan)

	if p.shouldAdapt(task, status) {
		p.AdaptPlan(ctx, plan, task, result, taskErr)
	}

	if status == TaskStatusCompleted {
		p.propagateCompletion(plan)
	}

	p.evaluateContingencies(plan, task, status)
	return nil
}

// shouldAdapt applies the adaptation trigger policy: failure, overrun past
// the timeout multiplier, or confidence below threshold.
func (p *ExecutionPlanner) shouldAdapt(task *PlannedTask, status TaskStatus) bool {
	if !p.config.EnableRealtimeAdapt {
		return false
	}
	if status == TaskStatusFailed {
		return true
	}
	if status == TaskStatusCompleted && task.EstimatedDuration > 0 {
		ratio := float64(task.ActualDuration) / float64(task.EstimatedDuration)
		if ratio > p.config.TimeoutMultiplier {
			return true
		}
	}
	return task.Confidence < p.config.ConfidenceThreshold
}

// propagateCompletion promotes every pending task whose blocking
// dependencies are now all completed.
func (p *ExecutionPlanner) propagateCompletion(plan *ExecutionPlan) {
	for _, t := range plan.Tasks {
		if t.Status == TaskStatusPending && p.dependenciesSatisfied(plan, t.ID) {
			t.Status = TaskStatusReady
			p.logger.Debug("planner: task %s is now ready", t.ID)
		}
	}
}

// evaluateContingencies fires the first matching un-activated contingency.
// Each contingency fires at most once per plan.
func (p *ExecutionPlanner) evaluateContingencies(plan *ExecutionPlan, task *PlannedTask, status TaskStatus) {
	for _, c := range plan.Contingencies {
		if c.Activated || !p.contingencyMatches(c, task, status) {
			continue
		}
		c.Activated = true
		p.logger.Info("planner: contingency %s (%s) fired for task %s", c.ID, c.Trigger, task.ID)
		p.applyContingency(plan, c, task)
		return
	}
}

func (p *ExecutionPlanner) contingencyMatches(c *ContingencyPlan, task *PlannedTask, status TaskStatus) bool {
	switch c.Trigger {
	case TriggerTaskFailure:
		return status == TaskStatusFailed && task.Attempts >= p.config.MaxRetries
	case TriggerTimeout:
		return status.Terminal() && task.EstimatedDuration > 0 &&
			float64(task.ActualDuration) > float64(task.EstimatedDuration)*p.config.TimeoutMultiplier
	default:
		return false
	}
}

func (p *ExecutionPlanner) applyContingency(plan *ExecutionPlan, c *ContingencyPlan, task *PlannedTask) {
	for _, action := range c.Actions {
		switch action.Kind {
		case ActionRetry:
			task.Status = TaskStatusReady
			task.Attempts = 0
			task.Adaptations = append(task.Adaptations, "retried by contingency "+c.ID)
			return
		case ActionSkip:
			task.Status = TaskStatusSkipped
			task.Adaptations = append(task.Adaptations, "skipped by contingency "+c.ID)
			return
		case ActionModify:
			multiplier := p.config.TimeoutMultiplier
			if m, ok := action.Params["multiplier"].(float64); ok && m > 0 {
				multiplier = m
			}
			for _, t := range plan.Tasks {
				if !t.Status.Terminal() {
					t.EstimatedDuration = time.Duration(float64(t.EstimatedDuration) * multiplier)
				}
			}
			return
		case ActionEscalate:
			p.logger.Warn("planner: contingency %s escalated on task %s: %s", c.ID, task.ID, c.Condition)
			return
		}
	}
}

type adaptationResponse struct {
	Adaptations []adaptationChange `json:"adaptations"`
}

type adaptationChange struct {
	Target string `json:"target"` // "plan" or "task"
	TaskID string `json:"task_id"`
	Field  string `json:"field"`
	Value  any    `json:"value"`
	Reason string `json:"reason"`
}

// AdaptPlan asks the reasoning service how to revise the plan after a task
// outcome and applies the parsed field-level changes. Bounded by
// MaxAdaptations; parse failures apply nothing. Never returns an error.
func (p *ExecutionPlanner) AdaptPlan(ctx context.Context, plan *ExecutionPlan, task *PlannedTask, result string, taskErr error) {
	if len(plan.Adaptations) >= p.config.MaxAdaptations {
		p.logger.Debug("planner: adaptation budget exhausted for plan %s", plan.ID)
		return
	}

	resp, err := p.llm.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: adaptationPrompt},
			{Role: "user", Content: formatAdaptationContext(plan, task, result, taskErr)},
		},
		Options: ports.ChatOptions{Temperature: 0.2, MaxTokens: 1000},
	})
	if err != nil {
		p.logger.Warn("planner: adaptation call failed, keeping plan unchanged: %v", err)
		return
	}

	var parsed adaptationResponse
	if !decodeModelJSON(resp.Content, &parsed) || len(parsed.Adaptations) == 0 {
		p.logger.Debug("planner: no usable adaptations in response")
		return
	}

	applied := 0
	for _, change := range parsed.Adaptations {
		if p.applyAdaptation(plan, change) {
			applied++
		}
	}
	if applied == 0 {
		return
	}

	plan.Adaptations = append(plan.Adaptations, PlanAdaptation{
		ID:          id.NewAdaptationID(),
		TaskID:      task.ID,
		Reason:      adaptationReason(task, taskErr),
		Description: fmt.Sprintf("applied %d change(s) after task %s", applied, task.ID),
		AppliedAt:   p.clock.Now(),
	})
	p.metrics.PlanAdapted()
	p.logger.Info("planner: adapted plan %s (%d change(s))", plan.ID, applied)
}

func (p *ExecutionPlanner) applyAdaptation(plan *ExecutionPlan, change adaptationChange) bool {
	switch change.Target {
	case "plan":
		if change.Field == "current_goal" {
			if goal, ok := change.Value.(string); ok && goal != "" {
				plan.CurrentGoal = goal
				return true
			}
		}
	case "task":
		task := plan.Task(change.TaskID)
		if task == nil || task.Status.Terminal() {
			return false
		}
		switch change.Field {
		case "priority":
			if v, ok := change.Value.(float64); ok {
				task.Priority = int(v)
				return true
			}
		case "estimated_duration_seconds":
			if v, ok := change.Value.(float64); ok && v > 0 {
				task.EstimatedDuration = time.Duration(v) * time.Second
				return true
			}
		case "description":
			if v, ok := change.Value.(string); ok && v != "" {
				task.Description = v
				return true
			}
		case "confidence":
			if v, ok := change.Value.(float64); ok {
				task.Confidence = clamp(v, 0, 1)
				return true
			}
		}
	}
	return false
}

func adaptationReason(task *PlannedTask, taskErr error) string {
	if taskErr != nil {
		return fmt.Sprintf("task %s failed: %v", task.ID, taskErr)
	}
	return fmt.Sprintf("task %s deviated from expectations", task.ID)
}

func formatAdaptationContext(plan *ExecutionPlan, task *PlannedTask, result string, taskErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", plan.CurrentGoal)
	fmt.Fprintf(&b, "Task %s (%s) finished with status %s after %d attempt(s).\n", task.ID, task.Title, task.Status, task.Attempts)
	if result != "" {
		fmt.Fprintf(&b, "Result: %s\n", result)
	}
	if taskErr != nil {
		fmt.Fprintf(&b, "Error: %v\n", taskErr)
	}
	b.WriteString("\nRemaining tasks:\n")
	for _, t := range plan.Tasks {
		if t.Status.Terminal() {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s (status %s, priority %d, estimate %s)\n",
			t.ID, t.Title, t.Status, t.Priority, t.EstimatedDuration)
	}
	return b.String()
}

// PlanProgress summarizes how far a plan has come.
type PlanProgress struct {
	Overall                float64
	CurrentTask            *PlannedTask
	EstimatedTimeRemaining time.Duration
	Confidence             float64
}

// Progress reports completion ratio, the currently executing task, remaining
// estimated time, and mean task confidence.
func (p *ExecutionPlanner) Progress(plan *ExecutionPlan) PlanProgress {
	progress := PlanProgress{}
	if len(plan.Tasks) == 0 {
		return progress
	}

	completed := 0
	var confidence float64
	for _, t := range plan.Tasks {
		confidence += t.Confidence
		switch t.Status {
		case TaskStatusCompleted:
			completed++
		case TaskStatusPending, TaskStatusReady, TaskStatusExecuting:
			progress.EstimatedTimeRemaining += t.EstimatedDuration
		}
		if t.Status == TaskStatusExecuting && progress.CurrentTask == nil {
			progress.CurrentTask = t
		}
	}
	progress.Overall = float64(completed) / float64(len(plan.Tasks))
	progress.Confidence = confidence / float64(len(plan.Tasks))
	return progress
}

// CompletePlan sets the terminal status, recomputes metrics, and archives
// the plan to the execution history.
func (p *ExecutionPlanner) CompletePlan(plan *ExecutionPlan, success bool) {
	if success {
		plan.Status = PlanStatusCompleted
	} else {
		plan.Status = PlanStatusFailed
	}
	plan.UpdatedAt = p.clock.Now()
	p.recomputeMetrics(plan)
	p.history.Add(plan.ID, plan)
	p.logger.Info("planner: plan %s finished with status %s (%d/%d tasks completed)",
		plan.ID, plan.Status, plan.Metrics.CompletedTasks, plan.Metrics.TotalTasks)
}

// ArchivedPlan returns a previously completed plan from the execution
// history, if it is still cached.
func (p *ExecutionPlanner) ArchivedPlan(planID string) (*ExecutionPlan, bool) {
	return p.history.Get(planID)
}

func (p *ExecutionPlanner) recomputeMetrics(plan *ExecutionPlan) {
	m := PlanMetrics{TotalTasks: len(plan.Tasks)}
	var estimated, actual time.Duration
	failures := 0
	for _, t := range plan.Tasks {
		m.TotalAttempts += t.Attempts
		failures += len(t.Errors)
		switch t.Status {
		case TaskStatusCompleted:
			m.CompletedTasks++
			estimated += t.EstimatedDuration
			actual += t.ActualDuration
		case TaskStatusFailed:
			m.FailedTasks++
		case TaskStatusSkipped:
			m.SkippedTasks++
		}
	}
	if actual > 0 {
		m.EfficiencyRatio = float64(estimated) / float64(actual)
	}
	if m.TotalAttempts > 0 {
		m.ErrorRate = float64(failures) / float64(m.TotalAttempts)
	}
	plan.Metrics = m
}

const adaptationPrompt = "" +
	"You revise execution plans after a task outcome. Output ONLY valid JSON\n" +
	"with the shape {\"adaptations\": [{\"target\": \"task\", \"task_id\": \"task_2\",\n" +
	"\"field\": \"priority\", \"value\": 3, \"reason\": \"...\"}]}.\n" +
	"target is \"plan\" or \"task\". Plan fields: current_goal. Task fields:\n" +
	"priority, estimated_duration_seconds, description, confidence.\n" +
	"Output {\"adaptations\": []} when no change is warranted.\n"
