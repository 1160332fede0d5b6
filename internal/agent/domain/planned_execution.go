package domain

import (
	"context"
	"fmt"
	"strings"

	"otto/internal/agent/ports"
	"otto/internal/utils/id"
)

// maxStepsPerTask bounds the mini action loop run for each planned task.
const maxStepsPerTask = 3

// PlannedExecution drives complex goals through the full pipeline:
// decompose, build a plan, execute tasks in dependency order through the
// loop's action machinery, and synthesize a final answer from the task
// results.
type PlannedExecution struct {
	loop       *AgenticLoop
	decomposer *TaskDecomposer
	planner    *ExecutionPlanner
	logger     ports.Logger
}

// NewPlannedExecution wires the planned path over an existing loop.
func NewPlannedExecution(loop *AgenticLoop, decomposer *TaskDecomposer, planner *ExecutionPlanner, logger ports.Logger) *PlannedExecution {
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	return &PlannedExecution{loop: loop, decomposer: decomposer, planner: planner, logger: logger}
}

// Execute runs the planned path for one goal. Individual task failures feed
// the planner's contingency and adaptation machinery; only context
// cancellation aborts the run outright.
func (e *PlannedExecution) Execute(ctx context.Context, goal string, agentCtx AgentContext) (*AgentResult, error) {
	l := e.loop
	l.aborted.Store(false)
	r := &run{id: id.NewRunID(), goal: goal, start: l.clock.Now(), toolSeen: make(map[string]bool)}

	ctx, span := l.tracer.Start(ctx, "agent.execute_planned")
	defer span.End()

	l.setState(StatePlanning)
	decomposition := e.decomposer.Decompose(ctx, goal, agentCtx)
	plan := e.planner.CreatePlan(decomposition, agentCtx)
	if err := e.planner.Start(plan); err != nil {
		return l.fail(r, err)
	}
	l.record(r, StepPlan, formatPlanSummary(plan), map[string]any{"plan_id": plan.ID})

	l.setState(StateExecuting)

	// Retries can re-ready a task, so bound total executions rather than
	// trusting NextTask to run dry.
	budget := len(plan.Tasks) * (e.planner.config.MaxRetries + 2)
	for executed := 0; executed < budget; executed++ {
		if l.aborted.Load() || ctx.Err() != nil {
			e.planner.Cancel(plan)
			return l.fail(r, fmt.Errorf("run aborted"))
		}

		task := e.planner.NextTask(plan)
		if task == nil {
			break
		}

		if err := e.planner.UpdateTaskStatus(ctx, plan, task.ID, TaskStatusExecuting, "", nil); err != nil {
			return l.fail(r, err)
		}
		result, err := e.runTask(ctx, r, task)
		if err != nil {
			e.logger.Warn("planned execution: task %s failed: %v", task.ID, err)
			if uerr := e.planner.UpdateTaskStatus(ctx, plan, task.ID, TaskStatusFailed, "", err); uerr != nil {
				return l.fail(r, uerr)
			}
			continue
		}
		if uerr := e.planner.UpdateTaskStatus(ctx, plan, task.ID, TaskStatusCompleted, result, nil); uerr != nil {
			return l.fail(r, uerr)
		}
	}

	success := plan.Metrics.CompletedTasks > 0 && plan.Metrics.FailedTasks == 0
	e.planner.CompletePlan(plan, success)

	answer := e.synthesizeAnswer(ctx, goal, plan)
	l.setState(StateCompleted)

	result := &AgentResult{
		ID:        r.id,
		Success:   success,
		Answer:    answer,
		Steps:     r.steps,
		ToolsUsed: r.toolsUsed,
		Duration:  l.clock.Now().Sub(r.start),
	}
	if !success {
		result.Error = fmt.Sprintf("%d of %d task(s) did not complete",
			plan.Metrics.TotalTasks-plan.Metrics.CompletedTasks, plan.Metrics.TotalTasks)
	}
	l.metrics.RunFinished(success)
	return result, nil
}

// runTask executes one planned task through a bounded action loop. The
// task's final answer becomes its recorded result.
func (e *PlannedExecution) runTask(ctx context.Context, r *run, task *PlannedTask) (string, error) {
	l := e.loop
	taskGoal := fmt.Sprintf("%s: %s", task.Title, task.Description)

	var lastObservation string
	for i := 0; i < maxStepsPerTask; i++ {
		action, err := l.selectAction(ctx, taskGoal, r)
		if err != nil {
			return "", fmt.Errorf("action selection failed: %w", err)
		}

		if action.Type == "final_answer" {
			l.record(r, StepAction, fmt.Sprintf("final_answer: %s", action.Answer), map[string]any{
				"type":    "final_answer",
				"task_id": task.ID,
			})
			return action.Answer, nil
		}

		l.record(r, StepAction, fmt.Sprintf("tool_call: %s", action.ToolName), map[string]any{
			"type":       "tool_call",
			"task_id":    task.ID,
			"tool_name":  action.ToolName,
			"parameters": action.Parameters,
		})
		l.runTool(ctx, r, action)
		lastObservation = r.steps[len(r.steps)-1].Content
	}

	// No explicit answer within budget; the last observation stands in.
	if lastObservation != "" {
		return lastObservation, nil
	}
	return "", fmt.Errorf("no result within %d step(s)", maxStepsPerTask)
}

// synthesizeAnswer asks the reasoning service to merge the task results into
// one answer, degrading to a plain summary when the call fails.
func (e *PlannedExecution) synthesizeAnswer(ctx context.Context, goal string, plan *ExecutionPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\nTask results:\n", goal)
	for _, t := range plan.Tasks {
		if t.Result == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", t.Title, t.Status, t.Result)
	}

	resp, err := e.loop.services.LLM.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: synthesisPrompt},
			{Role: "user", Content: b.String()},
		},
		Options: ports.ChatOptions{Temperature: 0.5, MaxTokens: 800},
	})
	if err != nil {
		e.logger.Warn("planned execution: answer synthesis failed, using task summary: %v", err)
		return b.String()
	}
	if strings.TrimSpace(resp.Content) == "" {
		return b.String()
	}
	return strings.TrimSpace(resp.Content)
}

func formatPlanSummary(plan *ExecutionPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s (%d tasks):\n", plan.ID, len(plan.Tasks))
	for i, t := range plan.Tasks {
		fmt.Fprintf(&b, "%d. %s [%s, priority %d, estimate %s]\n",
			i+1, t.Title, t.Type, t.Priority, t.EstimatedDuration)
	}
	return strings.TrimSpace(b.String())
}

const synthesisPrompt = "" +
	"You merge task results into one final answer for the original goal.\n" +
	"Respond with the answer only. No preamble, no task-by-task recap.\n"
