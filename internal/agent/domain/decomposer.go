package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"otto/internal/agent/ports"
	"otto/internal/observability"
)

// TaskDecomposer turns a goal string into a dependency-aware breakdown of
// sub-tasks. Every reasoning call has a deterministic fallback, so Decompose
// always returns a usable decomposition and never an error.
type TaskDecomposer struct {
	llm     ports.ReasoningClient
	config  DecomposerConfig
	logger  ports.Logger
	clock   ports.Clock
	metrics *observability.Metrics
}

// NewTaskDecomposer wires a decomposer. A nil logger or clock falls back to
// the no-op/system defaults.
func NewTaskDecomposer(llm ports.ReasoningClient, config DecomposerConfig, logger ports.Logger, clock ports.Clock) *TaskDecomposer {
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &TaskDecomposer{llm: llm, config: config, logger: logger, clock: clock}
}

// WithMetrics attaches fallback counters. Optional; a nil Metrics no-ops.
func (d *TaskDecomposer) WithMetrics(m *observability.Metrics) *TaskDecomposer {
	d.metrics = m
	return d
}

// Decompose runs the full pipeline: complexity analysis, breakdown,
// refinement, dependency analysis, optional risk analysis, optional
// execution-order optimization, success criteria.
func (d *TaskDecomposer) Decompose(ctx context.Context, goal string, agentCtx AgentContext) *TaskDecomposition {
	complexity, capabilities := d.analyzeComplexity(ctx, goal)
	d.logger.Debug("decomposer: goal complexity %.1f, capabilities %v", complexity, capabilities)

	tasks := d.breakdown(ctx, goal, complexity)
	tasks = d.refine(tasks, agentCtx)

	deps := d.analyzeDependencies(ctx, goal, tasks)

	var risks []RiskFactor
	if d.config.EnableRiskAnalysis {
		risks = d.analyzeRisks(ctx, goal, tasks)
	}

	if d.config.EnableOptimization {
		tasks = d.optimizeOrder(tasks, deps)
	}

	criteria := d.successCriteria(ctx, goal)

	return &TaskDecomposition{
		Goal:            goal,
		SubTasks:        tasks,
		Dependencies:    deps,
		Complexity:      complexity,
		Capabilities:    capabilities,
		RiskFactors:     risks,
		SuccessCriteria: criteria,
	}
}

type complexityResponse struct {
	Complexity   float64  `json:"complexity"`
	Factors      []string `json:"factors"`
	Capabilities []string `json:"capabilities"`
}

func (d *TaskDecomposer) analyzeComplexity(ctx context.Context, goal string) (float64, []string) {
	resp, err := d.llm.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: complexityPrompt},
			{Role: "user", Content: goal},
		},
		Options: ports.ChatOptions{Temperature: 0.2, MaxTokens: 300},
	})
	if err != nil {
		d.logger.Warn("decomposer: complexity call failed, using defaults: %v", err)
		d.metrics.FallbackUsed("complexity")
		return 5, []string{"general"}
	}

	var parsed complexityResponse
	if !decodeModelJSON(resp.Content, &parsed) || parsed.Complexity == 0 {
		d.logger.Warn("decomposer: unparsable complexity response, using defaults")
		d.metrics.FallbackUsed("complexity")
		return 5, []string{"general"}
	}

	score := clamp(parsed.Complexity, 1, 10)
	caps := parsed.Capabilities
	if len(caps) == 0 {
		caps = []string{"general"}
	}
	return score, caps
}

type breakdownResponse struct {
	Tasks []breakdownTask `json:"tasks"`
}

type breakdownTask struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Type            string   `json:"type"`
	Priority        int      `json:"priority"`
	DurationSeconds int64    `json:"estimated_duration_seconds"`
	RequiredTools   []string `json:"required_tools"`
	SuccessCriteria []string `json:"success_criteria"`
}

func (d *TaskDecomposer) breakdown(ctx context.Context, goal string, complexity float64) []SubTask {
	prompt := fmt.Sprintf(breakdownPrompt, d.config.MaxSubTasks)
	resp, err := d.llm.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: fmt.Sprintf("Goal (complexity %.1f/10): %s", complexity, goal)},
		},
		Options: ports.ChatOptions{Temperature: 0.3, MaxTokens: 2000},
	})
	if err != nil {
		d.logger.Warn("decomposer: breakdown call failed, using fallback tasks: %v", err)
		d.metrics.FallbackUsed("breakdown")
		return fallbackBreakdown(goal)
	}

	var parsed breakdownResponse
	if !decodeModelJSON(resp.Content, &parsed) || len(parsed.Tasks) == 0 {
		d.logger.Warn("decomposer: unparsable breakdown response, using fallback tasks")
		d.metrics.FallbackUsed("breakdown")
		return fallbackBreakdown(goal)
	}

	tasks := make([]SubTask, 0, len(parsed.Tasks))
	for _, t := range parsed.Tasks {
		tasks = append(tasks, SubTask{
			ID:                t.ID,
			Title:             t.Title,
			Description:       t.Description,
			Type:              normalizeTaskType(t.Type),
			Priority:          t.Priority,
			EstimatedDuration: time.Duration(t.DurationSeconds) * time.Second,
			RequiredTools:     t.RequiredTools,
			SuccessCriteria:   t.SuccessCriteria,
		})
	}
	if len(tasks) > d.config.MaxSubTasks {
		tasks = tasks[:d.config.MaxSubTasks]
	}
	return tasks
}

// fallbackBreakdown is the fixed two-task chain used when the model cannot
// produce a structured breakdown.
func fallbackBreakdown(goal string) []SubTask {
	return []SubTask{
		{
			ID:                "task_1",
			Title:             "Analyze Goal",
			Description:       fmt.Sprintf("Analyze the goal and gather required information: %s", goal),
			Type:              TaskTypeAnalysis,
			Priority:          2,
			EstimatedDuration: time.Minute,
		},
		{
			ID:                "task_2",
			Title:             "Execute Goal",
			Description:       fmt.Sprintf("Carry out the goal: %s", goal),
			Type:              TaskTypeExecution,
			Priority:          1,
			EstimatedDuration: 2 * time.Minute,
		},
	}
}

var taskTypes = map[string]TaskType{
	string(TaskTypeInformationGathering): TaskTypeInformationGathering,
	string(TaskTypeDataProcessing):       TaskTypeDataProcessing,
	string(TaskTypeAnalysis):             TaskTypeAnalysis,
	string(TaskTypeSynthesis):            TaskTypeSynthesis,
	string(TaskTypeValidation):           TaskTypeValidation,
	string(TaskTypeExecution):            TaskTypeExecution,
	string(TaskTypeCommunication):        TaskTypeCommunication,
}

func normalizeTaskType(raw string) TaskType {
	if t, ok := taskTypes[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return t
	}
	return TaskTypeExecution
}

// refine drops malformed tasks, de-duplicates ids, and scales durations so
// the total fits the context budget without any task dropping below the
// configured minimum.
func (d *TaskDecomposer) refine(tasks []SubTask, agentCtx AgentContext) []SubTask {
	out := make([]SubTask, 0, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if t.ID == "" || t.Title == "" || t.Description == "" {
			d.logger.Debug("decomposer: dropping malformed task at index %d", i)
			continue
		}
		if seen[t.ID] {
			t.ID = fmt.Sprintf("%s_%d", t.ID, i)
		}
		seen[t.ID] = true
		if t.EstimatedDuration < d.config.MinTaskDuration {
			t.EstimatedDuration = d.config.MinTaskDuration
		}
		out = append(out, t)
	}

	if agentCtx.MaxDuration <= 0 || len(out) == 0 {
		return out
	}

	var total time.Duration
	for _, t := range out {
		total += t.EstimatedDuration
	}
	if total <= agentCtx.MaxDuration {
		return out
	}

	ratio := float64(agentCtx.MaxDuration) / float64(total)
	for i := range out {
		scaled := time.Duration(float64(out[i].EstimatedDuration) * ratio)
		if scaled < d.config.MinTaskDuration {
			scaled = d.config.MinTaskDuration
		}
		out[i].EstimatedDuration = scaled
	}
	return out
}

type dependencyResponse struct {
	Dependencies []dependencyEdge `json:"dependencies"`
}

type dependencyEdge struct {
	FromTask string `json:"from_task"`
	ToTask   string `json:"to_task"`
	Kind     string `json:"kind"`
	Optional bool   `json:"optional"`
}

func (d *TaskDecomposer) analyzeDependencies(ctx context.Context, goal string, tasks []SubTask) []TaskDependency {
	if len(tasks) < 2 {
		return nil
	}

	resp, err := d.llm.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: dependencyPrompt},
			{Role: "user", Content: formatTaskList(goal, tasks)},
		},
		Options: ports.ChatOptions{Temperature: 0.2, MaxTokens: 1000},
	})
	if err != nil {
		d.logger.Warn("decomposer: dependency call failed, using sequential chain: %v", err)
		d.metrics.FallbackUsed("dependencies")
		return sequentialChain(tasks)
	}

	var parsed dependencyResponse
	if !decodeModelJSON(resp.Content, &parsed) || len(parsed.Dependencies) == 0 {
		d.logger.Warn("decomposer: unparsable dependency response, using sequential chain")
		d.metrics.FallbackUsed("dependencies")
		return sequentialChain(tasks)
	}

	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}

	deps := make([]TaskDependency, 0, len(parsed.Dependencies))
	for _, e := range parsed.Dependencies {
		if !known[e.FromTask] || !known[e.ToTask] || e.FromTask == e.ToTask {
			continue
		}
		deps = append(deps, TaskDependency{
			FromTask: e.FromTask,
			ToTask:   e.ToTask,
			Kind:     normalizeDependencyKind(e.Kind),
			Optional: e.Optional,
		})
	}
	if len(deps) == 0 {
		return sequentialChain(tasks)
	}
	return deps
}

// sequentialChain links each task to its successor in list order.
func sequentialChain(tasks []SubTask) []TaskDependency {
	deps := make([]TaskDependency, 0, len(tasks)-1)
	for i := 0; i+1 < len(tasks); i++ {
		deps = append(deps, TaskDependency{
			FromTask: tasks[i].ID,
			ToTask:   tasks[i+1].ID,
			Kind:     DependencySequential,
		})
	}
	return deps
}

func normalizeDependencyKind(raw string) DependencyKind {
	switch DependencyKind(strings.ToLower(strings.TrimSpace(raw))) {
	case DependencyParallel:
		return DependencyParallel
	case DependencyConditional:
		return DependencyConditional
	case DependencyResourceSharing:
		return DependencyResourceSharing
	default:
		return DependencySequential
	}
}

type riskResponse struct {
	Risks []riskEntry `json:"risks"`
}

type riskEntry struct {
	Description string  `json:"description"`
	Probability float64 `json:"probability"`
	Impact      float64 `json:"impact"`
	Mitigation  string  `json:"mitigation"`
}

func (d *TaskDecomposer) analyzeRisks(ctx context.Context, goal string, tasks []SubTask) []RiskFactor {
	resp, err := d.llm.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: riskPrompt},
			{Role: "user", Content: formatTaskList(goal, tasks)},
		},
		Options: ports.ChatOptions{Temperature: 0.3, MaxTokens: 800},
	})
	if err != nil {
		d.logger.Warn("decomposer: risk call failed, skipping risk factors: %v", err)
		return nil
	}

	var parsed riskResponse
	if !decodeModelJSON(resp.Content, &parsed) {
		return nil
	}

	risks := make([]RiskFactor, 0, len(parsed.Risks))
	for _, r := range parsed.Risks {
		if r.Description == "" {
			continue
		}
		risks = append(risks, RiskFactor{
			Description: r.Description,
			Probability: clamp(r.Probability, 0.1, 1.0),
			Impact:      clamp(r.Impact, 0.1, 1.0),
			Mitigation:  r.Mitigation,
		})
	}
	return risks
}

// optimizeOrder reorders tasks into a valid linearization and bumps the
// priority of every critical-path task. A cyclic graph cannot be linearized,
// so the stage is skipped with the original order preserved.
func (d *TaskDecomposer) optimizeOrder(tasks []SubTask, deps []TaskDependency) []SubTask {
	ordered, ok := topologicalOrder(tasks, deps)
	if !ok {
		d.logger.Warn("decomposer: dependency graph is cyclic, keeping original task order")
		return tasks
	}

	onPath := make(map[string]bool)
	for _, id := range criticalPath(tasks, deps) {
		onPath[id] = true
	}
	for i := range ordered {
		if onPath[ordered[i].ID] {
			ordered[i].Priority += d.config.CriticalPathBonus
		}
	}
	return ordered
}

type criteriaResponse struct {
	Criteria []string `json:"criteria"`
}

func (d *TaskDecomposer) successCriteria(ctx context.Context, goal string) []string {
	resp, err := d.llm.Chat(ctx, ports.ChatRequest{
		Messages: []ports.Message{
			{Role: "system", Content: criteriaPrompt},
			{Role: "user", Content: goal},
		},
		Options: ports.ChatOptions{Temperature: 0.2, MaxTokens: 400},
	})
	if err != nil {
		d.logger.Warn("decomposer: criteria call failed, using default criteria: %v", err)
		d.metrics.FallbackUsed("criteria")
		return []string{"Goal completed successfully"}
	}

	var parsed criteriaResponse
	var criteria []string
	if decodeModelJSON(resp.Content, &parsed) && len(parsed.Criteria) > 0 {
		criteria = parsed.Criteria
	} else {
		criteria = splitLines(resp.Content)
	}
	if len(criteria) == 0 {
		return []string{"Goal completed successfully"}
	}
	if len(criteria) > 5 {
		criteria = criteria[:5]
	}
	return criteria
}

func formatTaskList(goal string, tasks []SubTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\nTasks:\n", goal)
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", t.ID, t.Title, t.Type)
	}
	return b.String()
}

const complexityPrompt = "" +
	"You analyze goal complexity. Output ONLY valid JSON with the shape\n" +
	"{\"complexity\": 5.0, \"factors\": [\"...\"], \"capabilities\": [\"...\"]}.\n" +
	"complexity is a score from 1 (trivial) to 10 (very complex).\n" +
	"capabilities names the skills needed, e.g. \"file_operations\", \"research\".\n"

const breakdownPrompt = "" +
	"You break goals into sub-tasks. Output ONLY valid JSON with the shape\n" +
	"{\"tasks\": [{\"id\": \"task_1\", \"title\": \"...\", \"description\": \"...\",\n" +
	"\"type\": \"...\", \"priority\": 1, \"estimated_duration_seconds\": 60,\n" +
	"\"required_tools\": [], \"success_criteria\": []}]}.\n" +
	"Constraints:\n" +
	"- 3 to %d tasks.\n" +
	"- type is one of: information_gathering, data_processing, analysis,\n" +
	"  synthesis, validation, execution, communication.\n" +
	"- Higher priority means more important.\n"

const dependencyPrompt = "" +
	"You identify dependencies between tasks. Output ONLY valid JSON with the\n" +
	"shape {\"dependencies\": [{\"from_task\": \"task_1\", \"to_task\": \"task_2\",\n" +
	"\"kind\": \"sequential\", \"optional\": false}]}.\n" +
	"kind is one of: sequential, parallel, conditional, resource_sharing.\n" +
	"to_task depends on from_task. Do not create circular dependencies.\n"

const riskPrompt = "" +
	"You identify execution risks. Output ONLY valid JSON with the shape\n" +
	"{\"risks\": [{\"description\": \"...\", \"probability\": 0.3, \"impact\": 0.6,\n" +
	"\"mitigation\": \"...\"}]}. probability and impact are in [0, 1].\n"

const criteriaPrompt = "" +
	"You define success criteria for a goal. Output ONLY valid JSON with the\n" +
	"shape {\"criteria\": [\"...\"]}. 3 to 5 concrete, verifiable criteria.\n"
