package domain

import (
	"time"

	"otto/internal/agent/ports"
)

// AgentContext carries the caller-supplied execution constraints for one
// engine run. It is read-only once handed to the engine.
type AgentContext struct {
	SessionID    string
	AllowedTools []string
	BlockedTools []string
	Constraints  []string
	MaxSteps     int
	MaxDuration  time.Duration
}

// TaskType categorizes what a sub-task does.
type TaskType string

const (
	TaskTypeInformationGathering TaskType = "information_gathering"
	TaskTypeDataProcessing       TaskType = "data_processing"
	TaskTypeAnalysis             TaskType = "analysis"
	TaskTypeSynthesis            TaskType = "synthesis"
	TaskTypeValidation           TaskType = "validation"
	TaskTypeExecution            TaskType = "execution"
	TaskTypeCommunication        TaskType = "communication"
)

// SubTask is one decomposed unit of work toward the goal.
type SubTask struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	Type               TaskType          `json:"type"`
	Priority           int               `json:"priority"`
	EstimatedDuration  time.Duration     `json:"estimated_duration"`
	RequiredTools      []string          `json:"required_tools,omitempty"`
	Inputs             map[string]string `json:"inputs,omitempty"`  // name -> type
	Outputs            map[string]string `json:"outputs,omitempty"` // name -> type
	SuccessCriteria    []string          `json:"success_criteria,omitempty"`
	FallbackStrategies []string          `json:"fallback_strategies,omitempty"`
}

// DependencyKind categorizes an edge in the task dependency graph.
type DependencyKind string

const (
	DependencySequential      DependencyKind = "sequential"
	DependencyParallel        DependencyKind = "parallel"
	DependencyConditional     DependencyKind = "conditional"
	DependencyResourceSharing DependencyKind = "resource_sharing"
)

// TaskDependency is a directed edge FromTask -> ToTask: ToTask depends on
// FromTask. Optional dependencies never block scheduling.
type TaskDependency struct {
	FromTask string         `json:"from_task"`
	ToTask   string         `json:"to_task"`
	Kind     DependencyKind `json:"kind"`
	Optional bool           `json:"optional,omitempty"`
}

// RiskFactor is one anticipated failure mode of the decomposition.
type RiskFactor struct {
	Description string  `json:"description"`
	Probability float64 `json:"probability"` // clamped to [0.1, 1.0]
	Impact      float64 `json:"impact"`      // clamped to [0.1, 1.0]
	Mitigation  string  `json:"mitigation,omitempty"`
}

// TaskDecomposition is the static output of breaking a goal into sub-tasks.
// Immutable once returned by the decomposer.
type TaskDecomposition struct {
	Goal            string           `json:"goal"`
	SubTasks        []SubTask        `json:"sub_tasks"`
	Dependencies    []TaskDependency `json:"dependencies"`
	Complexity      float64          `json:"complexity"` // [1,10]
	Capabilities    []string         `json:"capabilities,omitempty"`
	RiskFactors     []RiskFactor     `json:"risk_factors,omitempty"`
	SuccessCriteria []string         `json:"success_criteria"`
}

// TaskStatus is the live status of a planned task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusExecuting TaskStatus = "executing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusBlocked   TaskStatus = "blocked"
)

// Terminal reports whether the status ends a task's lifecycle.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	}
	return false
}

// PlannedTask is a SubTask extended with live execution state. Owned
// exclusively by one ExecutionPlan; mutate only through the planner.
type PlannedTask struct {
	SubTask

	Status          TaskStatus    `json:"status"`
	Attempts        int           `json:"attempts"`
	ActualStartTime *time.Time    `json:"actual_start_time,omitempty"`
	ActualEndTime   *time.Time    `json:"actual_end_time,omitempty"`
	ActualDuration  time.Duration `json:"actual_duration,omitempty"`
	Result          string        `json:"result,omitempty"`
	Errors          []string      `json:"errors,omitempty"`
	Adaptations     []string      `json:"adaptations,omitempty"`
	Confidence      float64       `json:"confidence"` // [0,1]
}

// PlanStatus is the lifecycle state of an execution plan.
type PlanStatus string

const (
	PlanStatusCreated   PlanStatus = "created"
	PlanStatusExecuting PlanStatus = "executing"
	PlanStatusPaused    PlanStatus = "paused"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// PlanMetrics aggregates execution statistics for a plan.
type PlanMetrics struct {
	TotalTasks      int     `json:"total_tasks"`
	CompletedTasks  int     `json:"completed_tasks"`
	FailedTasks     int     `json:"failed_tasks"`
	SkippedTasks    int     `json:"skipped_tasks"`
	TotalAttempts   int     `json:"total_attempts"`
	EfficiencyRatio float64 `json:"efficiency_ratio"` // estimated/actual over completed tasks
	ErrorRate       float64 `json:"error_rate"`       // failed attempts / total attempts
}

// PlanAdaptation is one audit-trail entry describing a plan revision.
type PlanAdaptation struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id,omitempty"`
	Reason      string    `json:"reason"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// ExecutionPlan is the live, mutable execution state built from a
// decomposition. Single-writer: only the ExecutionPlanner mutates it.
type ExecutionPlan struct {
	ID            string             `json:"id"`
	OriginalGoal  string             `json:"original_goal"`
	CurrentGoal   string             `json:"current_goal"`
	Tasks         []*PlannedTask     `json:"tasks"`
	Dependencies  []TaskDependency   `json:"dependencies"`
	Status        PlanStatus         `json:"status"`
	Adaptations   []PlanAdaptation   `json:"adaptations,omitempty"`
	Metrics       PlanMetrics        `json:"metrics"`
	Contingencies []*ContingencyPlan `json:"contingencies,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Task returns the planned task with the given id, or nil.
func (p *ExecutionPlan) Task(id string) *PlannedTask {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ContingencyTrigger names the failure mode a contingency reacts to.
type ContingencyTrigger string

const (
	TriggerTaskFailure         ContingencyTrigger = "task_failure"
	TriggerTimeout             ContingencyTrigger = "timeout"
	TriggerResourceUnavailable ContingencyTrigger = "resource_unavailable"
	TriggerGoalChange          ContingencyTrigger = "goal_change"
	TriggerExternalEvent       ContingencyTrigger = "external_event"
)

// ContingencyActionKind is what a fired contingency does.
type ContingencyActionKind string

const (
	ActionRetry      ContingencyActionKind = "retry"
	ActionSkip       ContingencyActionKind = "skip"
	ActionModify     ContingencyActionKind = "modify"
	ActionSubstitute ContingencyActionKind = "substitute"
	ActionEscalate   ContingencyActionKind = "escalate"
)

// ContingencyAction is one ordered reaction step.
type ContingencyAction struct {
	Kind   ContingencyActionKind `json:"kind"`
	Params map[string]any        `json:"params,omitempty"`
}

// ContingencyPlan is a pre-registered reaction to an anticipated failure
// mode. Fires at most once.
type ContingencyPlan struct {
	ID        string              `json:"id"`
	Trigger   ContingencyTrigger  `json:"trigger"`
	Condition string              `json:"condition"`
	Actions   []ContingencyAction `json:"actions"`
	Priority  int                 `json:"priority"`
	Activated bool                `json:"activated"`
}

// StepKind classifies an entry in the agent step log.
type StepKind string

const (
	StepThought     StepKind = "thought"
	StepPlan        StepKind = "plan"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
	StepReflection  StepKind = "reflection"
)

// AgentStep is one immutable, append-only log entry of a loop run.
type AgentStep struct {
	ID        string         `json:"id"`
	Kind      StepKind       `json:"kind"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AgentResult is the terminal summary of one loop run, the sole artifact
// handed to the presentation layer.
type AgentResult struct {
	ID        string        `json:"id"`
	Success   bool          `json:"success"`
	Answer    string        `json:"answer"`
	Steps     []AgentStep   `json:"steps"`
	ToolsUsed []string      `json:"tools_used,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// AgentState is the loop's lifecycle state.
type AgentState string

const (
	StateIdle       AgentState = "idle"
	StateThinking   AgentState = "thinking"
	StatePlanning   AgentState = "planning"
	StateExecuting  AgentState = "executing"
	StateReflecting AgentState = "reflecting"
	StateCompleted  AgentState = "completed"
	StatePaused     AgentState = "paused"
	StateError      AgentState = "error"
)

// RunObserver receives loop progress without the loop knowing who listens.
// Callers subscribe explicitly; core methods never broadcast implicitly.
type RunObserver interface {
	OnStep(step AgentStep)
	OnStateChange(from, to AgentState)
}

// Services bundles the collaborators the domain engine needs.
type Services struct {
	LLM   ports.ReasoningClient
	Tools ports.ToolRunner
}
