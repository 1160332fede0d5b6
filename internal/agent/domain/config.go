package domain

import "time"

// DecomposerConfig bounds and gates the decomposition stages.
type DecomposerConfig struct {
	MaxSubTasks        int
	MinTaskDuration    time.Duration
	EnableRiskAnalysis bool
	EnableOptimization bool
	CriticalPathBonus  int
}

// DefaultDecomposerConfig returns the decomposer defaults.
func DefaultDecomposerConfig() DecomposerConfig {
	return DecomposerConfig{
		MaxSubTasks:        20,
		MinTaskDuration:    30 * time.Second,
		EnableRiskAnalysis: true,
		EnableOptimization: true,
		CriticalPathBonus:  2,
	}
}

// PlannerConfig bounds the planner's adaptation and contingency behavior.
type PlannerConfig struct {
	MaxAdaptations       int
	MaxRetries           int
	TimeoutMultiplier    float64
	ConfidenceThreshold  float64
	EnableContingencies  bool
	EnableRealtimeAdapt  bool
	ExecutionHistorySize int
}

// DefaultPlannerConfig returns the planner defaults.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxAdaptations:       5,
		MaxRetries:           3,
		TimeoutMultiplier:    1.5,
		ConfidenceThreshold:  0.4,
		EnableContingencies:  true,
		EnableRealtimeAdapt:  true,
		ExecutionHistorySize: 64,
	}
}

// LoopConfig bounds one agentic loop run.
type LoopConfig struct {
	MaxSteps         int
	MaxDuration      time.Duration
	EnablePlanning   bool
	EnableReflection bool
}

// DefaultLoopConfig returns the loop defaults.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxSteps:         10,
		MaxDuration:      5 * time.Minute,
		EnablePlanning:   true,
		EnableReflection: true,
	}
}
