package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"otto/internal/agent/domain"
	"otto/internal/config"
	ottoerrors "otto/internal/errors"
	"otto/internal/llm"
	"otto/internal/logging"
	"otto/internal/observability"
	"otto/internal/toolrpc"
	"otto/internal/tools"
)

// NewRootCommand builds the otto CLI.
func NewRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "otto",
		Short: "Agentic task orchestration engine",
		Long: "otto turns a natural-language goal into an adaptive plan of\n" +
			"sub-tasks and executes it against a reasoning service and local tools.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")

	rootCmd.AddCommand(newRunCommand(&configPath))
	rootCmd.AddCommand(newToolsCommand(&configPath))
	return rootCmd
}

type engine struct {
	cfg     *config.Config
	logger  logging.Logger
	loop    *domain.AgenticLoop
	planned *domain.PlannedExecution
	runner  *toolrpc.LocalClient
}

// buildEngine wires the full stack: config, logging, reasoning client with
// retry, local tool server, and the loop with its planned path.
func buildEngine(configPath string) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Options{
		Level: logging.ParseLevel(cfg.Log.Level),
		Path:  cfg.Log.Path,
	})

	client := llm.NewOpenAIClient(llm.Config{
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	}, logger.WithComponent("llm"))
	if err := client.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("reasoning client: %w", err)
	}
	reasoning := llm.WrapWithRetry(client,
		ottoerrors.DefaultRetryConfig(),
		ottoerrors.DefaultCircuitBreakerConfig(),
		logger.WithComponent("llm-retry"))

	server := toolrpc.NewServer(toolrpc.ServerConfig{
		MaxConcurrent:  cfg.Tools.MaxConcurrent,
		RequestTimeout: cfg.Tools.RequestTimeout,
	}, logger.WithComponent("toolrpc"))
	root := toolsRoot(cfg)
	tools.RegisterBuiltins(server, root)
	server.SetResourceProvider(tools.NewFileResources(root))
	runner := toolrpc.NewLocalClient(server)

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	services := domain.Services{LLM: reasoning, Tools: runner}
	loop := domain.NewAgenticLoop(services, domain.LoopConfig{
		MaxSteps:         cfg.Engine.MaxSteps,
		MaxDuration:      cfg.Engine.MaxDuration,
		EnablePlanning:   cfg.Engine.EnablePlanning,
		EnableReflection: cfg.Engine.EnableReflection,
	}, logger.WithComponent("loop"), nil, metrics)

	decomposer := domain.NewTaskDecomposer(reasoning, domain.DecomposerConfig{
		MaxSubTasks:        cfg.Decomposer.MaxSubTasks,
		MinTaskDuration:    cfg.Decomposer.MinTaskDuration,
		EnableRiskAnalysis: cfg.Decomposer.EnableRiskAnalysis,
		EnableOptimization: cfg.Decomposer.EnableOptimization,
		CriticalPathBonus:  domain.DefaultDecomposerConfig().CriticalPathBonus,
	}, logger.WithComponent("decomposer"), nil).WithMetrics(metrics)

	planner, err := domain.NewExecutionPlanner(reasoning, domain.PlannerConfig{
		MaxAdaptations:       cfg.Planner.MaxAdaptations,
		MaxRetries:           cfg.Planner.MaxRetries,
		TimeoutMultiplier:    cfg.Planner.TimeoutMultiplier,
		ConfidenceThreshold:  cfg.Planner.ConfidenceThreshold,
		EnableContingencies:  cfg.Planner.EnableContingencies,
		EnableRealtimeAdapt:  cfg.Planner.EnableRealtimeAdapt,
		ExecutionHistorySize: domain.DefaultPlannerConfig().ExecutionHistorySize,
	}, logger.WithComponent("planner"), nil)
	if err != nil {
		return nil, err
	}
	planner.WithMetrics(metrics)

	return &engine{
		cfg:     cfg,
		logger:  logger,
		loop:    loop,
		planned: domain.NewPlannedExecution(loop, decomposer, planner, logger.WithComponent("planned")),
		runner:  runner,
	}, nil
}

func toolsRoot(cfg *config.Config) string {
	if cfg.Tools.Root != "" {
		return cfg.Tools.Root
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func newRunCommand(configPath *string) *cobra.Command {
	var usePlan bool
	var maxSteps int

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Execute a goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(*configPath)
			if err != nil {
				return err
			}
			goal := strings.Join(args, " ")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng.loop.Subscribe(&consoleObserver{})

			agentCtx := domain.AgentContext{MaxSteps: maxSteps}
			var result *domain.AgentResult
			if usePlan {
				result, err = eng.planned.Execute(ctx, goal, agentCtx)
			} else {
				result, err = eng.loop.Execute(ctx, goal, agentCtx)
			}
			if err != nil {
				return err
			}
			printResult(result)
			if !result.Success {
				return fmt.Errorf("run did not complete: %s", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&usePlan, "plan", "p", false, "decompose the goal and execute it as a plan")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "override the configured step budget")
	return cmd
}

func newToolsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(*configPath)
			if err != nil {
				return err
			}
			defs, err := eng.runner.List(cmd.Context())
			if err != nil {
				return err
			}
			bold := color.New(color.Bold)
			for _, d := range defs {
				bold.Fprintf(cmd.OutOrStdout(), "%s", d.Name)
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", d.Description)
			}
			return nil
		},
	}
}

// consoleObserver streams step progress to stderr while the run executes.
type consoleObserver struct{}

func (consoleObserver) OnStep(step domain.AgentStep) {
	dim := color.New(color.Faint)
	dim.Fprintf(os.Stderr, "[%s] %s\n", step.Kind, firstLine(step.Content))
}

func (consoleObserver) OnStateChange(from, to domain.AgentState) {
	dim := color.New(color.Faint)
	dim.Fprintf(os.Stderr, "-- %s\n", to)
}

func printResult(result *domain.AgentResult) {
	if result.Success {
		color.New(color.FgGreen, color.Bold).Println("✔ completed")
	} else {
		color.New(color.FgRed, color.Bold).Println("✘ failed")
	}
	fmt.Println(result.Answer)
	dim := color.New(color.Faint)
	dim.Printf("%d step(s), %d tool(s), %s\n", len(result.Steps), len(result.ToolsUsed), result.Duration.Round(time.Millisecond))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
