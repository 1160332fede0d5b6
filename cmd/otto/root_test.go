package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"otto/internal/agent/domain"
)

func TestRootCommandWiring(t *testing.T) {
	cmd := NewRootCommand()
	require.Equal(t, "otto", cmd.Use)
	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	require.True(t, names["run"], "run command missing")
	require.True(t, names["tools"], "tools command missing")
}

func TestRunCommandFlags(t *testing.T) {
	configPath := ""
	cmd := newRunCommand(&configPath)
	require.NotNil(t, cmd.Flags().Lookup("plan"))
	require.NotNil(t, cmd.Flags().Lookup("max-steps"))
	require.Error(t, cmd.Args(cmd, nil), "goal argument should be required")
	require.NoError(t, cmd.Args(cmd, []string{"summarize the report"}))
}

func TestFirstLine(t *testing.T) {
	require.Equal(t, "head", firstLine("head\ntail"))
	require.Equal(t, "single", firstLine("single"))
}

func TestConsoleObserverImplementsRunObserver(t *testing.T) {
	var obs domain.RunObserver = &consoleObserver{}
	obs.OnStep(domain.AgentStep{Kind: domain.StepThought, Content: "x", Timestamp: time.Now()})
	obs.OnStateChange(domain.StateIdle, domain.StateThinking)
}
