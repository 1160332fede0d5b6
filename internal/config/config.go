// Package config loads the engine configuration from a YAML file and
// OTTO_-prefixed environment variables. Loaded once and passed down
// explicitly; nothing in here is process-global.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	LLM        LLMConfig        `mapstructure:"llm"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Decomposer DecomposerConfig `mapstructure:"decomposer"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Log        LogConfig        `mapstructure:"log"`
}

type LLMConfig struct {
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	MaxSteps         int           `mapstructure:"max_steps"`
	MaxDuration      time.Duration `mapstructure:"max_duration"`
	EnablePlanning   bool          `mapstructure:"enable_planning"`
	EnableReflection bool          `mapstructure:"enable_reflection"`
}

type DecomposerConfig struct {
	MaxSubTasks        int           `mapstructure:"max_sub_tasks"`
	MinTaskDuration    time.Duration `mapstructure:"min_task_duration"`
	EnableRiskAnalysis bool          `mapstructure:"enable_risk_analysis"`
	EnableOptimization bool          `mapstructure:"enable_optimization"`
}

type PlannerConfig struct {
	MaxAdaptations      int     `mapstructure:"max_adaptations"`
	MaxRetries          int     `mapstructure:"max_retries"`
	TimeoutMultiplier   float64 `mapstructure:"timeout_multiplier"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	EnableContingencies bool    `mapstructure:"enable_contingencies"`
	EnableRealtimeAdapt bool    `mapstructure:"enable_realtime_adapt"`
}

type ToolsConfig struct {
	Root           string        `mapstructure:"root"`
	MaxConcurrent  int64         `mapstructure:"max_concurrent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("engine.max_steps", 10)
	v.SetDefault("engine.max_duration", 5*time.Minute)
	v.SetDefault("engine.enable_planning", true)
	v.SetDefault("engine.enable_reflection", true)

	v.SetDefault("decomposer.max_sub_tasks", 20)
	v.SetDefault("decomposer.min_task_duration", 30*time.Second)
	v.SetDefault("decomposer.enable_risk_analysis", true)
	v.SetDefault("decomposer.enable_optimization", true)

	v.SetDefault("planner.max_adaptations", 5)
	v.SetDefault("planner.max_retries", 3)
	v.SetDefault("planner.timeout_multiplier", 1.5)
	v.SetDefault("planner.confidence_threshold", 0.4)
	v.SetDefault("planner.enable_contingencies", true)
	v.SetDefault("planner.enable_realtime_adapt", true)

	v.SetDefault("tools.root", "")
	v.SetDefault("tools.max_concurrent", 4)
	v.SetDefault("tools.request_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply. Environment variables use the
// OTTO_ prefix with underscores, e.g. OTTO_LLM_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OTTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
