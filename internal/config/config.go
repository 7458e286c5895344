package config

import (
	"encoding/json"
	"time"

	"github.com/Kylo111/make-it-heavy/internal/logger"
	"github.com/Kylo111/make-it-heavy/pkg/cost"
	"github.com/Kylo111/make-it-heavy/pkg/llm"
	"github.com/Kylo111/make-it-heavy/pkg/orchestrator"
	"github.com/Kylo111/make-it-heavy/pkg/tools"
)

// Config represents the heavy configuration file
type Config struct {
	Provider     ProviderConfig         `json:"provider" mapstructure:"provider"`
	Models       ModelsConfig           `json:"models" mapstructure:"models"`
	Agent        AgentConfig            `json:"agent" mapstructure:"agent"`
	Orchestrator OrchestratorConfig     `json:"orchestrator" mapstructure:"orchestrator"`
	SystemPrompt string                 `json:"system_prompt" mapstructure:"system_prompt"`
	Tools        ToolsConfig            `json:"tools" mapstructure:"tools"`
	Pricing      map[string]PriceConfig `json:"pricing" mapstructure:"pricing"`
	Logging      LoggingConfig          `json:"logging" mapstructure:"logging"`
	Server       ServerConfig           `json:"server" mapstructure:"server"`
	Telemetry    TelemetryConfig        `json:"telemetry" mapstructure:"telemetry"`
}

// ProviderConfig selects the LLM backend
type ProviderConfig struct {
	Type         string `json:"type" mapstructure:"type"` // openai, openrouter, deepseek, anthropic
	APIKey       string `json:"-" mapstructure:"api_key"`
	BaseURL      string `json:"base_url" mapstructure:"base_url"`
	RequireTools bool   `json:"require_tools" mapstructure:"require_tools"`
}

// ModelsConfig holds model identifiers per role
type ModelsConfig struct {
	Default            string   `json:"default" mapstructure:"default"`
	QuestionGeneration string   `json:"question_generation" mapstructure:"question_generation"`
	Synthesis          string   `json:"synthesis" mapstructure:"synthesis"`
	Agents             []string `json:"agents" mapstructure:"agents"` // by agent index
}

// AgentConfig tunes every reasoning loop
type AgentConfig struct {
	MaxIterations int           `json:"max_iterations" mapstructure:"max_iterations"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	RetryBackoff  time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
	Temperature   float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int           `json:"max_tokens" mapstructure:"max_tokens"`
}

// OrchestratorConfig holds fan-out settings
type OrchestratorConfig struct {
	ParallelAgents           int           `json:"parallel_agents" mapstructure:"parallel_agents"`
	TaskTimeout              time.Duration `json:"task_timeout" mapstructure:"task_timeout"`
	GlobalDeadline           time.Duration `json:"global_deadline" mapstructure:"global_deadline"`
	MaxConcurrent            int           `json:"max_concurrent" mapstructure:"max_concurrent"`
	QuestionTimeout          time.Duration `json:"question_timeout" mapstructure:"question_timeout"`
	SynthesisTimeout         time.Duration `json:"synthesis_timeout" mapstructure:"synthesis_timeout"`
	QuestionGenerationPrompt string        `json:"question_generation_prompt" mapstructure:"question_generation_prompt"`
	SynthesisPrompt          string        `json:"synthesis_prompt" mapstructure:"synthesis_prompt"`
	BudgetLimit              float64       `json:"budget_limit" mapstructure:"budget_limit"` // USD, 0 disables alerts
}

// ToolsConfig holds tool registry settings
type ToolsConfig struct {
	Allow          []string      `json:"allow" mapstructure:"allow"`
	Deny           []string      `json:"deny" mapstructure:"deny"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxOutputBytes int           `json:"max_output_bytes" mapstructure:"max_output_bytes"`
}

// PriceConfig is a model price in USD per million tokens
type PriceConfig struct {
	InputPer1M  float64 `json:"input_per_1m" mapstructure:"input_per_1m"`
	OutputPer1M float64 `json:"output_per_1m" mapstructure:"output_per_1m"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host              string        `json:"host" mapstructure:"host"`
	Port              int           `json:"port" mapstructure:"port"`
	AuthToken         string        `json:"-" mapstructure:"auth_token"`
	RequestsPerMinute int           `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int           `json:"max_concurrent" mapstructure:"max_concurrent"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// TelemetryConfig toggles OpenTelemetry tracing
type TelemetryConfig struct {
	Tracing     bool   `json:"tracing" mapstructure:"tracing"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
	Endpoint    string `json:"endpoint" mapstructure:"endpoint"` // OTLP/HTTP host:port
	Insecure    bool   `json:"insecure" mapstructure:"insecure"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	core := orchestrator.DefaultConfig()
	return &Config{
		Provider: ProviderConfig{
			Type: llm.ProviderOpenRouter,
		},
		Models: ModelsConfig{
			Default: "openai/gpt-4o-mini",
		},
		Agent: AgentConfig{
			MaxIterations: core.MaxIterations,
			MaxRetries:    core.MaxRetries,
			RetryBackoff:  core.RetryBackoff,
			Temperature:   0.7,
		},
		Orchestrator: OrchestratorConfig{
			ParallelAgents:   core.ParallelAgents,
			TaskTimeout:      core.TaskTimeout,
			QuestionTimeout:  core.QuestionTimeout,
			SynthesisTimeout: core.SynthesisTimeout,
		},
		SystemPrompt: orchestrator.DefaultSystemPrompt,
		Tools: ToolsConfig{
			Timeout:        tools.DefaultTimeout,
			MaxOutputBytes: tools.DefaultMaxOutputBytes,
		},
		Pricing: map[string]PriceConfig{},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			RequestsPerMinute: 60,
			MaxConcurrent:     2,
			ShutdownTimeout:   30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "heavy",
		},
	}
}

// String returns a JSON representation of the config. API keys are omitted.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// OrchestratorConfig converts the file settings into the core's plain values.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		ParallelAgents: c.Orchestrator.ParallelAgents,
		TaskTimeout:    c.Orchestrator.TaskTimeout,
		GlobalDeadline: c.Orchestrator.GlobalDeadline,
		MaxConcurrent:  c.Orchestrator.MaxConcurrent,
		MaxIterations:  c.Agent.MaxIterations,
		MaxRetries:     c.Agent.MaxRetries,
		RetryBackoff:   c.Agent.RetryBackoff,
		Temperature:    c.Agent.Temperature,
		MaxTokens:      c.Agent.MaxTokens,
		Models: orchestrator.Models{
			Default:            c.Models.Default,
			QuestionGeneration: c.Models.QuestionGeneration,
			Synthesis:          c.Models.Synthesis,
			Agents:             append([]string(nil), c.Models.Agents...),
		},
		SystemPrompt:     c.SystemPrompt,
		QuestionPrompt:   c.Orchestrator.QuestionGenerationPrompt,
		SynthesisPrompt:  c.Orchestrator.SynthesisPrompt,
		QuestionTimeout:  c.Orchestrator.QuestionTimeout,
		SynthesisTimeout: c.Orchestrator.SynthesisTimeout,
		BudgetUSD:        c.Orchestrator.BudgetLimit,
	}
}

// ProviderConfig returns the gateway factory settings.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Type:         c.Provider.Type,
		APIKey:       c.Provider.APIKey,
		BaseURL:      c.Provider.BaseURL,
		RequireTools: c.Provider.RequireTools,
	}
}

// CostPricing returns the price table for the cost tracker.
func (c *Config) CostPricing() cost.Pricing {
	p := make(cost.Pricing, len(c.Pricing))
	for model, price := range c.Pricing {
		p[model] = cost.NewPrice(price.InputPer1M, price.OutputPer1M)
	}
	return p
}

// ToolPolicy returns the allow/deny policy, nil when unrestricted.
func (c *Config) ToolPolicy() *tools.Policy {
	if len(c.Tools.Allow) == 0 && len(c.Tools.Deny) == 0 {
		return nil
	}
	return &tools.Policy{Allow: c.Tools.Allow, Deny: c.Tools.Deny}
}

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		File:      c.Logging.File,
		Console:   true,
		Pretty:    c.Logging.Pretty,
		Redaction: c.Logging.Redaction,
	}
}
