package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

var validProviders = []string{llm.ProviderOpenAI, llm.ProviderOpenRouter, llm.ProviderDeepSeek, llm.ProviderAnthropic}

// ValidateProvider validates the provider type
func (v *Validator) ValidateProvider(provider string) error {
	for _, valid := range validProviders {
		if strings.ToLower(provider) == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key. Prefixes are only checked against
// the provider's own endpoint; a custom base URL may accept any key.
func (v *Validator) ValidateAPIKey(key, provider, baseURL string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	if baseURL != "" {
		return nil
	}

	switch strings.ToLower(provider) {
	case llm.ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case llm.ProviderOpenRouter:
		if !strings.HasPrefix(key, "sk-or-") {
			return fmt.Errorf("invalid OpenRouter API key format (should start with sk-or-)")
		}
	case llm.ProviderOpenAI, llm.ProviderDeepSeek:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid %s API key format (should start with sk-)", provider)
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value; 0 means provider default
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("max tokens cannot be negative, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

func (v *Validator) validateDuration(name string, d time.Duration, positive bool) error {
	if d < 0 || (positive && d == 0) {
		return fmt.Errorf("%s must be positive, got %v", name, d)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Provider
	if err := v.ValidateProvider(cfg.Provider.Type); err != nil {
		add(err)
	} else {
		add(v.ValidateAPIKey(cfg.Provider.APIKey, cfg.Provider.Type, cfg.Provider.BaseURL))
	}

	// Models
	if cfg.Models.Default == "" {
		if cfg.Models.QuestionGeneration == "" || cfg.Models.Synthesis == "" {
			add(errors.New("models.default is required unless every role sets its own model"))
		}
		for i := 0; i < cfg.Orchestrator.ParallelAgents; i++ {
			if i >= len(cfg.Models.Agents) || cfg.Models.Agents[i] == "" {
				add(fmt.Errorf("no model for agent %d: set models.default or models.agents[%d]", i, i))
			}
		}
	}
	if len(cfg.Models.Agents) > cfg.Orchestrator.ParallelAgents && cfg.Orchestrator.ParallelAgents > 0 {
		add(fmt.Errorf("models.agents lists %d models for %d agents", len(cfg.Models.Agents), cfg.Orchestrator.ParallelAgents))
	}

	// Orchestrator
	if cfg.Orchestrator.ParallelAgents < 1 {
		add(fmt.Errorf("orchestrator.parallel_agents must be at least 1, got %d", cfg.Orchestrator.ParallelAgents))
	}
	if cfg.Orchestrator.MaxConcurrent < 0 {
		add(fmt.Errorf("orchestrator.max_concurrent cannot be negative"))
	}
	add(v.validateDuration("orchestrator.task_timeout", cfg.Orchestrator.TaskTimeout, true))
	add(v.validateDuration("orchestrator.global_deadline", cfg.Orchestrator.GlobalDeadline, false))
	add(v.validateDuration("orchestrator.question_timeout", cfg.Orchestrator.QuestionTimeout, false))
	add(v.validateDuration("orchestrator.synthesis_timeout", cfg.Orchestrator.SynthesisTimeout, false))
	if cfg.Orchestrator.BudgetLimit < 0 {
		add(fmt.Errorf("orchestrator.budget_limit cannot be negative"))
	}

	// Agent
	if cfg.Agent.MaxIterations < 1 {
		add(fmt.Errorf("agent.max_iterations must be at least 1, got %d", cfg.Agent.MaxIterations))
	}
	if cfg.Agent.MaxRetries < 1 {
		add(fmt.Errorf("agent.max_retries must be at least 1, got %d", cfg.Agent.MaxRetries))
	}
	add(v.validateDuration("agent.retry_backoff", cfg.Agent.RetryBackoff, false))
	add(v.ValidateTemperature(cfg.Agent.Temperature))
	add(v.ValidateMaxTokens(cfg.Agent.MaxTokens))

	// Tools
	add(v.validateDuration("tools.timeout", cfg.Tools.Timeout, false))

	for model, price := range cfg.Pricing {
		if price.InputPer1M < 0 || price.OutputPer1M < 0 {
			add(fmt.Errorf("pricing.%s: prices cannot be negative", model))
		}
	}

	// Logging
	add(v.ValidateLogLevel(cfg.Logging.Level))

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add(fmt.Errorf("server.port out of range: %d", cfg.Server.Port))
	}
	if cfg.Server.RequestsPerMinute < 0 || cfg.Server.MaxConcurrent < 0 {
		add(errors.New("server limits cannot be negative"))
	}
	add(v.validateDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout, false))

	return errs
}

// Validate joins every validation error into one.
func (v *Validator) Validate(cfg *Config) error {
	return errors.Join(v.ValidateConfig(cfg)...)
}
