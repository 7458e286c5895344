package orchestrator

import (
	"fmt"
	"time"

	"github.com/Kylo111/make-it-heavy/pkg/agent"
)

// Models selects a model per role. Empty roles use Default.
type Models struct {
	Default            string   `json:"default"`
	QuestionGeneration string   `json:"question_generation,omitempty"`
	Synthesis          string   `json:"synthesis,omitempty"`
	Agents             []string `json:"agents,omitempty"`
}

// ForAgent returns the model for agent i.
func (m Models) ForAgent(i int) string {
	if i >= 0 && i < len(m.Agents) && m.Agents[i] != "" {
		return m.Agents[i]
	}
	return m.Default
}

// ForQuestions returns the question generation model.
func (m Models) ForQuestions() string {
	if m.QuestionGeneration != "" {
		return m.QuestionGeneration
	}
	return m.Default
}

// ForSynthesis returns the synthesis model.
func (m Models) ForSynthesis() string {
	if m.Synthesis != "" {
		return m.Synthesis
	}
	return m.Default
}

// DefaultSystemPrompt is given to every agent loop unless overridden.
const DefaultSystemPrompt = `You are a helpful research assistant. Use the available tools to gather ` +
	`and verify information. When you have a complete answer, call the mark_task_complete tool with a ` +
	`summary of what you did and your final answer as the completion message.`

// Config holds the plain values the orchestration core runs on.
type Config struct {
	ParallelAgents int
	// TaskTimeout bounds each agent loop. Zero means no per-task limit.
	TaskTimeout time.Duration
	// GlobalDeadline bounds the request from question generation until
	// the last agent settles. Zero disables it.
	GlobalDeadline time.Duration
	// MaxConcurrent caps simultaneously running loops. Zero runs all at once.
	MaxConcurrent int

	MaxIterations int
	MaxRetries    int
	RetryBackoff  time.Duration
	Temperature   float64
	MaxTokens     int

	Models Models

	SystemPrompt    string
	QuestionPrompt  string
	SynthesisPrompt string

	QuestionTimeout  time.Duration
	SynthesisTimeout time.Duration

	// BudgetUSD enables cost alerts when positive.
	BudgetUSD float64
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ParallelAgents:   4,
		TaskTimeout:      5 * time.Minute,
		MaxIterations:    agent.DefaultMaxIterations,
		MaxRetries:       agent.DefaultMaxRetries,
		RetryBackoff:     agent.DefaultRetryBackoff,
		SystemPrompt:     DefaultSystemPrompt,
		QuestionPrompt:   DefaultQuestionPrompt,
		SynthesisPrompt:  DefaultSynthesisPrompt,
		QuestionTimeout:  2 * time.Minute,
		SynthesisTimeout: 2 * time.Minute,
	}
}

// Validate checks the values that would stop dispatch.
func (c Config) Validate() error {
	if c.ParallelAgents < 1 {
		return fmt.Errorf("%w: parallel agents must be at least 1, got %d", ErrPrecondition, c.ParallelAgents)
	}
	if c.TaskTimeout < 0 || c.GlobalDeadline < 0 || c.QuestionTimeout < 0 || c.SynthesisTimeout < 0 {
		return fmt.Errorf("%w: timeouts cannot be negative", ErrPrecondition)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("%w: max concurrent cannot be negative", ErrPrecondition)
	}
	if c.Models.Default == "" {
		for i := 0; i < c.ParallelAgents; i++ {
			if c.Models.ForAgent(i) == "" {
				return fmt.Errorf("%w: no model configured for agent %d", ErrPrecondition, i)
			}
		}
		if c.Models.ForQuestions() == "" || c.Models.ForSynthesis() == "" {
			return fmt.Errorf("%w: default model is required", ErrPrecondition)
		}
	}
	return nil
}

// withDefaults fills zero values that have a sensible default.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.QuestionPrompt == "" {
		c.QuestionPrompt = d.QuestionPrompt
	}
	if c.SynthesisPrompt == "" {
		c.SynthesisPrompt = d.SynthesisPrompt
	}
	return c
}
