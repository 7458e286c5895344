package agent

import (
	"time"

	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

// Status is the terminal state of a Run.
type Status string

const (
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusIterationLimitReached Status = "iteration_limit_reached"
)

// Usable reports whether the run produced text worth synthesizing.
func (s Status) Usable() bool {
	return s == StatusCompleted || s == StatusIterationLimitReached
}

// RunParams are the inputs of one reasoning loop.
type RunParams struct {
	Prompt        string  `json:"prompt"`
	SystemPrompt  string  `json:"system_prompt,omitempty"`
	Model         string  `json:"model"`
	MaxIterations int     `json:"max_iterations,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
}

// Outcome is the result of one reasoning loop.
type Outcome struct {
	Status     Status        `json:"status"`
	Text       string        `json:"text,omitempty"`
	Err        error         `json:"-"`
	Iterations int           `json:"iterations"`
	ToolCalls  int           `json:"tool_calls"`
	Usage      llm.Usage     `json:"usage"`
	Duration   time.Duration `json:"duration"`
}

const (
	DefaultMaxIterations = 10
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = time.Second

	iterationLimitText = "Maximum iterations reached without a final answer."
	placeholderResult  = `{"result":"no-op"}`
)
