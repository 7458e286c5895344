package orchestrator

import (
	"errors"
	"time"

	"github.com/Kylo111/make-it-heavy/pkg/cost"
	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

// ErrPrecondition is wrapped by every error that stops an orchestration
// before dispatch.
var ErrPrecondition = errors.New("orchestration precondition failed")

// ExecutionStatus is the lifecycle state of one agent execution
type ExecutionStatus string

const (
	StatusQueued                ExecutionStatus = "queued"
	StatusRunning               ExecutionStatus = "running"
	StatusCompleted             ExecutionStatus = "completed"
	StatusFailed                ExecutionStatus = "failed"
	StatusTimedOut              ExecutionStatus = "timed_out"
	StatusIterationLimitReached ExecutionStatus = "iteration_limit_reached"
)

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusIterationLimitReached:
		return true
	}
	return false
}

// Usable reports whether executions in this status feed synthesis.
func (s ExecutionStatus) Usable() bool {
	return s == StatusCompleted || s == StatusIterationLimitReached
}

// AgentTask is one unit of dispatch. Immutable once dispatched.
type AgentTask struct {
	Index         int           `json:"index"`
	Question      string        `json:"question"`
	Timeout       time.Duration `json:"timeout"`
	MaxIterations int           `json:"max_iterations"`
	Model         string        `json:"model"`
}

// AgentExecution is the report of one agent. Result is set iff the status is
// usable, Error iff it is failed or timed_out.
type AgentExecution struct {
	Index      int             `json:"index"`
	Question   string          `json:"question"`
	Model      string          `json:"model"`
	Status     ExecutionStatus `json:"status"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	EndedAt    time.Time       `json:"ended_at,omitempty"`
	Iterations int             `json:"iterations"`
	ToolCalls  int             `json:"tool_calls"`
	Usage      llm.Usage       `json:"usage"`
}

// Duration returns the wall time of the execution, zero if it never started.
func (e AgentExecution) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.EndedAt.IsZero() {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// SynthesisMode tells how the final answer was produced
type SynthesisMode string

const (
	ModeSynthesized          SynthesisMode = "synthesized"
	ModeConcatenatedFallback SynthesisMode = "concatenated_fallback"
)

// Phase is the orchestrator's position in its state machine
type Phase string

const (
	PhasePending             Phase = "pending"
	PhaseGeneratingQuestions Phase = "generating_questions"
	PhaseDispatching         Phase = "dispatching"
	PhaseAwaitingAgents      Phase = "awaiting_agents"
	PhaseSynthesizing        Phase = "synthesizing"
	PhaseDone                Phase = "done"
)

// OrchestrationResult is the caller-facing outcome of one request.
type OrchestrationResult struct {
	RequestID         string           `json:"request_id"`
	Query             string           `json:"query"`
	Answer            string           `json:"answer"`
	Mode              SynthesisMode    `json:"mode"`
	SubQuestions      []string         `json:"sub_questions"`
	QuestionsFallback bool             `json:"questions_fallback"`
	Executions        []AgentExecution `json:"executions"`
	StartedAt         time.Time        `json:"started_at"`
	CompletedAt       time.Time        `json:"completed_at"`
	Cost              *cost.Summary    `json:"cost,omitempty"`
}

// Duration returns the wall time of the whole request.
func (r *OrchestrationResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Counts tallies executions by status.
func (r *OrchestrationResult) Counts() map[ExecutionStatus]int {
	counts := make(map[ExecutionStatus]int)
	for _, e := range r.Executions {
		counts[e.Status]++
	}
	return counts
}
