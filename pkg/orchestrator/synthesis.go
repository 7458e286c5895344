package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kylo111/make-it-heavy/internal/tracing"
	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

// DefaultSynthesisPrompt merges agent answers. Placeholders: {user_input},
// {num_responses}, {agent_responses}.
const DefaultSynthesisPrompt = `You have {num_responses} independent answers to the same request, each written by a different agent.

Original request: {user_input}

{agent_responses}

Combine them into one comprehensive answer. Resolve contradictions, keep the strongest evidence from each,
and do not mention that several agents were involved.`

const noUsableResult = "No agent produced a usable result."

// Synthesis is the two-outcome result of the synthesis step. Err explains a
// fallback and is never a request failure.
type Synthesis struct {
	Text  string
	Mode  SynthesisMode
	Err   error
	Model string
	// Usage is nil when no model call was made.
	Usage *llm.Usage
	// Inputs lists the agent indices that contributed, ascending.
	Inputs []int
}

// SynthesisConfig configures a Synthesizer.
type SynthesisConfig struct {
	Model       string
	Prompt      string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Logger      zerolog.Logger
}

// Synthesizer folds agent executions into one answer.
type Synthesizer struct {
	gateway llm.Gateway
	cfg     SynthesisConfig
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(gateway llm.Gateway, cfg SynthesisConfig) *Synthesizer {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultSynthesisPrompt
	}
	return &Synthesizer{gateway: gateway, cfg: cfg}
}

// Synthesize merges the usable executions. It always returns non-empty text.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, executions []AgentExecution) Synthesis {
	logger := tracing.LoggerFromContext(ctx, s.cfg.Logger)
	usable := UsableExecutions(executions)

	out := Synthesis{Model: s.cfg.Model}
	for _, e := range usable {
		out.Inputs = append(out.Inputs, e.Index)
	}

	if len(usable) == 0 {
		out.Mode = ModeConcatenatedFallback
		out.Text = noResultReport(executions)
		out.Err = errors.New("no usable agent results")
		logger.Warn().Int("agents", len(executions)).Msg("No usable agent results, skipping synthesis")
		return out
	}

	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	req := llm.Request{
		Model:       s.cfg.Model,
		Messages:    []llm.Message{llm.UserMessage(renderSynthesisPrompt(s.cfg.Prompt, query, usable))},
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}

	resp, err := s.gateway.Complete(callCtx, req)
	if err == nil {
		if resp == nil {
			err = errors.New("empty response")
		} else {
			out.Usage = resp.Usage
			if out.Usage == nil {
				out.Usage = llm.EstimateUsage(req, resp)
			}
			if strings.TrimSpace(resp.Content) == "" {
				err = errors.New("blank synthesis response")
			}
		}
	}

	if err != nil {
		out.Mode = ModeConcatenatedFallback
		out.Text = Concatenate(usable)
		out.Err = err
		logger.Warn().Err(err).Int("responses", len(usable)).Msg("Synthesis failed, concatenating agent results")
		return out
	}

	out.Mode = ModeSynthesized
	out.Text = strings.TrimSpace(resp.Content)
	logger.Info().Int("responses", len(usable)).Msg("Synthesized final answer")
	return out
}

// UsableExecutions returns the executions with usable status and non-empty
// text, sorted by index.
func UsableExecutions(executions []AgentExecution) []AgentExecution {
	var usable []AgentExecution
	for _, e := range sortedByIndex(executions) {
		if e.Status.Usable() && strings.TrimSpace(e.Result) != "" {
			usable = append(usable, e)
		}
	}
	return usable
}

// Concatenate joins results in index order, each under its agent label.
func Concatenate(executions []AgentExecution) string {
	var b strings.Builder
	for i, e := range sortedByIndex(executions) {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== Agent %d Response ===\n%s", e.Index, strings.TrimSpace(e.Result))
	}
	return b.String()
}

func noResultReport(executions []AgentExecution) string {
	var b strings.Builder
	b.WriteString(noUsableResult)
	for _, e := range sortedByIndex(executions) {
		fmt.Fprintf(&b, "\nAgent %d: %s", e.Index, e.Status)
		if e.Error != "" {
			fmt.Fprintf(&b, " (%s)", e.Error)
		}
	}
	return b.String()
}

func renderSynthesisPrompt(tmpl, query string, usable []AgentExecution) string {
	var responses strings.Builder
	for i, e := range usable {
		if i > 0 {
			responses.WriteString("\n\n")
		}
		fmt.Fprintf(&responses, "=== AGENT %d RESPONSE ===\n%s", e.Index, strings.TrimSpace(e.Result))
	}

	return strings.NewReplacer(
		"{user_input}", query,
		"{num_responses}", strconv.Itoa(len(usable)),
		"{agent_responses}", responses.String(),
	).Replace(tmpl)
}
