package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Kylo111/make-it-heavy/internal/observability"
	"github.com/Kylo111/make-it-heavy/internal/tracing"
	"github.com/Kylo111/make-it-heavy/pkg/llm"
	"github.com/Kylo111/make-it-heavy/pkg/tools"
)

// Runner executes reasoning loops against one gateway and tool set.
type Runner struct {
	gateway      llm.Gateway
	tools        tools.Set
	logger       zerolog.Logger
	maxRetries   int
	retryBackoff time.Duration
}

// Config holds runner configuration
type Config struct {
	Gateway llm.Gateway
	Tools   tools.Set
	Logger  zerolog.Logger
	// MaxRetries is the number of attempts per model call for transient
	// gateway errors. Default 3.
	MaxRetries int
	// RetryBackoff is the first retry delay, doubled on each retry.
	// Default 1s.
	RetryBackoff time.Duration
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("tool set is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	return &Runner{
		gateway:      cfg.Gateway,
		tools:        cfg.Tools,
		logger:       cfg.Logger,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
	}, nil
}

// Run executes the loop until completion, failure or the iteration limit.
func (r *Runner) Run(ctx context.Context, params RunParams) Outcome {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, tracing.TracerAgent, "agent.run",
		attribute.String("llm.model", params.Model),
		attribute.Int("agent.max_iterations", params.MaxIterations),
	)
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("model", params.Model).Logger()

	out := r.run(ctx, logger, params)
	out.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("agent.status", string(out.Status)),
		attribute.Int("agent.iterations", out.Iterations),
		attribute.Int("agent.tool_calls", out.ToolCalls),
	)
	tracing.EndSpan(span, out.Err)

	ev := logger.Info()
	if out.Status == StatusFailed {
		ev = logger.Warn().Err(out.Err)
	}
	ev.Str("status", string(out.Status)).
		Int("iterations", out.Iterations).
		Int("tool_calls", out.ToolCalls).
		Dur("duration", out.Duration).
		Msg("Agent loop finished")

	return out
}

func (r *Runner) run(ctx context.Context, logger zerolog.Logger, params RunParams) Outcome {
	var out Outcome

	if strings.TrimSpace(params.Prompt) == "" {
		return fail(out, errors.New("prompt cannot be empty"))
	}
	if params.Model == "" {
		return fail(out, errors.New("model cannot be empty"))
	}
	maxIterations := params.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	available := r.tools.ListTools()
	placeholder := len(available) == 0
	if placeholder {
		available = []llm.ToolDescriptor{llm.PlaceholderTool()}
	}

	messages := make([]llm.Message, 0, 2+2*maxIterations)
	if params.SystemPrompt != "" {
		messages = append(messages, llm.SystemMessage(params.SystemPrompt))
	}
	messages = append(messages, llm.UserMessage(params.Prompt))

	lastText := ""

	for out.Iterations < maxIterations {
		if err := ctx.Err(); err != nil {
			return fail(out, err)
		}

		req := llm.Request{
			Model:       params.Model,
			Messages:    messages,
			Tools:       available,
			Temperature: params.Temperature,
			MaxTokens:   params.MaxTokens,
		}

		resp, err := r.complete(ctx, logger, req)
		out.Iterations++
		if err != nil {
			return fail(out, err)
		}

		if resp.Usage != nil {
			out.Usage.Add(resp.Usage)
		} else {
			out.Usage.Add(llm.EstimateUsage(req, resp))
		}

		text := strings.TrimSpace(resp.Content)
		if text != "" {
			lastText = text
		}

		if len(resp.ToolCalls) == 0 {
			out.Status = StatusCompleted
			out.Text = lastText
			return out
		}

		messages = append(messages, llm.AssistantMessage(resp.Content, resp.ToolCalls...))

		for _, call := range resp.ToolCalls {
			if call.Name == tools.CompletionToolName {
				answer := tools.CompletionText(call.Arguments)
				if answer == "" {
					answer = lastText
				}
				logger.Debug().Int("iteration", out.Iterations).Msg("Completion tool called")
				out.Status = StatusCompleted
				out.Text = answer
				return out
			}

			var content string
			if placeholder && call.Name == llm.PlaceholderToolName {
				content = placeholderResult
			} else {
				res := r.tools.Invoke(ctx, call.Name, call.Arguments)
				out.ToolCalls++
				if !res.Success {
					logger.Debug().Str("tool", call.Name).Str("error", res.Error).Msg("Tool call failed, reporting to model")
				}
				content = res.Content()
			}
			messages = append(messages, llm.ToolMessage(call.ID, content))
		}
	}

	out.Status = StatusIterationLimitReached
	out.Text = lastText
	if out.Text == "" {
		out.Text = iterationLimitText
	}
	return out
}

// complete calls the gateway, retrying transient errors with exponential
// backoff.
func (r *Runner) complete(ctx context.Context, logger zerolog.Logger, req llm.Request) (*llm.Response, error) {
	backoff := r.retryBackoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		resp, err := r.gateway.Complete(ctx, req)
		if err == nil {
			if resp == nil {
				return nil, llm.Fatal(r.gateway.Provider(), errors.New("empty response"))
			}
			return resp, nil
		}

		lastErr = err
		if !llm.IsTransient(err) || attempt == r.maxRetries {
			break
		}

		observability.RecordGatewayRetry(r.gateway.Provider())
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Transient gateway error, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	if llm.IsTransient(lastErr) {
		return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
	}
	return nil, lastErr
}

func fail(out Outcome, err error) Outcome {
	out.Status = StatusFailed
	out.Err = err
	out.Text = ""
	return out
}
