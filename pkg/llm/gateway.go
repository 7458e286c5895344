// Package llm is the gateway between the orchestrator and the model
// providers. Every provider speaks the same Request/Response shape and
// reports failures as *GatewayError so callers can tell transient failures
// from fatal ones.
package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Kylo111/make-it-heavy/internal/observability"
	"github.com/Kylo111/make-it-heavy/internal/tracing"
)

// Gateway sends one conversation to a model and returns its reply.
//
// Implementations must be safe for concurrent use and must return errors as
// *GatewayError.
type Gateway interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Provider() string
}

// Instrument wraps g so that every call is traced, timed and logged at
// debug level.
func Instrument(g Gateway, logger zerolog.Logger) Gateway {
	return &instrumented{next: g, logger: logger}
}

type instrumented struct {
	next   Gateway
	logger zerolog.Logger
}

func (i *instrumented) Provider() string {
	return i.next.Provider()
}

func (i *instrumented) Complete(ctx context.Context, req Request) (*Response, error) {
	provider := i.next.Provider()
	ctx, span := tracing.StartSpan(ctx, tracing.TracerLLM, "llm.complete",
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(req.Tools)),
	)

	start := time.Now()
	resp, err := i.next.Complete(ctx, req)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = string(ErrorFatal)
		if IsTransient(err) {
			outcome = string(ErrorTransient)
		}
	}
	observability.RecordGatewayCall(provider, outcome, elapsed)

	log := tracing.LoggerFromContext(ctx, i.logger)
	if err != nil {
		log.Debug().Err(err).Str("model", req.Model).Dur("elapsed", elapsed).Msg("Gateway call failed")
	} else {
		ev := log.Debug().Str("model", req.Model).Dur("elapsed", elapsed).Int("tool_calls", len(resp.ToolCalls))
		if resp.Usage != nil {
			span.SetAttributes(
				attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
				attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
			)
			ev = ev.Int("input_tokens", resp.Usage.InputTokens).Int("output_tokens", resp.Usage.OutputTokens)
		}
		ev.Msg("Gateway call completed")
	}

	tracing.EndSpan(span, err)
	return resp, err
}
