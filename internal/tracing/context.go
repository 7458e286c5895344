// Package tracing carries orchestration identifiers through contexts and
// wires OpenTelemetry spans for requests, agents and synthesis.
package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for the trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the orchestration request ID
	RequestIDKey ContextKey = "request_id"
	// AgentIndexKey is the context key for the index of the running agent
	AgentIndexKey ContextKey = "agent_index"
	// PhaseKey is the context key for the orchestration phase
	PhaseKey ContextKey = "phase"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestID generates a new orchestration request ID
func NewRequestID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAgentIndex marks the context as belonging to agent i.
func WithAgentIndex(ctx context.Context, i int) context.Context {
	return context.WithValue(ctx, AgentIndexKey, i)
}

// WithPhase records the orchestration phase on the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, PhaseKey, phase)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetAgentIndex retrieves the agent index. ok is false outside an agent.
func GetAgentIndex(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(AgentIndexKey).(int)
	return v, ok
}

// GetPhase retrieves the orchestration phase from the context
func GetPhase(ctx context.Context) string {
	if v, ok := ctx.Value(PhaseKey).(string); ok {
		return v
	}
	return ""
}

// NewRequestContext starts a request with a fresh request ID, keeping an
// existing one if the caller already assigned it.
func NewRequestContext(ctx context.Context) (context.Context, string) {
	if id := GetRequestID(ctx); id != "" {
		return ctx, id
	}
	id := NewRequestID()
	return WithRequestID(ctx, id), id
}

// LoggerFromContext returns base enriched with the identifiers found on ctx.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	if v := GetTraceID(ctx); v != "" {
		lc = lc.Str("trace_id", v)
	}
	if v := GetRequestID(ctx); v != "" {
		lc = lc.Str("request_id", v)
	}
	if i, ok := GetAgentIndex(ctx); ok {
		lc = lc.Int("agent_index", i)
	}
	if v := GetPhase(ctx); v != "" {
		lc = lc.Str("phase", v)
	}
	return lc.Logger()
}
