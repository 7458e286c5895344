package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestContextValues(t *testing.T) {
	t.Run("should round trip identifiers", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-1")
		ctx = WithRequestID(ctx, "req-1")
		ctx = WithAgentIndex(ctx, 3)
		ctx = WithPhase(ctx, "dispatching")

		assert.Equal(t, "trace-1", GetTraceID(ctx))
		assert.Equal(t, "req-1", GetRequestID(ctx))
		assert.Equal(t, "dispatching", GetPhase(ctx))

		i, ok := GetAgentIndex(ctx)
		assert.True(t, ok)
		assert.Equal(t, 3, i)
	})

	t.Run("should report missing agent index", func(t *testing.T) {
		_, ok := GetAgentIndex(context.Background())
		assert.False(t, ok)
	})

	t.Run("should keep existing request id", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "given")
		_, id := NewRequestContext(ctx)
		assert.Equal(t, "given", id)

		_, fresh := NewRequestContext(context.Background())
		assert.NotEmpty(t, fresh)
		assert.NotEqual(t, fresh, NewRequestID())
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithRequestID(context.Background(), "req-9")
	ctx = WithAgentIndex(ctx, 0)

	l := LoggerFromContext(ctx, base)
	l.Info().Msg("agent started")

	assert.Contains(t, buf.String(), `"request_id":"req-9"`)
	assert.Contains(t, buf.String(), `"agent_index":0`)
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestStartSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	require.NoError(t, InitOpenTelemetry("heavy-test", sdktrace.WithSpanProcessor(recorder)))

	ctx, span := StartSpan(context.Background(), TracerOrchestrator, "orchestrate")
	assert.NotEmpty(t, GetTraceID(ctx))
	EndSpan(span, errors.New("boom"))

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	assert.Equal(t, "orchestrate", spans[len(spans)-1].Name())

	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
}

func TestWithOTLPExporter(t *testing.T) {
	opt, err := WithOTLPExporter(context.Background(), "localhost:4318", true)
	require.NoError(t, err)
	assert.NotNil(t, opt)
}
