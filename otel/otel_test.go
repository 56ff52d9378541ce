package otel

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTraceProviderUnsupportedProto(t *testing.T) {
	t.Parallel()

	_, err := NewTraceProvider(context.Background(), "grpc", "localhost:4317", true)
	assert.ErrorIs(t, err, ErrUnsupportedProto)
}

//nolint:paralleltest // installs the global tracer provider.
func TestTrace(t *testing.T) {
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	ctx, parent := Trace(context.Background(), "guard.start")
	_, child := Trace(ctx, "guard.tick")
	End(child, errors.New("listing tabs: status 500"))
	End(parent, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "guard.tick", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Len(t, spans[0].Events(), 1, "the error is recorded")
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	assert.Equal(t, "guard.start", spans[1].Name())
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}

//nolint:paralleltest // installs the global tracer provider.
func TestNoopTraceProvider(t *testing.T) {
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	tp := NewNoopTraceProvider()

	_, span := Trace(context.Background(), "guard.tick")
	assert.False(t, span.IsRecording())
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))
}
