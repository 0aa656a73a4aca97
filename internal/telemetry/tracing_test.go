package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracerProvider(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, "boxoffice-crawler", "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	spanCtx, span := Tracer().Start(ctx, "round-trip")
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	require.NotEmpty(t, carrier["traceparent"])

	restored := ExtractAttributes(ctx, carrier)
	require.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(restored).TraceID())
}

func TestExtractAttributesEmpty(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, ctx, ExtractAttributes(ctx, nil))
}

func TestInitTracerProviderHasNoExporter(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, "boxoffice-crawler", "test")
	require.NoError(t, err)

	_, span := tp.Tracer(InstrumentationName).Start(ctx, "local")
	require.True(t, span.IsRecording())
	require.True(t, span.SpanContext().IsSampled())
	span.End()

	require.NoError(t, tp.ForceFlush(ctx))
	require.NoError(t, tp.Shutdown(ctx))
}
