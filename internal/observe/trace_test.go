package observe

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestStartSpan_ProducesTraceID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer(tracerName).Start(context.Background(), "test")
	defer span.End()

	if got := CorrelationID(ctx); got == "" {
		t.Error("CorrelationID is empty inside an active span")
	}
}

func TestLogger_ReturnsDefaultWithoutSpan(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Error("Logger returned nil")
	}
}
