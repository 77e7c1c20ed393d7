package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return NewTracer(tp, map[string]string{"scenario": "checkboxes"}), sr
}

func TestTraceAPICallParenting(t *testing.T) {
	t.Parallel()

	tr, sr := newRecordingTracer(t)
	ctx := context.Background()

	_, orphan := tr.TraceAPICall(ctx, "page-1", "locator.click")
	orphan.End()

	_, nav := tr.TraceNavigation(ctx, "page-1")
	_, call := tr.TraceAPICall(ctx, "page-1", "locator.check")
	call.End()
	tr.EndPage("page-1")

	spans := sr.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "locator.click", spans[0].Name())
	assert.False(t, spans[0].Parent().IsValid())

	assert.Equal(t, "locator.check", spans[1].Name())
	assert.Equal(t, nav.SpanContext().SpanID(), spans[1].Parent().SpanID())

	assert.Equal(t, "navigation", spans[2].Name())
	assert.Contains(t, spans[2].Attributes()[0].Value.AsString(), "checkboxes")
}

func TestTraceNavigationEndsPrevious(t *testing.T) {
	t.Parallel()

	tr, sr := newRecordingTracer(t)
	ctx := context.Background()

	tr.TraceNavigation(ctx, "page-1")
	tr.TraceNavigation(ctx, "page-1")

	require.Len(t, sr.Ended(), 1)
	tr.EndPage("page-1")
	require.Len(t, sr.Ended(), 2)
	tr.EndPage("page-1")
	require.Len(t, sr.Ended(), 2)
}

func TestSpanError(t *testing.T) {
	t.Parallel()

	tr, sr := newRecordingTracer(t)
	_, span := tr.Start(context.Background(), "page.goto")
	SpanError(span, nil)
	SpanError(span, errors.New("navigating: net::ERR_NAME_NOT_RESOLVED"))
	span.End()

	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, codes.Error, sr.Ended()[0].Status().Code)
}

func TestNewOTLPProviderScheme(t *testing.T) {
	t.Parallel()

	_, err := NewOTLPProvider(context.Background(), "grpc://127.0.0.1:4317", nil)
	require.ErrorIs(t, err, ErrInvalidURLScheme)

	p := NewNoopProvider()
	assert.NoError(t, p.Shutdown(context.Background()))
}
