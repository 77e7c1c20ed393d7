// Package trace provides tracing instrumentation for engine API calls.
package trace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "k6browser"

// liveSpan is the navigation span currently active for a page.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates spans for navigations and API calls. API calls made on
// a page are parented to the page's latest navigation span.
type Tracer struct {
	trace.Tracer

	metadata []attribute.KeyValue

	liveSpansMu sync.RWMutex
	liveSpans   map[string]*liveSpan
}

// NewTracer creates a new Tracer from the given TracerProvider. A nil
// provider yields a tracer that records nothing.
func NewTracer(tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption) *Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Tracer{
		Tracer:    tp.Tracer(tracerName, options...),
		metadata:  buildMetadataAttributes(metadata),
		liveSpans: make(map[string]*liveSpan),
	}
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// TraceAPICall starts a span named spanName under the live navigation span
// of pageID, or under ctx when the page has not navigated yet. The caller
// ends the span.
func (t *Tracer) TraceAPICall(
	ctx context.Context, pageID string, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.RLock()
	ls := t.liveSpans[pageID]
	t.liveSpansMu.RUnlock()

	if ls == nil {
		return t.Start(ctx, spanName, opts...)
	}
	return t.Start(ls.ctx, spanName, opts...)
}

// TraceNavigation records a new live navigation span for pageID, ending
// the previous one. The returned span is ended by the next navigation or
// by EndPage.
func (t *Tracer) TraceNavigation(
	ctx context.Context, pageID string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[pageID]
	if ls != nil {
		ls.span.End()
	} else {
		ls = &liveSpan{}
	}

	ls.ctx, ls.span = t.Start(ctx, "navigation", opts...)
	t.liveSpans[pageID] = ls

	return ls.ctx, ls.span
}

// EndPage ends the live navigation span of pageID, if any.
func (t *Tracer) EndPage(pageID string) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	if ls := t.liveSpans[pageID]; ls != nil {
		ls.span.End()
		delete(t.liveSpans, pageID)
	}
}

// SpanError marks span as failed with err. A nil err is a no-op.
func SpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	meta := make([]attribute.KeyValue, 0, len(metadata))
	for mk, mv := range metadata {
		meta = append(meta, attribute.String(mk, mv))
	}

	return meta
}

// NoopSpan represents a noop span.
type NoopSpan struct {
	trace.Span
}

// SpanContext returns a void span context.
func (NoopSpan) SpanContext() trace.SpanContext { return trace.SpanContext{} }

// IsRecording returns false.
func (NoopSpan) IsRecording() bool { return false }

// SetStatus is noop.
func (NoopSpan) SetStatus(codes.Code, string) {}

// SetAttributes is noop.
func (NoopSpan) SetAttributes(...attribute.KeyValue) {}

// End is noop.
func (NoopSpan) End(...trace.SpanEndOption) {}

// RecordError is noop.
func (NoopSpan) RecordError(error, ...trace.EventOption) {}

// AddEvent is noop.
func (NoopSpan) AddEvent(string, ...trace.EventOption) {}

// SetName is noop.
func (NoopSpan) SetName(string) {}

// TracerProvider returns a noop tracer provider.
func (NoopSpan) TracerProvider() trace.TracerProvider { return noop.NewTracerProvider() }
