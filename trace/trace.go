// Package trace provides tracing instrumentation tailored to the compositor:
// one live span per pipeline that paint events attach to, and a span per
// composite.
package trace

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "k6.compositor"

// liveSpan is the active span of a pipeline. Paint metrics arrive long
// after the pipeline was attached, so the tracer keeps the span around
// until the pipeline is retired.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates spans for pipelines and composites.
// A nil *Tracer is valid and traces nothing.
type Tracer struct {
	logger logrus.FieldLogger

	trace.Tracer

	metadata []attribute.KeyValue

	liveSpansMu sync.RWMutex
	liveSpans   map[string]*liveSpan
}

// NewTracer creates a new Tracer from the given TracerProvider.
func NewTracer(
	logger logrus.FieldLogger, tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption,
) *Tracer {
	return &Tracer{
		logger:    logger,
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

// GetTraceID returns the hex trace id or "" when there is none.
func GetTraceID(spanCtx trace.SpanContext) string {
	if spanCtx.HasTraceID() {
		traceID := spanCtx.TraceID()
		return traceID.String()
	}
	return ""
}

// TracePipeline starts the live span of pipelineID. An existing live span
// for the same pipeline is ended first.
func (t *Tracer) TracePipeline(ctx context.Context, pipelineID string, attrs ...attribute.KeyValue) {
	if t == nil {
		return
	}
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[pipelineID]
	if ls != nil {
		ls.span.End()
	} else {
		ls = &liveSpan{}
	}

	attrs = append(attrs, attribute.String("pipeline.id", pipelineID))
	ls.ctx, ls.span = t.Start(ctx, "pipeline", trace.WithAttributes(attrs...))
	t.liveSpans[pipelineID] = ls

	t.logger.Debugf("TracePipeline: traceID: %q pipelineID: %q", GetTraceID(ls.span.SpanContext()), pipelineID)
}

// TraceEvent adds an event to the live span of pipelineID. Events for
// pipelines without a live span are dropped.
func (t *Tracer) TraceEvent(pipelineID string, eventName string, attrs ...attribute.KeyValue) {
	if t == nil {
		return
	}
	t.liveSpansMu.RLock()
	defer t.liveSpansMu.RUnlock()

	ls := t.liveSpans[pipelineID]
	if ls == nil {
		t.logger.Debugf("TraceEvent: no live span event: %q pipelineID: %q", eventName, pipelineID)
		return
	}
	ls.span.AddEvent(eventName, trace.WithAttributes(attrs...))
}

// EndPipeline ends and forgets the live span of pipelineID.
func (t *Tracer) EndPipeline(pipelineID string) {
	if t == nil {
		return
	}
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	if ls := t.liveSpans[pipelineID]; ls != nil {
		ls.span.End()
		delete(t.liveSpans, pipelineID)
	}
}

// EndAll ends every live span.
func (t *Tracer) EndAll() {
	if t == nil {
		return
	}
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	for id, ls := range t.liveSpans {
		ls.span.End()
		delete(t.liveSpans, id)
	}
}

// TraceComposite starts a span for one composite. It is the caller's
// responsibility to end it.
func (t *Tracer) TraceComposite(ctx context.Context, reason string, attrs ...attribute.KeyValue) trace.Span {
	if t == nil {
		return NoopSpan{}
	}
	attrs = append(attrs, attribute.String("composite.reason", reason))
	_, span := t.Start(ctx, "composite", trace.WithAttributes(attrs...))
	return &SpanLogger{Span: span, logger: t.logger, spanName: "composite"}
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
func (NoopSpan) TracerProvider() trace.TracerProvider { return trace.NewNoopTracerProvider() }

// SpanLogger is a Span that logs when it ends.
type SpanLogger struct {
	trace.Span
	logger   logrus.FieldLogger
	spanName string
}

// SetStatus will log some info before calling the underlying SetStatus.
func (i *SpanLogger) SetStatus(code codes.Code, description string) {
	i.logger.Debugf("SetStatus: spanName: %q traceID: %q code: %q description: %q",
		i.spanName, GetTraceID(i.SpanContext()), code, description)

	i.Span.SetStatus(code, description)
}

// End will log some info before calling the underlying End.
func (i *SpanLogger) End(options ...trace.SpanEndOption) {
	i.logger.Debugf("End: spanName: %q traceID: %q", i.spanName, GetTraceID(i.SpanContext()))

	i.Span.End(options...)
}
