package middleware

import (
	"context"
	"fmt"

	"github.com/vango-dev/liveroute/pkg/routepath"
	"github.com/vango-dev/liveroute/pkg/router"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "liveroute"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "liveroute").
	TracerName string

	// TracerProvider resolves the tracer. Default: the global provider.
	TracerProvider trace.TracerProvider

	// IncludeQuery adds the raw query string to spans.
	// May contain sensitive information - disabled by default.
	IncludeQuery bool

	// Filter determines which ticks to trace. If nil, all are traced.
	Filter func(t *router.Tick) bool

	// AttributeExtractor adds custom attributes for each traced tick.
	AttributeExtractor func(t *router.Tick) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the provider the tracer is taken from.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeQuery enables recording the query string.
func WithIncludeQuery(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeQuery = include
	}
}

// WithTickFilter sets a filter function for ticks.
func WithTickFilter(filter func(t *router.Tick) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(t *router.Tick) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// OpenTelemetry returns middleware that traces every handler invocation.
//
// Each span carries the trail, destination, method and event id. The span's
// context replaces the tick's context, so fetches and continuations started
// from the handler inherit it. Errors are recorded on the span.
//
// Configure the provider in main() before serving:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) router.Middleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}

	var tracer trace.Tracer
	if config.TracerProvider != nil {
		tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		tracer = otel.Tracer(config.TracerName)
	}

	return router.MiddlewareFunc(func(t *router.Tick, next func() (any, error)) (any, error) {
		if config.Filter != nil && !config.Filter(t) {
			return next()
		}

		attrs := []attribute.KeyValue{
			attribute.String("liveroute.trail", t.Path()),
			attribute.String("liveroute.destination", routepath.Join(t.Destination)),
			attribute.String("liveroute.method", t.Method),
		}
		if t.Event != nil {
			attrs = append(attrs, attribute.String("liveroute.event_id", t.Event.ID()))
		}
		if config.IncludeQuery && t.Query != "" {
			attrs = append(attrs, attribute.String("liveroute.query", t.Query))
		}
		if config.AttributeExtractor != nil {
			attrs = append(attrs, config.AttributeExtractor(t)...)
		}

		spanCtx, span := tracer.Start(
			t.Context(),
			formatSpanName(t),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		t.SetContext(spanCtx)

		value, err := next()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.String("liveroute.outcome", outcome(t, value, err)))
		return value, err
	})
}

// SpanFromTick returns the span recorded on the tick, or nil when the tick
// is not being traced.
func SpanFromTick(t *router.Tick) trace.Span {
	span := trace.SpanFromContext(t.Context())
	if !span.SpanContext().IsValid() && !span.IsRecording() {
		return nil
	}
	return span
}

// TraceContext returns the tick's context for propagation to outbound calls.
func TraceContext(t *router.Tick) context.Context {
	return t.Context()
}

func formatSpanName(t *router.Tick) string {
	return fmt.Sprintf("liveroute %s %s", t.Method, t.Path())
}
