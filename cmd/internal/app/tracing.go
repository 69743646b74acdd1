package app

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// newTracerProvider builds the process tracer provider and installs it globally.
// Finished spans are written to the logger at debug level; no collector is required.
// A zero sample ratio still honors sampled parent contexts.
func newTracerProvider(cfg Config, log *slog.Logger) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
		sdktrace.WithSpanProcessor(&logSpanProcessor{log: log}),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp
}

// logSpanProcessor emits one debug record per finished span.
type logSpanProcessor struct {
	log *slog.Logger
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !p.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attrs := []any{
		"trace_id", s.SpanContext().TraceID().String(),
		"span_id", s.SpanContext().SpanID().String(),
		"name", s.Name(),
		"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
		"status", s.Status().Code.String(),
	}
	if s.Parent().IsValid() {
		attrs = append(attrs, "parent_id", s.Parent().SpanID().String())
	}
	p.log.Debug("trace.span", attrs...)
}

func (p *logSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }
