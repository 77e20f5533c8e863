package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span with:
//   - Span name: event.Msg (e.g., "invoke_retry", "invoke_failure")
//   - Attributes: correlation ID, tool, target, and all event.Meta fields
//   - Status: set to error when event.Meta["error"] exists
//
// Spans are ended immediately because events are points in time, not
// durations. The runtime separately opens a span covering the whole
// invocation; these event spans nest under it when the emitting code
// carries the right context.
//
// Usage:
//
//	tracer := otel.Tracer("invoke")
//	emitter := emit.NewOTelEmitter(tracer)
//
// Integration with OpenTelemetry:
//
//	// Application code installs a provider with a real exporter.
//	tp := sdktrace.NewTracerProvider(
//	    sdktrace.WithBatcher(exporter),
//	)
//	otel.SetTracerProvider(tp)
//
//	emitter := emit.NewOTelEmitter(otel.Tracer("invoke"))
//	runner, _ := invoke.NewRunner(breaker, invoke.WithEmitter(emitter))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter.
//
// Parameters:
//   - tracer: OpenTelemetry tracer from otel.Tracer("service-name")
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates an OpenTelemetry span for the event.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)

	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

// EmitBatch creates spans for several events under one context.
//
// Useful when draining a BufferedEmitter into a tracing backend after the
// fact. The spans share ctx, so they nest under any span it carries.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg)

		o.addStandardAttributes(span, event)
		o.addMetadataAttributes(span, event.Meta)

		if errMsg, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, errMsg)
			span.RecordError(fmt.Errorf("%s", errMsg))
		}

		span.End()
	}
	return nil
}

// Flush forces export of all pending spans.
//
// OpenTelemetry buffers spans in a batch processor; call Flush before
// shutdown so buffered spans reach the backend. Respects ctx cancellation.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("invoke.correlation_id", event.CorrelationID),
		attribute.String("invoke.tool", event.Tool),
		attribute.String("invoke.target", event.Target),
	)
}

// addMetadataAttributes converts event metadata to span attributes.
//
// Well-known keys move into the invoke namespace; everything else keeps
// its raw key. Handles string, int, int64, float64, bool, and
// time.Duration (as milliseconds); other types fall back to %v.
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := key
		switch key {
		case "attempt":
			attrKey = "invoke.attempt"
		case "retries":
			attrKey = "invoke.retries"
		case "delay_ms":
			attrKey = "invoke.retry.delay_ms"
		case "duration_ms":
			attrKey = "invoke.duration_ms"
		case "kind":
			attrKey = "invoke.error.kind"
		case "fallback_tool":
			attrKey = "invoke.fallback.tool"
		case "primary_tool":
			attrKey = "invoke.fallback.primary"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
