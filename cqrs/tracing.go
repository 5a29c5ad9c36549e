package cqrs

import (
	"context"
	"encoding/hex"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
)

// TracingInjectCommand opens a span around command handling. The active span
// context rides on ctx from here on, so metadata enrichment on any event the
// handler raises picks up trace id, span id and flags from it.
func TracingInjectCommand(tracer trace.Tracer) CommandMiddleware {
	return func(next CommandHandlerFunc) CommandHandlerFunc {
		return func(ctx context.Context, cmd Command) (int64, error) {
			ctx, span := tracer.Start(ctx, cmd.CommandType(),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("eaf.command_type", cmd.CommandType()),
					attribute.String("eaf.aggregate_id", cmd.AggregateID()),
				))
			defer span.End()

			v, err := next(ctx, cmd)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return v, err
		}
	}
}

// TracingRestoreEvent reconstructs the producing span context from event
// metadata and starts a child span named after the event type. Metadata
// without usable trace ids still gets a span, just without a remote parent.
// Trace flags are carried verbatim so the producer's sampling decision holds
// across the asynchronous hop.
func TracingRestoreEvent(tracer trace.Tracer) EventMiddleware {
	return func(next EventHandlerFunc) EventHandlerFunc {
		return func(ctx context.Context, evt eventstore.Event) error {
			if sc, ok := remoteSpanContext(evt.Metadata); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
			}
			ctx, span := tracer.Start(ctx, evt.EventType,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("eaf.event_type", evt.EventType),
					attribute.String("eaf.aggregate_id", evt.AggregateID),
					attribute.Int64("eaf.event_version", evt.Version),
				))
			defer span.End()

			if err := next(ctx, evt); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			return nil
		}
	}
}

func remoteSpanContext(m eventstore.Metadata) (trace.SpanContext, bool) {
	traceID, err := trace.TraceIDFromHex(m.TraceID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(m.SpanID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if b, err := hex.DecodeString(m.TraceFlags); err == nil && len(b) == 1 {
		flags = trace.TraceFlags(b[0])
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sc.IsValid()
}
