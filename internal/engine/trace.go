package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/dgate/internal/core"
)

// track starts a span and returns the func that ends it with err.
func (e *Engine) track(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := e.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func runAttrs(key core.RunKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("dgate.tenant_id", key.TenantID),
		attribute.String("dgate.namespace_id", key.NamespaceID),
		attribute.String("dgate.run_id", key.RunID),
	}
}
