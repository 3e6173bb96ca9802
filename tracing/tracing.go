// Package tracing records transaction transitions as events on the OpenTelemetry span active
// in the transaction's context.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oligo/txprop"
)

const eventPrefix = "txprop."

// Observer is a txprop.Observer adding span events. Transitions outside a recording span are
// ignored.
type Observer struct{}

func New() *Observer {
	return &Observer{}
}

func (o *Observer) OnEvent(ctx context.Context, ev txprop.Event) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("txprop.tx_id", ev.TxID),
		attribute.String("txprop.propagation", ev.Propagation.String()),
		attribute.Bool("txprop.new_transaction", ev.NewTransaction),
		attribute.Bool("txprop.physical", ev.Physical),
		attribute.Int("txprop.depth", ev.Depth),
	}
	if ev.HolderID != "" {
		attrs = append(attrs, attribute.String("txprop.holder_id", ev.HolderID))
	}
	if ev.Name != "" {
		attrs = append(attrs, attribute.String("txprop.name", ev.Name))
	}
	if ev.Savepoint != "" {
		attrs = append(attrs, attribute.String("txprop.savepoint", ev.Savepoint))
	}
	span.AddEvent(eventPrefix+ev.Type.String(), trace.WithAttributes(attrs...))

	switch {
	case ev.Err != nil:
		span.RecordError(ev.Err, trace.WithAttributes(attribute.String("txprop.event", ev.Type.String())))
		span.SetStatus(codes.Error, ev.Type.String()+" failed")
	case ev.Type == txprop.EventUnexpectedRollback:
		span.SetStatus(codes.Error, txprop.ErrUnexpectedRollback.Error())
	}
}
