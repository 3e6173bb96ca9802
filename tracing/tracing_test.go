package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/oligo/txprop"
	"github.com/oligo/txprop/tracing"
	"github.com/oligo/txprop/txproptest"
)

type connTx = txprop.Status[*txproptest.Conn]

func record(t *testing.T, fn func(ctx context.Context)) sdktrace.ReadOnlySpan {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("txprop-test").Start(context.Background(), "checkout")
	fn(ctx)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	return spans[0]
}

func eventNames(span sdktrace.ReadOnlySpan) []string {
	var names []string
	for _, ev := range span.Events() {
		if ev.Name != "exception" {
			names = append(names, ev.Name)
		}
	}
	return names
}

func TestObserver(t *testing.T) {
	t.Run("Should add span events for each transition", func(t *testing.T) {
		tm := txproptest.NewManager(txproptest.NewPool(), txprop.WithObservers(tracing.New()))

		span := record(t, func(ctx context.Context) {
			require.NoError(t, tm.Exec(ctx, func(tx *connTx) error {
				return tm.Exec(tx.Context(), func(*connTx) error { return nil },
					txprop.WithPropagation(txprop.PropagationNested))
			}, txprop.WithName("checkout")))
		})

		assert.Equal(t, []string{
			"txprop.begin",
			"txprop.savepoint",
			"txprop.release_savepoint",
			"txprop.commit",
		}, eventNames(span))
		assert.Equal(t, codes.Unset, span.Status().Code)

		attrs := map[string]string{}
		for _, kv := range span.Events()[0].Attributes {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		assert.Equal(t, "required", attrs["txprop.propagation"])
		assert.Equal(t, "checkout", attrs["txprop.name"])
		assert.Equal(t, "true", attrs["txprop.new_transaction"])
	})

	t.Run("Should mark the span as failed on an unexpected rollback", func(t *testing.T) {
		tm := txproptest.NewManager(txproptest.NewPool(), txprop.WithObservers(tracing.New()))

		span := record(t, func(ctx context.Context) {
			err := tm.Exec(ctx, func(tx *connTx) error {
				_ = tm.Exec(tx.Context(), func(*connTx) error { return errors.New("boom") })
				return nil
			})
			require.ErrorIs(t, err, txprop.ErrUnexpectedRollback)
		})

		assert.Contains(t, eventNames(span), "txprop.rollback_only")
		assert.Contains(t, eventNames(span), "txprop.unexpected_rollback")
		assert.Equal(t, codes.Error, span.Status().Code)
	})

	t.Run("Should record physical failures as span errors", func(t *testing.T) {
		pool := txproptest.NewPool()
		pool.FailOn(txproptest.OpCommit, errors.New("disk full"))
		tm := txproptest.NewManager(pool, txprop.WithObservers(tracing.New()))

		span := record(t, func(ctx context.Context) {
			require.Error(t, tm.Exec(ctx, func(*connTx) error { return nil }))
		})

		var exceptions int
		for _, ev := range span.Events() {
			if ev.Name == "exception" {
				exceptions++
			}
		}
		assert.Equal(t, 1, exceptions)
		assert.Equal(t, codes.Error, span.Status().Code)
	})

	t.Run("Should ignore transitions without a recording span", func(t *testing.T) {
		tm := txproptest.NewManager(txproptest.NewPool(), txprop.WithObservers(tracing.New()))
		require.NoError(t, tm.Exec(context.Background(), func(*connTx) error { return nil }))
	})
}
