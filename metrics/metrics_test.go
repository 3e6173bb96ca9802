package metrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oligo/txprop"
	"github.com/oligo/txprop/metrics"
	"github.com/oligo/txprop/txproptest"
)

type connTx = txprop.Status[*txproptest.Conn]

func TestObserver(t *testing.T) {
	t.Run("Should count transitions and physical outcomes", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		obs, err := metrics.New(reg, "shop")
		require.NoError(t, err)
		tm := txproptest.NewManager(txproptest.NewPool(), txprop.WithObservers(obs))
		ctx := context.Background()

		require.NoError(t, tm.Exec(ctx, func(tx *connTx) error {
			return tm.Exec(tx.Context(), func(*connTx) error { return nil })
		}))
		err = tm.Exec(ctx, func(tx *connTx) error {
			_ = tm.Exec(tx.Context(), func(*connTx) error { return errors.New("boom") })
			return nil
		})
		require.ErrorIs(t, err, txprop.ErrUnexpectedRollback)

		assert.Equal(t, 2.0, testutil.ToFloat64(obs.Counter("begin", "required")))
		assert.Equal(t, 2.0, testutil.ToFloat64(obs.Counter("participate", "required")))
		assert.Equal(t, 1.0, testutil.ToFloat64(obs.Counter("rollback_only", "required")))
		assert.Equal(t, 1.0, testutil.ToFloat64(obs.Outcome("commit", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(obs.Outcome("rollback", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(obs.UnexpectedRollbacks()))
		assert.Equal(t, 0.0, testutil.ToFloat64(obs.Active()))
	})

	t.Run("Should track open transactions", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		obs, err := metrics.New(reg, "shop")
		require.NoError(t, err)
		tm := txproptest.NewManager(txproptest.NewPool(), txprop.WithObservers(obs))

		require.NoError(t, tm.Exec(context.Background(), func(tx *connTx) error {
			assert.Equal(t, 1.0, testutil.ToFloat64(obs.Active()))
			return tm.Exec(tx.Context(), func(*connTx) error {
				assert.Equal(t, 2.0, testutil.ToFloat64(obs.Active()))
				return nil
			}, txprop.WithPropagation(txprop.PropagationRequiresNew))
		}))
		assert.Equal(t, 0.0, testutil.ToFloat64(obs.Active()))
	})

	t.Run("Should count failed physical outcomes", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		obs, err := metrics.New(reg, "shop")
		require.NoError(t, err)
		pool := txproptest.NewPool()
		pool.FailOn(txproptest.OpCommit, errors.New("disk full"))
		tm := txproptest.NewManager(pool, txprop.WithObservers(obs))

		require.Error(t, tm.Exec(context.Background(), func(*connTx) error { return nil }))
		assert.Equal(t, 1.0, testutil.ToFloat64(obs.Outcome("commit", "error")))
		assert.Equal(t, 0.0, testutil.ToFloat64(obs.Active()))
	})

	t.Run("Should fail to register twice", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := metrics.New(reg, "shop")
		require.NoError(t, err)
		_, err = metrics.New(reg, "shop")
		require.Error(t, err)
	})
}
