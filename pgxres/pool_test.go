package pgxres_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oligo/txprop"
	"github.com/oligo/txprop/pgxres"
)

type pgTx = txprop.Status[*pgxres.Tx]

var errBoom = errors.New("boom")

func newManager(t *testing.T, db pgxres.Beginner) *txprop.TxManager[*pgxres.Tx] {
	t.Helper()
	logger, err := txprop.NewLogger(io.Discard, "debug")
	require.NoError(t, err)
	return pgxres.NewTxManager(db, txprop.WithLogger(logger))
}

func insertMember(tx *pgTx, name string) error {
	_, err := tx.Resource().Exec(tx.Context(), "INSERT INTO members (name) VALUES ($1)", name)
	return err
}

func TestPool_Exec(t *testing.T) {
	t.Run("Should begin with the definition options and commit", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		tm := newManager(t, mockPool)

		mockPool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadOnly})
		mockPool.ExpectQuery("SELECT count\\(\\*\\) FROM members").
			WillReturnRows(mockPool.NewRows([]string{"count"}).AddRow(3))
		mockPool.ExpectCommit()

		err = tm.Exec(context.Background(), func(tx *pgTx) error {
			var n int
			if err := tx.Resource().QueryRow(tx.Context(), "SELECT count(*) FROM members").Scan(&n); err != nil {
				return err
			}
			assert.Equal(t, 3, n)
			return nil
		}, txprop.WithIsolation(sql.LevelSerializable), txprop.WithReadOnly(true))
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should roll back once when a participant fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		tm := newManager(t, mockPool)

		mockPool.ExpectBeginTx(pgx.TxOptions{})
		mockPool.ExpectExec("INSERT INTO members").WithArgs("alice").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectRollback()

		err = tm.Exec(context.Background(), func(tx *pgTx) error {
			require.NoError(t, insertMember(tx, "alice"))
			_ = tm.Exec(tx.Context(), func(*pgTx) error { return errBoom })
			return nil
		})
		require.ErrorIs(t, err, txprop.ErrUnexpectedRollback)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should roll back to a savepoint for nested work", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		tm := newManager(t, mockPool)

		mockPool.ExpectBeginTx(pgx.TxOptions{})
		mockPool.ExpectExec("INSERT INTO members").WithArgs("alice").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec("SAVEPOINT TXPROP_SAVEPOINT_1").
			WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
		mockPool.ExpectExec("INSERT INTO members").WithArgs("bob").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec("ROLLBACK TO SAVEPOINT TXPROP_SAVEPOINT_1").
			WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
		mockPool.ExpectExec("RELEASE SAVEPOINT TXPROP_SAVEPOINT_1").
			WillReturnResult(pgxmock.NewResult("RELEASE", 0))
		mockPool.ExpectCommit()

		err = tm.Exec(context.Background(), func(tx *pgTx) error {
			require.NoError(t, insertMember(tx, "alice"))
			innerErr := tm.Exec(tx.Context(), func(inner *pgTx) error {
				require.NoError(t, insertMember(inner, "bob"))
				return errBoom
			}, txprop.WithPropagation(txprop.PropagationNested))
			require.ErrorIs(t, innerErr, errBoom)
			return nil
		})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should report begin failures as unavailable", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		tm := newManager(t, mockPool)

		mockPool.ExpectBeginTx(pgx.TxOptions{}).WillReturnError(errors.New("too many connections"))

		err = tm.Exec(context.Background(), func(*pgTx) error { return nil })
		require.ErrorIs(t, err, txprop.ErrResourceUnavailable)
		assert.Contains(t, err.Error(), "too many connections")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should pass through commit failures", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		tm := newManager(t, mockPool)

		mockPool.ExpectBeginTx(pgx.TxOptions{})
		mockPool.ExpectCommit().WillReturnError(errBoom)

		err = tm.Exec(context.Background(), func(*pgTx) error { return nil })
		require.ErrorIs(t, err, errBoom)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTxOptions(t *testing.T) {
	t.Run("Should map isolation levels and access mode", func(t *testing.T) {
		cases := map[sql.IsolationLevel]pgx.TxIsoLevel{
			sql.LevelDefault:         "",
			sql.LevelReadUncommitted: pgx.ReadUncommitted,
			sql.LevelReadCommitted:   pgx.ReadCommitted,
			sql.LevelRepeatableRead:  pgx.RepeatableRead,
			sql.LevelSnapshot:        pgx.RepeatableRead,
			sql.LevelSerializable:    pgx.Serializable,
		}
		for lvl, want := range cases {
			opts, err := pgxres.TxOptions(txprop.MustDefinition(txprop.WithIsolation(lvl)))
			require.NoError(t, err, lvl)
			assert.Equal(t, want, opts.IsoLevel, lvl)
			assert.Empty(t, opts.AccessMode)
		}

		opts, err := pgxres.TxOptions(txprop.MustDefinition(txprop.WithReadOnly(true)))
		require.NoError(t, err)
		assert.Equal(t, pgx.ReadOnly, opts.AccessMode)
	})

	t.Run("Should reject levels postgres lacks", func(t *testing.T) {
		_, err := pgxres.TxOptions(txprop.MustDefinition(txprop.WithIsolation(sql.LevelLinearizable)))
		require.ErrorIs(t, err, txprop.ErrInvalidDefinition)
	})

	t.Run("Should refuse statements after completion", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		tm := newManager(t, mockPool)

		mockPool.ExpectBeginTx(pgx.TxOptions{})
		mockPool.ExpectCommit()

		var leaked *pgxres.Tx
		require.NoError(t, tm.Exec(context.Background(), func(tx *pgTx) error {
			leaked = tx.Resource()
			return nil
		}))

		_, err = leaked.Exec(context.Background(), "DELETE FROM members")
		require.ErrorIs(t, err, txprop.ErrTransactionCompleted)
		var n int
		require.ErrorIs(t, leaked.QueryRow(context.Background(), "SELECT 1").Scan(&n), txprop.ErrTransactionCompleted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
