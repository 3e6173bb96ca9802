// Package pgxres adapts pgx to txprop. Physical transactions are pgx transactions; nested
// propagation uses SQL savepoints.
package pgxres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oligo/txprop"
)

// Beginner is the part of *pgxpool.Pool (or pgxmock) the pool depends on.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Tx is a pgx transaction owned by the transaction manager.
type Tx struct {
	tx   pgx.Tx
	done atomic.Bool
}

func (t *Tx) checkState() error {
	if t == nil || t.tx == nil || t.done.Load() {
		return txprop.ErrTransactionCompleted
	}
	return nil
}

// Unwrap returns the pgx transaction. It must not be committed or rolled back directly.
func (t *Tx) Unwrap() pgx.Tx { return t.tx }

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := t.checkState(); err != nil {
		return pgconn.CommandTag{}, err
	}
	return t.tx.Exec(ctx, sql, args...)
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := t.checkState(); err != nil {
		return nil, err
	}
	return t.tx.Query(ctx, sql, args...)
}

// QueryRow reports ErrTransactionCompleted from Scan once the transaction is done.
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := t.checkState(); err != nil {
		return errRow{err: err}
	}
	return t.tx.QueryRow(ctx, sql, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func (t *Tx) CreateSavepoint(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "SAVEPOINT "+name)
}

func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "ROLLBACK TO SAVEPOINT "+name)
}

func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "RELEASE SAVEPOINT "+name)
}

func (t *Tx) savepointExec(ctx context.Context, stmt string) error {
	if _, err := t.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	return nil
}

// Pool implements txprop.ResourcePool[*Tx].
type Pool struct {
	db Beginner
}

func New(db Beginner) *Pool {
	if db == nil {
		panic("pgxres: db must not be nil")
	}
	return &Pool{db: db}
}

// NewTxManager returns a transaction manager over db.
func NewTxManager(db Beginner, opts ...txprop.ManagerOption) *txprop.TxManager[*Tx] {
	return txprop.NewTxManager[*Tx](New(db), opts...)
}

// TxOptions maps def to pgx options. Isolation levels PostgreSQL has no counterpart for are
// rejected with txprop.ErrInvalidDefinition.
func TxOptions(def txprop.Definition) (pgx.TxOptions, error) {
	var opts pgx.TxOptions
	switch def.Isolation() {
	case sql.LevelDefault:
	case sql.LevelReadUncommitted:
		opts.IsoLevel = pgx.ReadUncommitted
	case sql.LevelReadCommitted:
		opts.IsoLevel = pgx.ReadCommitted
	case sql.LevelRepeatableRead, sql.LevelSnapshot:
		opts.IsoLevel = pgx.RepeatableRead
	case sql.LevelSerializable:
		opts.IsoLevel = pgx.Serializable
	default:
		return opts, fmt.Errorf("%w: isolation level %s is not supported by postgres",
			txprop.ErrInvalidDefinition, def.Isolation())
	}
	if def.ReadOnly() {
		opts.AccessMode = pgx.ReadOnly
	}
	return opts, nil
}

func (p *Pool) Acquire(ctx context.Context, def txprop.Definition) (*Tx, error) {
	opts, err := TxOptions(def)
	if err != nil {
		return nil, err
	}
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, resourceError(ctx, txprop.ErrResourceUnavailable, fmt.Errorf("begin: %w", err))
	}
	return &Tx{tx: tx}, nil
}

func (p *Pool) Release(ctx context.Context, tx *Tx, outcome txprop.Outcome) error {
	if tx.done.Swap(true) {
		return txprop.ErrTransactionCompleted
	}

	var err error
	if outcome == txprop.OutcomeCommit {
		err = tx.tx.Commit(ctx)
	} else {
		err = tx.tx.Rollback(ctx)
	}
	if err != nil {
		return resourceError(ctx, nil, fmt.Errorf("%s: %w", outcome, err))
	}
	return nil
}

func resourceError(ctx context.Context, base, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		base = txprop.ErrResourceTimeout
	}
	if base == nil {
		return err
	}
	return fmt.Errorf("%w: %w", base, err)
}
