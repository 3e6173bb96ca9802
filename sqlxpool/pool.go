// Package sqlxpool adapts a sqlx database handle to txprop: every physical transaction is a
// database transaction begun with the definition's isolation level and read-only hint.
package sqlxpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/oligo/txprop"
)

// Pool implements txprop.ResourcePool[*Tx] over a *sqlx.DB.
type Pool struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Pool {
	if db == nil {
		panic("sqlxpool: db must not be nil")
	}
	return &Pool{db: db}
}

// NewTxManager returns a transaction manager over db.
func NewTxManager(db *sqlx.DB, opts ...txprop.ManagerOption) *txprop.TxManager[*Tx] {
	return txprop.NewTxManager[*Tx](New(db), opts...)
}

func (p *Pool) DB() *sqlx.DB {
	return p.db
}

// Acquire begins a database transaction. ctx bounds the whole transaction: database/sql rolls
// it back when ctx is done.
func (p *Pool) Acquire(ctx context.Context, def txprop.Definition) (*Tx, error) {
	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: def.Isolation(),
		ReadOnly:  def.ReadOnly(),
	})
	if err != nil {
		return nil, resourceError(ctx, txprop.ErrResourceUnavailable, fmt.Errorf("begin: %w", err))
	}
	return &Tx{tx: tx}, nil
}

// Release commits or rolls back tx.
func (p *Pool) Release(ctx context.Context, tx *Tx, outcome txprop.Outcome) error {
	if tx.done.Swap(true) {
		return txprop.ErrTransactionCompleted
	}

	var err error
	if outcome == txprop.OutcomeCommit {
		err = tx.tx.Commit()
	} else {
		err = tx.tx.Rollback()
	}
	if err != nil {
		return resourceError(ctx, nil, fmt.Errorf("%s: %w", outcome, err))
	}
	return nil
}

// resourceError tags err with ErrResourceTimeout when ctx hit its deadline, else with base.
func resourceError(ctx context.Context, base, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		base = txprop.ErrResourceTimeout
	}
	if base == nil {
		return err
	}
	return fmt.Errorf("%w: %w", base, err)
}
