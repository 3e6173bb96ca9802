package sqlxpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"github.com/oligo/txprop"
)

// Tx is a physical database transaction handed out by Pool. Its query helpers fail with
// txprop.ErrTransactionCompleted once the owning transaction was committed or rolled back.
type Tx struct {
	tx *sqlx.Tx

	// done is set when the pool releases the tx; later queries are refused
	done atomic.Bool
}

func (t *Tx) checkState() error {
	if t == nil || t.tx == nil || t.done.Load() {
		return txprop.ErrTransactionCompleted
	}
	return nil
}

// Unwrap returns the underlying sqlx transaction for queries the helpers do not cover. It must
// not be committed or rolled back directly.
func (t *Tx) Unwrap() *sqlx.Tx {
	return t.tx
}

// GetOne is the sqlx.Get wrapper
func (t *Tx) GetOne(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := t.checkState(); err != nil {
		return err
	}

	// dest should be a pointer to a struct/map
	return t.tx.GetContext(ctx, dest, query, args...)
}

// Insert implements sql insert logic and returns generated ID
func (t *Tx) Insert(ctx context.Context, query string, arg interface{}) (int64, error) {
	if err := t.checkState(); err != nil {
		return 0, err
	}

	result, err := t.tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("insert failed: %w", err)
	}

	resultID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert failed: %w", err)
	}

	return resultID, nil
}

func (t *Tx) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := t.checkState(); err != nil {
		return err
	}

	if err := t.tx.SelectContext(ctx, dest, query, args...); err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	return nil
}

// Update execute a update sql using sqlx NamedExec and returns the number of affected rows.
// The struct field naming conventions follow that of StructScan, using the NameMapper and
// the db struct tag.
func (t *Tx) Update(ctx context.Context, query string, arg interface{}) (int64, error) {
	if err := t.checkState(); err != nil {
		return 0, err
	}

	result, err := t.tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("update failed: %w", err)
	}

	updatedRows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update entity failed: %w", err)
	}

	return updatedRows, nil
}

// Delete fails with sql.ErrNoRows when nothing was deleted.
func (t *Tx) Delete(ctx context.Context, query string, arg interface{}) error {
	if err := t.checkState(); err != nil {
		return err
	}

	result, err := t.tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}

	deletedRows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entity failed: %w", err)
	}
	if deletedRows <= 0 {
		return fmt.Errorf("delete entity failed: %w", sql.ErrNoRows)
	}

	return nil
}

// Exec runs a statement with positional arguments.
func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := t.checkState(); err != nil {
		return nil, err
	}
	return t.tx.ExecContext(ctx, query, args...)
}

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
	if err := t.checkState(); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	return nil
}
