package txprop

import (
	"context"
	"fmt"
)

// TxFunc is a unit of work run by Exec. It must use tx.Context() for anything that may start
// a nested transaction.
type TxFunc[R any] func(tx *Status[R]) error

// PanicError wraps a value recovered from a panicking unit of work. A panic always rolls
// back, whatever the rules say.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("txprop: panic in transactional work: %v", p.Value)
}

// Exec runs txFunc in a transaction whose definition is the manager default with opts
// applied. A malformed definition is reported before any resource is touched.
//
// When txFunc returns nil the status is committed and the commit error, e.g.
// ErrUnexpectedRollback, is returned. When it fails, the definition's rules decide between
// commit and rollback and the original error is returned unchanged; a failure to complete the
// transaction is then reported to the observers as EventSecondaryError. A panic rolls back and
// is re-raised.
func (tm *TxManager[R]) Exec(ctx context.Context, txFunc TxFunc[R], opts ...Option) error {
	def, err := tm.defaults.With(opts...)
	if err != nil {
		return err
	}
	return tm.ExecDefinition(ctx, def, txFunc)
}

// ExecDefinition is Exec with a prepared definition.
func (tm *TxManager[R]) ExecDefinition(ctx context.Context, def Definition, txFunc TxFunc[R]) error {
	if ctx == nil {
		panic("context must not be nil")
	}
	if txFunc == nil {
		panic("txprop: transactional work must not be nil")
	}

	tx, err := tm.GetTransaction(ctx, def)
	if err != nil {
		return err
	}

	// rollback the tx when txFunc panics before tx is committed or rolled back.
	defer func() {
		if r := recover(); r != nil {
			if !tx.completed {
				tm.completeAfterFailure(tx, &PanicError{Value: r})
			}
			panic(r)
		}
	}()

	if workErr := txFunc(tx); workErr != nil {
		tm.completeAfterFailure(tx, workErr)
		return workErr
	}
	return tm.Commit(tx)
}

// completeAfterFailure finalizes tx after workErr. Errors from the finalization never replace
// workErr; they go to the observers.
func (tm *TxManager[R]) completeAfterFailure(tx *Status[R], workErr error) {
	if tx.completed {
		return
	}

	_, panicked := workErr.(*PanicError)
	var err error
	if panicked || tx.def.Classify(workErr).Rollback {
		err = tm.Rollback(tx)
	} else {
		err = tm.Commit(tx)
	}
	if err != nil {
		tm.secondaryError(tx, workErr, err)
	}
}

func (tm *TxManager[R]) secondaryError(tx *Status[R], cause, err error) {
	ev := Event{
		Type:           EventSecondaryError,
		TxID:           tx.id,
		Name:           tx.def.name,
		Propagation:    tx.def.propagation,
		NewTransaction: tx.newTransaction,
		Depth:          tx.scope.Depth(),
		Err:            err,
		Cause:          cause,
		Time:           tm.now(),
	}
	if tx.holder != nil {
		ev.HolderID = tx.holder.id
	}
	tm.emit(tx.ctx, ev)
}

// Run is Exec for work that produces a value. The value is returned only when the
// transaction committed.
func Run[R, T any](ctx context.Context, tm *TxManager[R], fn func(tx *Status[R]) (T, error), opts ...Option) (T, error) {
	var out T
	err := tm.Exec(ctx, func(tx *Status[R]) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
