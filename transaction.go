package txprop

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Status is the handle of one logical transaction. Several statuses may share a
// ResourceHolder; only the one that created it (IsNewTransaction) completes it physically.
type Status[R any] struct {
	id    string
	def   Definition
	ctx   context.Context
	scope *Scope[R]

	// holder is nil when running without a transaction
	holder *ResourceHolder[R]

	newTransaction  bool
	suspendedParent *ResourceHolder[R]
	savepoint       string

	localRollbackOnly bool
	completed         bool
}

func newStatus[R any](ctx context.Context, scope *Scope[R], def Definition, holder *ResourceHolder[R], newTransaction bool, suspended *ResourceHolder[R]) *Status[R] {
	return &Status[R]{
		id:              uuid.NewString(),
		def:             def,
		ctx:             ctx,
		scope:           scope,
		holder:          holder,
		newTransaction:  newTransaction,
		suspendedParent: suspended,
	}
}

func (t *Status[R]) String() string {
	return fmt.Sprintf("tx-%s", t.id)
}

func (t *Status[R]) ID() string { return t.id }

// Context returns the context the work of this transaction must run with. It carries the
// scope, so nested GetTransaction calls made with it see this transaction.
func (t *Status[R]) Context() context.Context { return t.ctx }

func (t *Status[R]) Definition() Definition { return t.def }

func (t *Status[R]) Name() string { return t.def.name }

// IsNewTransaction reports whether this status began the physical transaction.
func (t *Status[R]) IsNewTransaction() bool { return t.newTransaction }

// HasTransaction reports whether the status runs inside a physical transaction at all.
func (t *Status[R]) HasTransaction() bool { return t.holder != nil }

// HasSavepoint reports whether this status owns a savepoint (nested propagation).
func (t *Status[R]) HasSavepoint() bool { return t.savepoint != "" }

// ReadOnly reports the read-only hint of the physical transaction, or of the status's own
// definition when there is none.
func (t *Status[R]) ReadOnly() bool {
	if t.holder != nil {
		return t.holder.def.readOnly
	}
	return t.def.readOnly
}

// Resource returns the physical resource. The zero value is returned when the status runs
// without a transaction.
func (t *Status[R]) Resource() R {
	if t.holder == nil {
		var zero R
		return zero
	}
	return t.holder.resource
}

// Holder returns the shared resource holder, nil without a transaction.
func (t *Status[R]) Holder() *ResourceHolder[R] { return t.holder }

// SetRollbackOnly requests that this logical transaction ends in a rollback. Committing the
// status then behaves like Rollback without reporting ErrUnexpectedRollback.
func (t *Status[R]) SetRollbackOnly() {
	t.localRollbackOnly = true
}

// IsRollbackOnly reports whether either this status or its shared holder is rollback-only.
func (t *Status[R]) IsRollbackOnly() bool {
	return t.localRollbackOnly || t.isGlobalRollbackOnly()
}

func (t *Status[R]) isGlobalRollbackOnly() bool {
	return t.holder != nil && t.holder.rollbackOnly
}

func (t *Status[R]) IsCompleted() bool { return t.completed }

func (t *Status[R]) checkState() error {
	if t.completed {
		return ErrTransactionCompleted
	}
	if t.holder != nil && t.holder.released {
		return fmt.Errorf("%w: resource of %s already released", ErrTransactionCompleted, t)
	}
	return nil
}
