package txprop

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ResourceHolder owns the physical resource of one logical transaction, which may be shared
// by several participating statuses.
type ResourceHolder[R any] struct {
	id       string
	resource R
	def      Definition
	ctx      context.Context
	cancel   context.CancelFunc

	// rollbackOnly only ever goes from false to true
	rollbackOnly bool
	suspended    bool
	released     bool

	savepointSeq   int
	savepointDepth int
}

func newResourceHolder[R any](ctx context.Context, cancel context.CancelFunc, res R, def Definition) *ResourceHolder[R] {
	return &ResourceHolder[R]{
		id:       uuid.NewString(),
		resource: res,
		def:      def,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (h *ResourceHolder[R]) String() string {
	return fmt.Sprintf("holder-%s", h.id)
}

func (h *ResourceHolder[R]) ID() string { return h.id }

// Resource returns the physical resource.
func (h *ResourceHolder[R]) Resource() R { return h.resource }

// Definition returns the definition the physical transaction was begun with.
func (h *ResourceHolder[R]) Definition() Definition { return h.def }

func (h *ResourceHolder[R]) IsRollbackOnly() bool { return h.rollbackOnly }

// SetRollbackOnly poisons the holder; its owner's commit turns into a rollback.
func (h *ResourceHolder[R]) SetRollbackOnly() { h.rollbackOnly = true }

func (h *ResourceHolder[R]) IsSuspended() bool { return h.suspended }

func (h *ResourceHolder[R]) IsReleased() bool { return h.released }

// SavepointDepth is the number of savepoints currently held on the resource.
func (h *ResourceHolder[R]) SavepointDepth() int { return h.savepointDepth }

func (h *ResourceHolder[R]) nextSavepoint() string {
	h.savepointSeq++
	return fmt.Sprintf("TXPROP_SAVEPOINT_%d", h.savepointSeq)
}

func (h *ResourceHolder[R]) savepointer() (Savepointer, bool) {
	sp, ok := any(h.resource).(Savepointer)
	return sp, ok
}

// release hands the resource back to the pool. It runs at most once; a second call reports
// ErrTransactionCompleted without touching the pool.
func (h *ResourceHolder[R]) release(pool ResourcePool[R], outcome Outcome) error {
	if h.released {
		return ErrTransactionCompleted
	}
	h.released = true
	err := pool.Release(h.ctx, h.resource, outcome)
	h.cancel()
	return err
}
