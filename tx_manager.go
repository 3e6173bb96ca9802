// Package txprop implements local transaction propagation: nested transactional calls that
// share one physical resource decide whether to begin a new transaction, join the existing
// one or suspend it, and commit/rollback outcomes are resolved across the nesting.
package txprop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TxManager implements the propagation engine and outcome coordinator for one resource pool.
// Transaction state lives in a Scope bound to the context, never in the manager, so a single
// manager serves any number of goroutines.
type TxManager[R any] struct {
	pool      ResourcePool[R]
	key       scopeKey
	defaults  Definition
	logger    Logger
	observers []Observer
	failEarly bool
	now       func() time.Time
}

// ManagerOption configures a TxManager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	defaults  Definition
	logger    Logger
	observers []Observer
	failEarly bool
}

// WithLogger replaces the default charm logger.
func WithLogger(l Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = l }
}

// WithObservers registers observers notified on every transition.
func WithObservers(obs ...Observer) ManagerOption {
	return func(o *managerOptions) { o.observers = append(o.observers, obs...) }
}

// WithDefaultDefinition sets the definition Exec derives call-site definitions from.
func WithDefaultDefinition(def Definition) ManagerOption {
	return func(o *managerOptions) { o.defaults = def }
}

// WithFailEarlyOnGlobalRollbackOnly makes participants report ErrUnexpectedRollback when they
// commit on a holder already marked rollback-only, instead of only the owner.
func WithFailEarlyOnGlobalRollbackOnly(failEarly bool) ManagerOption {
	return func(o *managerOptions) { o.failEarly = failEarly }
}

func NewTxManager[R any](pool ResourcePool[R], opts ...ManagerOption) *TxManager[R] {
	if pool == nil {
		panic("txprop: resource pool must not be nil")
	}
	o := &managerOptions{defaults: defaultDefinition()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	return &TxManager[R]{
		pool:      pool,
		key:       scopeKey{id: uuid.NewString()},
		defaults:  o.defaults,
		logger:    o.logger,
		observers: append([]Observer{NewLogObserver(o.logger)}, o.observers...),
		failEarly: o.failEarly,
		now:       time.Now,
	}
}

// DefaultDefinition returns the definition call-site options are applied to.
func (tm *TxManager[R]) DefaultDefinition() Definition {
	return tm.defaults
}

// WithScope binds a fresh, empty scope to ctx. Transactions begun with the returned context
// (and contexts derived from it) nest inside each other.
func (tm *TxManager[R]) WithScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, tm.key, &Scope[R]{})
}

// Detach is WithScope under the name used when handing a context to another goroutine: the
// new flow of control starts without a transaction instead of sharing the caller's.
func (tm *TxManager[R]) Detach(ctx context.Context) context.Context {
	return tm.WithScope(ctx)
}

func (tm *TxManager[R]) bindScope(ctx context.Context) (context.Context, *Scope[R]) {
	if s, ok := scopeFrom[R](ctx, tm.key); ok {
		return ctx, s
	}
	s := &Scope[R]{}
	return context.WithValue(ctx, tm.key, s), s
}

// GetTransaction returns a status for def according to its propagation and the transaction
// currently active in ctx. The work must use the returned status's Context.
func (tm *TxManager[R]) GetTransaction(ctx context.Context, def Definition) (*Status[R], error) {
	if ctx == nil {
		panic("context must not be nil")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	ctx, scope := tm.bindScope(ctx)
	if existing := scope.current(); existing != nil {
		return tm.handleExistingTransaction(ctx, scope, existing, def)
	}

	switch def.propagation {
	case PropagationMandatory:
		return nil, ErrNoExistingTransaction
	case PropagationRequired, PropagationRequiresNew, PropagationNested:
		return tm.begin(ctx, scope, def, nil)
	default:
		// supports, never and not supported run without a transaction
		return newStatus(ctx, scope, def, nil, false, nil), nil
	}
}

func (tm *TxManager[R]) handleExistingTransaction(ctx context.Context, scope *Scope[R], existing *ResourceHolder[R], def Definition) (*Status[R], error) {
	switch def.propagation {
	case PropagationNever:
		return nil, ErrExistingTransaction

	case PropagationNotSupported:
		suspended := scope.suspend()
		st := newStatus(ctx, scope, def, nil, false, suspended)
		tm.notify(st, EventSuspend, false, nil)
		return st, nil

	case PropagationRequiresNew:
		suspended := scope.suspend()
		st, err := tm.begin(ctx, scope, def, suspended)
		if err != nil {
			if resumeErr := scope.resume(suspended); resumeErr != nil {
				return nil, errors.Join(err, resumeErr)
			}
			return nil, err
		}
		return st, nil

	case PropagationNested:
		sp, ok := existing.savepointer()
		if !ok {
			return nil, ErrNestedNotSupported
		}
		name := existing.nextSavepoint()
		if err := sp.CreateSavepoint(ctx, name); err != nil {
			return nil, err
		}
		existing.savepointDepth++
		st := newStatus(ctx, scope, def, existing, false, nil)
		st.savepoint = name
		tm.notify(st, EventSavepoint, true, nil)
		return st, nil

	default:
		// required, supports and mandatory join the existing transaction
		st := newStatus(ctx, scope, def, existing, false, nil)
		tm.notify(st, EventParticipate, false, nil)
		return st, nil
	}
}

// begin acquires a fresh resource and pushes its holder.
func (tm *TxManager[R]) begin(ctx context.Context, scope *Scope[R], def Definition, suspended *ResourceHolder[R]) (*Status[R], error) {
	txCtx, cancel := ctx, context.CancelFunc(func() {})
	if def.timeout > 0 {
		txCtx, cancel = context.WithTimeout(ctx, def.timeout)
	}

	res, err := tm.pool.Acquire(txCtx, def)
	if err != nil {
		cancel()
		return nil, err
	}

	holder := newResourceHolder(txCtx, cancel, res, def)
	scope.push(holder)
	st := newStatus(txCtx, scope, def, holder, true, suspended)
	if suspended != nil {
		tm.notify(st, EventSuspend, false, nil)
	}
	tm.notify(st, EventBegin, true, nil)
	return st, nil
}

// Commit completes st. A rollback-only status is rolled back instead; when the shared holder
// was poisoned by a participant the owner gets ErrUnexpectedRollback after the physical
// rollback. Participants never touch the resource.
func (tm *TxManager[R]) Commit(st *Status[R]) error {
	if st == nil {
		return fmt.Errorf("%w: nil transaction status", ErrIllegalState)
	}
	if err := st.checkState(); err != nil {
		return err
	}

	if st.localRollbackOnly {
		return tm.processRollback(st)
	}

	if st.isGlobalRollbackOnly() {
		if err := tm.processRollback(st); err != nil {
			return err
		}
		if st.newTransaction || (tm.failEarly && !st.HasSavepoint()) {
			tm.notify(st, EventUnexpectedRollback, false, nil)
			return ErrUnexpectedRollback
		}
		return nil
	}

	return tm.processCommit(st)
}

// Rollback completes st with a rollback. The owner rolls back physically, a savepoint status
// rolls back to its savepoint and a participant marks the shared holder rollback-only.
func (tm *TxManager[R]) Rollback(st *Status[R]) error {
	if st == nil {
		return fmt.Errorf("%w: nil transaction status", ErrIllegalState)
	}
	if err := st.checkState(); err != nil {
		return err
	}
	return tm.processRollback(st)
}

func (tm *TxManager[R]) processCommit(st *Status[R]) error {
	var err error
	switch {
	case st.HasSavepoint():
		err = tm.releaseSavepoint(st)
	case st.newTransaction:
		if err = st.scope.checkTop(st.holder); err != nil {
			return err
		}
		err = tm.finish(st, OutcomeCommit)
	case st.holder != nil:
		tm.notify(st, EventCommit, false, nil)
	}
	return tm.complete(st, err)
}

func (tm *TxManager[R]) processRollback(st *Status[R]) error {
	var err error
	switch {
	case st.HasSavepoint():
		err = tm.rollbackToSavepoint(st)
	case st.newTransaction:
		if err = st.scope.checkTop(st.holder); err != nil {
			return err
		}
		err = tm.finish(st, OutcomeRollback)
	case st.holder != nil:
		st.holder.SetRollbackOnly()
		tm.notify(st, EventRollbackOnly, false, nil)
	}
	return tm.complete(st, err)
}

// finish releases the holder's resource with outcome and pops it. The holder is popped even
// when the physical operation fails, so the stack never keeps a released holder.
func (tm *TxManager[R]) finish(st *Status[R], outcome Outcome) error {
	event := EventCommit
	if outcome == OutcomeRollback {
		event = EventRollback
	}
	err := st.holder.release(tm.pool, outcome)
	if _, popErr := st.scope.pop(); popErr != nil && err == nil {
		err = popErr
	}
	tm.notify(st, event, true, err)
	return err
}

func (tm *TxManager[R]) releaseSavepoint(st *Status[R]) error {
	sp, _ := st.holder.savepointer()
	err := sp.ReleaseSavepoint(st.ctx, st.savepoint)
	st.holder.savepointDepth--
	tm.notify(st, EventReleaseSavepoint, true, err)
	return err
}

func (tm *TxManager[R]) rollbackToSavepoint(st *Status[R]) error {
	sp, _ := st.holder.savepointer()
	err := sp.RollbackToSavepoint(st.ctx, st.savepoint)
	if err == nil {
		err = sp.ReleaseSavepoint(st.ctx, st.savepoint)
	}
	st.holder.savepointDepth--
	tm.notify(st, EventRollbackToSavepoint, true, err)
	return err
}

// complete marks st completed and resumes the holder it suspended. The physical error, if
// any, takes precedence over a resume failure.
func (tm *TxManager[R]) complete(st *Status[R], err error) error {
	st.completed = true
	if st.suspendedParent == nil {
		return err
	}
	resumeErr := st.scope.resume(st.suspendedParent)
	tm.notify(st, EventResume, false, resumeErr)
	if err != nil {
		return err
	}
	return resumeErr
}

func (tm *TxManager[R]) notify(st *Status[R], typ EventType, physical bool, err error) {
	ev := Event{
		Type:           typ,
		TxID:           st.id,
		Name:           st.def.name,
		Propagation:    st.def.propagation,
		NewTransaction: st.newTransaction,
		Physical:       physical,
		Savepoint:      st.savepoint,
		Depth:          st.scope.Depth(),
		Err:            err,
		Time:           tm.now(),
	}
	if st.holder != nil {
		ev.HolderID = st.holder.id
	}
	tm.emit(st.ctx, ev)
}

func (tm *TxManager[R]) emit(ctx context.Context, ev Event) {
	for _, o := range tm.observers {
		o.OnEvent(ctx, ev)
	}
}

// IsActualTransactionActive reports whether ctx runs inside an active physical transaction.
func (tm *TxManager[R]) IsActualTransactionActive(ctx context.Context) bool {
	s, ok := scopeFrom[R](ctx, tm.key)
	return ok && s.current() != nil
}

// IsCurrentTransactionReadOnly reports the read-only hint of the active transaction.
func (tm *TxManager[R]) IsCurrentTransactionReadOnly(ctx context.Context) bool {
	if h := tm.currentHolder(ctx); h != nil {
		return h.def.readOnly
	}
	return false
}

// CurrentTransactionName returns the name of the definition that began the active
// transaction.
func (tm *TxManager[R]) CurrentTransactionName(ctx context.Context) string {
	if h := tm.currentHolder(ctx); h != nil {
		return h.def.name
	}
	return ""
}

// CurrentResource returns the resource of the active transaction.
func (tm *TxManager[R]) CurrentResource(ctx context.Context) (R, bool) {
	if h := tm.currentHolder(ctx); h != nil {
		return h.resource, true
	}
	var zero R
	return zero, false
}

// ScopeDepth returns the number of holders bound to ctx, suspended ones included.
func (tm *TxManager[R]) ScopeDepth(ctx context.Context) int {
	if s, ok := scopeFrom[R](ctx, tm.key); ok {
		return s.Depth()
	}
	return 0
}

func (tm *TxManager[R]) currentHolder(ctx context.Context) *ResourceHolder[R] {
	if s, ok := scopeFrom[R](ctx, tm.key); ok {
		return s.current()
	}
	return nil
}
