package txprop

import (
	"context"
	"fmt"
)

// Scope is the stack of resource holders of one flow of control. At most the top holder is
// active; every holder below it is suspended.
//
// A Scope is bound to a context by a TxManager and must not be shared between goroutines.
// Use TxManager.Detach to give a spawned goroutine its own scope.
type Scope[R any] struct {
	holders []*ResourceHolder[R]
}

type scopeKey struct {
	id string
}

// Depth returns the number of holders on the stack, suspended ones included.
func (s *Scope[R]) Depth() int {
	return len(s.holders)
}

func (s *Scope[R]) push(h *ResourceHolder[R]) {
	s.holders = append(s.holders, h)
}

func (s *Scope[R]) top() *ResourceHolder[R] {
	if len(s.holders) == 0 {
		return nil
	}
	return s.holders[len(s.holders)-1]
}

// pop removes and returns the top holder.
func (s *Scope[R]) pop() (*ResourceHolder[R], error) {
	h := s.top()
	if h == nil {
		return nil, ErrEmptyStack
	}
	s.holders[len(s.holders)-1] = nil
	s.holders = s.holders[:len(s.holders)-1]
	return h, nil
}

// current returns the active holder, or nil when running without a transaction.
func (s *Scope[R]) current() *ResourceHolder[R] {
	h := s.top()
	if h == nil || h.suspended {
		return nil
	}
	return h
}

// checkTop fails unless h is the top of the stack.
func (s *Scope[R]) checkTop(h *ResourceHolder[R]) error {
	top := s.top()
	if top == nil {
		return ErrEmptyStack
	}
	if top != h {
		return fmt.Errorf("%w: %s completed while %s is on top of the stack", ErrIllegalState, h, top)
	}
	return nil
}

// suspend flags the active holder as suspended and returns it.
func (s *Scope[R]) suspend() *ResourceHolder[R] {
	h := s.current()
	if h != nil {
		h.suspended = true
	}
	return h
}

// resume reactivates h, which must be back on top of the stack.
func (s *Scope[R]) resume(h *ResourceHolder[R]) error {
	if err := s.checkTop(h); err != nil {
		return err
	}
	h.suspended = false
	return nil
}

func scopeFrom[R any](ctx context.Context, key scopeKey) (*Scope[R], bool) {
	s, ok := ctx.Value(key).(*Scope[R])
	return s, ok && s != nil
}
