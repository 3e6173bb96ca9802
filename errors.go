package txprop

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDefinition is returned when a transaction definition is malformed. It is reported
	// before any resource is touched.
	ErrInvalidDefinition = errors.New("txprop: invalid transaction definition")

	// ErrUnexpectedRollback is returned when a commit was requested but the transaction had been
	// marked as rollback-only, so it was rolled back instead.
	ErrUnexpectedRollback = errors.New("txprop: transaction rolled back because it has been marked as rollback-only")

	// ErrIllegalState marks protocol misuse: double completion, completion after release or
	// completion out of stack order.
	ErrIllegalState = errors.New("txprop: illegal transaction state")

	ErrEmptyStack            = fmt.Errorf("%w: transaction stack is empty", ErrIllegalState)
	ErrNoExistingTransaction = fmt.Errorf("%w: no existing transaction found for propagation 'mandatory'", ErrIllegalState)
	ErrExistingTransaction   = fmt.Errorf("%w: existing transaction found for propagation 'never'", ErrIllegalState)
	ErrNestedNotSupported    = fmt.Errorf("%w: resource does not support savepoints", ErrIllegalState)

	// ErrTransactionCompleted is returned when a status or its resource is already committed
	// or rolled back.
	ErrTransactionCompleted = fmt.Errorf("%w: transaction is already committed or rolled back", ErrIllegalState)

	// ErrResourceUnavailable and ErrResourceTimeout are used by resource pools to classify
	// physical failures. The manager passes them through unchanged.
	ErrResourceUnavailable = errors.New("txprop: resource unavailable")
	ErrResourceTimeout     = errors.New("txprop: resource timeout")
)

func invalidDefinition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}
