package txprop

import (
	"context"
	"time"
)

// EventType names a transition of the transaction state machine.
type EventType uint8

const (
	EventBegin EventType = iota
	EventParticipate
	EventSuspend
	EventResume
	EventCommit
	EventRollback
	EventRollbackOnly
	EventUnexpectedRollback
	EventSavepoint
	EventReleaseSavepoint
	EventRollbackToSavepoint
	EventSecondaryError
)

var eventNames = [...]string{
	EventBegin:               "begin",
	EventParticipate:         "participate",
	EventSuspend:             "suspend",
	EventResume:              "resume",
	EventCommit:              "commit",
	EventRollback:            "rollback",
	EventRollbackOnly:        "rollback_only",
	EventUnexpectedRollback:  "unexpected_rollback",
	EventSavepoint:           "savepoint",
	EventReleaseSavepoint:    "release_savepoint",
	EventRollbackToSavepoint: "rollback_to_savepoint",
	EventSecondaryError:      "secondary_error",
}

func (e EventType) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown"
}

// Event describes one transition. Observers must treat it as read-only diagnostics.
type Event struct {
	Type           EventType
	TxID           string
	HolderID       string
	Name           string
	Propagation    Propagation
	NewTransaction bool
	// Physical is set when the transition touched the physical resource.
	Physical  bool
	Savepoint string
	// Depth is the stack depth of the scope after the transition.
	Depth int
	// Err is the physical error of a commit or rollback, or the secondary error for
	// EventSecondaryError.
	Err error
	// Cause is the work failure that led to a secondary error.
	Cause error
	Time  time.Time
}

// Observer is notified on state transitions. It has no effect on outcomes.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// LogObserver logs transitions. Physical failures and secondary errors are logged at error
// level, everything else at debug level.
type LogObserver struct {
	logger Logger
}

func NewLogObserver(logger Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnEvent(_ context.Context, ev Event) {
	keyvals := []any{
		"tx", ev.TxID,
		"propagation", ev.Propagation.String(),
		"new", ev.NewTransaction,
		"depth", ev.Depth,
	}
	if ev.Name != "" {
		keyvals = append(keyvals, "name", ev.Name)
	}
	if ev.Savepoint != "" {
		keyvals = append(keyvals, "savepoint", ev.Savepoint)
	}
	switch {
	case ev.Type == EventSecondaryError:
		o.logger.Error("transaction completion failed after work failure", append(keyvals, "error", ev.Err, "cause", ev.Cause)...)
	case ev.Err != nil:
		o.logger.Error(eventMessages[ev.Type]+" failed", append(keyvals, "error", ev.Err)...)
	case ev.Type == EventUnexpectedRollback:
		o.logger.Warn(eventMessages[ev.Type], keyvals...)
	default:
		o.logger.Debug(eventMessages[ev.Type], keyvals...)
	}
}

var eventMessages = [...]string{
	EventBegin:               "creating new transaction",
	EventParticipate:         "participating in existing transaction",
	EventSuspend:             "suspending current transaction",
	EventResume:              "resuming suspended transaction",
	EventCommit:              "committing transaction",
	EventRollback:            "rolling back transaction",
	EventRollbackOnly:        "participating transaction failed, marking existing transaction as rollback-only",
	EventUnexpectedRollback:  "transaction is marked as rollback-only but commit was requested",
	EventSavepoint:           "creating savepoint",
	EventReleaseSavepoint:    "releasing savepoint",
	EventRollbackToSavepoint: "rolling back to savepoint",
	EventSecondaryError:      "transaction completion failed",
}
