package txprop

import "context"

// Outcome is the physical completion requested from a resource pool.
type Outcome uint8

const (
	OutcomeCommit Outcome = iota
	OutcomeRollback
)

func (o Outcome) String() string {
	if o == OutcomeCommit {
		return "commit"
	}
	return "rollback"
}

// ResourcePool hands out physical resources, each carrying one begun physical transaction.
//
// Acquire begins the physical transaction; ctx carries the definition's timeout as a deadline
// and stays valid until Release. Release commits or rolls back according to outcome and
// returns the resource. The manager calls Release exactly once per acquired resource.
type ResourcePool[R any] interface {
	Acquire(ctx context.Context, def Definition) (R, error)
	Release(ctx context.Context, res R, outcome Outcome) error
}

// Savepointer is implemented by resources that support savepoints. It is required by
// PropagationNested when a transaction already exists.
type Savepointer interface {
	CreateSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}
