// Package txproptest provides an in-memory resource pool that records every physical
// operation, for testing code built on txprop.
package txproptest

import (
	"context"
	"fmt"
	"sync"

	"github.com/oligo/txprop"
)

// Conn is a fake physical connection with an open transaction.
type Conn struct {
	ID   int
	Def  txprop.Definition
	pool *Pool

	mu         sync.Mutex
	savepoints []string
	released   bool
	outcome    txprop.Outcome
}

// Outcome returns the release outcome and whether the conn was released.
func (c *Conn) Outcome() (txprop.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, c.released
}

// Savepoints returns the savepoints currently held.
func (c *Conn) Savepoints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.savepoints...)
}

func (c *Conn) CreateSavepoint(_ context.Context, name string) error {
	if err := c.pool.failure(OpSavepoint); err != nil {
		return err
	}
	c.mu.Lock()
	c.savepoints = append(c.savepoints, name)
	c.mu.Unlock()
	c.pool.record(OpSavepoint, c, name)
	return nil
}

func (c *Conn) RollbackToSavepoint(_ context.Context, name string) error {
	if err := c.pool.failure(OpRollbackToSavepoint); err != nil {
		return err
	}
	c.pool.record(OpRollbackToSavepoint, c, name)
	return nil
}

func (c *Conn) ReleaseSavepoint(_ context.Context, name string) error {
	if err := c.pool.failure(OpReleaseSavepoint); err != nil {
		return err
	}
	c.mu.Lock()
	for i := len(c.savepoints) - 1; i >= 0; i-- {
		if c.savepoints[i] == name {
			c.savepoints = append(c.savepoints[:i], c.savepoints[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.pool.record(OpReleaseSavepoint, c, name)
	return nil
}

// Op names a recorded physical operation.
type Op string

const (
	OpAcquire             Op = "acquire"
	OpCommit              Op = "commit"
	OpRollback            Op = "rollback"
	OpSavepoint           Op = "savepoint"
	OpRollbackToSavepoint Op = "rollback_to_savepoint"
	OpReleaseSavepoint    Op = "release_savepoint"
)

// Record is one physical operation.
type Record struct {
	Op     Op
	ConnID int
	Arg    string
}

func (r Record) String() string {
	if r.Arg == "" {
		return fmt.Sprintf("%s conn-%d", r.Op, r.ConnID)
	}
	return fmt.Sprintf("%s conn-%d %s", r.Op, r.ConnID, r.Arg)
}

// Pool implements txprop.ResourcePool[*Conn]. It is safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	next     int
	records  []Record
	failures map[Op]error
	conns    []*Conn
}

func NewPool() *Pool {
	return &Pool{failures: make(map[Op]error)}
}

// FailOn makes every following op fail with err. A nil err clears the failure.
func (p *Pool) FailOn(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

func (p *Pool) failure(op Op) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[op]
}

func (p *Pool) record(op Op, c *Conn, arg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, Record{Op: op, ConnID: c.ID, Arg: arg})
}

func (p *Pool) Acquire(ctx context.Context, def txprop.Definition) (*Conn, error) {
	if err := p.failure(OpAcquire); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", txprop.ErrResourceUnavailable, err)
	}
	p.mu.Lock()
	p.next++
	c := &Conn{ID: p.next, Def: def, pool: p}
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	p.record(OpAcquire, c, "")
	return c, nil
}

// Release commits or rolls back c. The conn counts as released even when the configured
// failure is returned, like a database/sql Tx after a failed Commit.
func (p *Pool) Release(_ context.Context, c *Conn, outcome txprop.Outcome) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return fmt.Errorf("txproptest: conn-%d released twice", c.ID)
	}
	c.released = true
	c.outcome = outcome
	c.mu.Unlock()

	op := OpCommit
	if outcome == txprop.OutcomeRollback {
		op = OpRollback
	}
	p.record(op, c, "")
	return p.failure(op)
}

// Records returns the operations recorded so far.
func (p *Pool) Records() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.records...)
}

// Ops returns the recorded operations as strings such as "commit conn-1".
func (p *Pool) Ops() []string {
	records := p.Records()
	ops := make([]string, len(records))
	for i, r := range records {
		ops[i] = r.String()
	}
	return ops
}

// Count returns how many times op was recorded.
func (p *Pool) Count(op Op) int {
	n := 0
	for _, r := range p.Records() {
		if r.Op == op {
			n++
		}
	}
	return n
}

// Open returns the conns acquired and not yet released.
func (p *Pool) Open() []*Conn {
	p.mu.Lock()
	conns := append([]*Conn(nil), p.conns...)
	p.mu.Unlock()
	var open []*Conn
	for _, c := range conns {
		if _, released := c.Outcome(); !released {
			open = append(open, c)
		}
	}
	return open
}
