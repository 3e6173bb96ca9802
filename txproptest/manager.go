package txproptest

import (
	"context"
	"io"
	"sync"

	"github.com/oligo/txprop"
)

// NewManager returns a manager over p that logs at debug level to io.Discard.
func NewManager(p *Pool, opts ...txprop.ManagerOption) *txprop.TxManager[*Conn] {
	logger, err := txprop.NewLogger(io.Discard, "debug")
	if err != nil {
		panic(err)
	}
	return txprop.NewTxManager[*Conn](p, append([]txprop.ManagerOption{txprop.WithLogger(logger)}, opts...)...)
}

// Recorder is an observer keeping every event.
type Recorder struct {
	mu     sync.Mutex
	events []txprop.Event
}

func (r *Recorder) OnEvent(_ context.Context, ev txprop.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []txprop.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]txprop.Event(nil), r.events...)
}

// Types returns the event types in order.
func (r *Recorder) Types() []txprop.EventType {
	events := r.Events()
	types := make([]txprop.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
