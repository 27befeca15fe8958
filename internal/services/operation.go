package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Operation kinds
const (
	OpCreate   = "create"
	OpTransfer = "transfer"
	OpFund     = "fund"
	OpClose    = "close"
	OpDiscover = "discover"
)

// Operation is the cancellation token of one multi-phase flow. Cancelling
// does not interrupt network calls already in flight; it stops the flow
// from committing anything to the channel store or the activity log.
type Operation struct {
	ID        string
	Kind      string
	StartedAt time.Time

	cancelled atomic.Bool
	finished  atomic.Bool
}

func (o *Operation) Cancel() {
	if o != nil {
		o.cancelled.Store(true)
	}
}

func (o *Operation) Cancelled() bool {
	return o != nil && o.cancelled.Load()
}

// Err returns ErrOperationCancelled once the operation has been cancelled.
// A nil operation is never cancelled.
func (o *Operation) Err() error {
	if o.Cancelled() {
		return ErrOperationCancelled
	}
	return nil
}

// OperationRegistry hands out operation tokens and lets a caller cancel one
// by id, including an id that has not started yet.
type OperationRegistry struct {
	mu  sync.Mutex
	ops map[string]*Operation
	ttl time.Duration
	now func() time.Time
}

func NewOperationRegistry(ttl time.Duration) *OperationRegistry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OperationRegistry{
		ops: make(map[string]*Operation),
		ttl: ttl,
		now: time.Now,
	}
}

// Start registers an operation. An empty id gets a generated one; an id that
// was cancelled before it started yields an already-cancelled operation.
func (r *OperationRegistry) Start(kind, id string) *Operation {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()

	if id == "" {
		id = uuid.NewString()
	}
	op := &Operation{ID: id, Kind: kind, StartedAt: r.now()}
	if prev, ok := r.ops[id]; ok && prev.Cancelled() && prev.Kind == "" {
		op.cancelled.Store(true)
	}
	r.ops[id] = op
	return op
}

// Finish marks op done. A later Cancel with its id reports false.
func (r *OperationRegistry) Finish(op *Operation) {
	if op != nil {
		op.finished.Store(true)
	}
}

// Cancel marks the operation id as cancelled. It reports false when the
// operation already finished.
func (r *OperationRegistry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		// tombstone so a late Start with this id comes up cancelled
		op = &Operation{ID: id, StartedAt: r.now()}
		r.ops[id] = op
	}
	if op.finished.Load() {
		return false
	}
	op.Cancel()
	return true
}

func (r *OperationRegistry) Get(id string) (*Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	return op, ok
}

func (r *OperationRegistry) pruneLocked() {
	cutoff := r.now().Add(-r.ttl)
	for id, op := range r.ops {
		if op.StartedAt.Before(cutoff) && (op.finished.Load() || op.Kind == "") {
			delete(r.ops, id)
		}
	}
}
