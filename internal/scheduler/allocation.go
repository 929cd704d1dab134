package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// Allocation binds a job to a budget reservation with a validity
// window. Allocations are created on admission and released on
// completion, cancellation, or preemption.
type Allocation struct {
	ID          string
	JobID       string
	Units       int
	MemoryBytes uint64
	GrantedAt   time.Time
	ExpiresAt   time.Time
}

// IDGenerator produces opaque unique identifiers. The engine owns the
// instance; nothing in the scheduler relies on process-wide state.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator generates random UUID identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// ledger tracks active allocations and their unit sum. Not safe for
// concurrent use; the scheduler serializes access under its lock.
type ledger struct {
	active map[string]*Allocation
	units  int
}

func newLedger() *ledger {
	return &ledger{active: make(map[string]*Allocation)}
}

func (l *ledger) grant(a *Allocation) {
	l.active[a.ID] = a
	l.units += a.Units
}

func (l *ledger) release(id string) (*Allocation, bool) {
	a, ok := l.active[id]
	if !ok {
		return nil, false
	}
	delete(l.active, id)
	l.units -= a.Units
	return a, true
}

func (l *ledger) activeUnits() int { return l.units }

func (l *ledger) count() int { return len(l.active) }
