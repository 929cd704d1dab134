package monitor

import (
	"context"
	"sync"
)

// ClassProbe reads the current utilization of a single resource class.
// Implementations must be safe for concurrent use.
type ClassProbe interface {
	// Class returns the resource class this probe serves.
	Class() ResourceClass

	// Utilization returns the current utilization as a fraction in
	// [0, 1]. An error degrades the class's reading to unknown for the
	// current sample without aborting it.
	Utilization(ctx context.Context) (float64, error)
}

// StaticProbe is a settable probe for resource classes with no OS-level
// source (accelerator, domain-unit) and for tests. The zero value reads
// as 0 utilization.
type StaticProbe struct {
	class ResourceClass

	mu    sync.Mutex
	value float64
	err   error
}

// NewStaticProbe creates a StaticProbe for the given class.
func NewStaticProbe(class ResourceClass) *StaticProbe {
	return &StaticProbe{class: class}
}

func (p *StaticProbe) Class() ResourceClass { return p.class }

func (p *StaticProbe) Utilization(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return p.value, nil
}

// Set updates the reported utilization and clears any injected error.
func (p *StaticProbe) Set(value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = value
	p.err = nil
}

// Fail makes subsequent reads return err until Set is called.
func (p *StaticProbe) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}
