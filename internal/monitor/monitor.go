/*
Copyright 2025 The Adaptive Compute Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package monitor samples per-class resource utilization, classifies
// alert levels against configured thresholds, keeps a bounded sample
// history, and notifies subscribers on level transitions.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/adaptive-compute/workload-engine/internal/logging"
	"github.com/adaptive-compute/workload-engine/internal/observability"
)

// Config holds the monitor's tunables.
type Config struct {
	// Interval is the period of the monitor's own sampling loop. Zero
	// disables the loop; sampling is then driven externally via Sample.
	Interval time.Duration

	// HistorySize bounds the sample ring buffer.
	HistorySize int

	// SmoothingFactor is the EWMA alpha applied to raw readings before
	// classification, in (0, 1]. 1 disables smoothing.
	SmoothingFactor float64

	// Thresholds maps classes to alert boundaries. Classes without an
	// entry use Warning 0.75 / Critical 0.90.
	Thresholds map[ResourceClass]Thresholds
}

func (c *Config) thresholdsFor(class ResourceClass) Thresholds {
	if th, ok := c.Thresholds[class]; ok {
		return th
	}
	return Thresholds{Warning: 0.75, Critical: 0.90}
}

type callbackReg struct {
	class    *ResourceClass // nil matches all classes
	minLevel *AlertLevel    // nil matches all levels
	fn       AlertFunc
}

type firedAlert struct {
	reg    callbackReg
	class  ResourceClass
	old    AlertLevel
	new    AlertLevel
	sample ResourceSample
}

// Monitor is the resource monitor. All exported methods are safe for
// concurrent use; callbacks are invoked outside the internal lock.
type Monitor struct {
	cfg     Config
	probes  []ClassProbe
	log     logr.Logger
	clock   clock.WithTicker
	metrics *observability.Metrics

	mu         sync.Mutex
	state      LifecycleState
	history    *sampleRing
	last       ResourceSample
	lastErr    error
	smoothed   map[ResourceClass]float64
	callbacks  map[CallbackHandle]callbackReg
	nextHandle CallbackHandle

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor over the given probes. metrics may be
// nil.
func NewMonitor(cfg Config, probes []ClassProbe, log logr.Logger, clk clock.WithTicker, metrics *observability.Metrics) (*Monitor, error) {
	if len(probes) == 0 {
		return nil, fmt.Errorf("monitor requires at least one probe")
	}
	if cfg.HistorySize < 1 {
		return nil, fmt.Errorf("monitor history size must be at least 1, got %d", cfg.HistorySize)
	}
	if cfg.SmoothingFactor <= 0 || cfg.SmoothingFactor > 1 {
		return nil, fmt.Errorf("monitor smoothing factor must be in (0, 1], got %v", cfg.SmoothingFactor)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Monitor{
		cfg:       cfg,
		probes:    probes,
		log:       log.WithName("monitor"),
		clock:     clk,
		metrics:   metrics,
		state:     StateInactive,
		history:   newSampleRing(cfg.HistorySize),
		smoothed:  make(map[ResourceClass]float64),
		callbacks: make(map[CallbackHandle]callbackReg),
	}, nil
}

// State returns the current lifecycle state.
func (m *Monitor) State() LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start transitions Inactive -> Active and, when Interval is set,
// launches the internal sampling loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateInactive {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, m.state)
	}
	m.state = StateActive
	m.stopCh = make(chan struct{})
	interval := m.cfg.Interval
	stopCh := m.stopCh
	m.mu.Unlock()

	if interval > 0 {
		m.wg.Add(1)
		go m.loop(ctx, interval, stopCh)
	}
	m.log.V(logging.DEBUG).Info("Monitor started", "interval", interval)
	return nil
}

// Stop transitions to Inactive and waits for the sampling loop to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.state == StateInactive {
		m.mu.Unlock()
		return fmt.Errorf("%w: already inactive", ErrInvalidTransition)
	}
	m.state = StateInactive
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.log.V(logging.DEBUG).Info("Monitor stopped")
	return nil
}

// Pause transitions Active -> Paused. The loop keeps running but skips
// sampling until Resume.
func (m *Monitor) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, m.state)
	}
	m.state = StatePaused
	return nil
}

// Resume transitions Paused -> Active.
func (m *Monitor) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, m.state)
	}
	m.state = StateActive
	return nil
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, stopCh chan struct{}) {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
			if m.State() != StateActive {
				continue
			}
			if _, err := m.Sample(ctx); err != nil {
				m.log.V(logging.DEBUG).Info("Sampling pass failed", "error", err)
			}
		}
	}
}

// Sample performs one sampling pass: probe every class, smooth and
// classify the readings, record the sample, and notify subscribers of
// level transitions.
//
// A single failing probe degrades its class to an unknown reading with
// the level carried over from the previous sample. If every probe
// fails, the previous sample is kept and ErrProbeUnavailable is
// returned; the monitor keeps running.
func (m *Monitor) Sample(ctx context.Context) (ResourceSample, error) {
	if m.State() == StateInactive {
		return ResourceSample{}, ErrNotActive
	}

	// Probe outside the lock; probes may block on the OS.
	type probeResult struct {
		class ResourceClass
		value float64
		err   error
	}
	results := make([]probeResult, 0, len(m.probes))
	failures := 0
	for _, p := range m.probes {
		v, err := p.Utilization(ctx)
		if err != nil {
			failures++
			m.log.V(logging.DEBUG).Info("Probe failed, degrading class to unknown",
				"class", p.Class(),
				"error", err)
		}
		results = append(results, probeResult{class: p.Class(), value: v, err: err})
	}

	m.mu.Lock()
	if failures == len(m.probes) {
		m.lastErr = fmt.Errorf("%w: all %d probes failed", ErrProbeUnavailable, failures)
		last := m.last.Clone()
		err := m.lastErr
		m.mu.Unlock()
		m.log.Info("All probes failed, keeping last known sample")
		return last, err
	}

	sample := ResourceSample{
		Timestamp: m.clock.Now(),
		Readings:  make(map[ResourceClass]Reading, len(results)),
	}
	var fired []firedAlert
	alpha := m.cfg.SmoothingFactor
	for _, res := range results {
		prev, hadPrev := m.last.Readings[res.class]
		if res.err != nil {
			// Carry the previous level so a flaky probe does not clear
			// an active alert.
			r := Reading{Known: false}
			if hadPrev {
				r.Utilization = prev.Utilization
				r.Level = prev.Level
			}
			sample.Readings[res.class] = r
			continue
		}

		smoothed := res.value
		if sv, ok := m.smoothed[res.class]; ok && alpha < 1 {
			smoothed = alpha*res.value + (1-alpha)*sv
		}
		m.smoothed[res.class] = smoothed

		level := m.cfg.thresholdsFor(res.class).Classify(smoothed)
		sample.Readings[res.class] = Reading{Utilization: smoothed, Level: level, Known: true}
		m.metrics.ObserveUtilization(string(res.class), smoothed)

		// Only level transitions notify, not every tick.
		oldLevel := AlertNone
		if hadPrev {
			oldLevel = prev.Level
		}
		if level == oldLevel {
			continue
		}
		for _, reg := range m.callbacks {
			if reg.class != nil && *reg.class != res.class {
				continue
			}
			if reg.minLevel != nil && level < *reg.minLevel && oldLevel < *reg.minLevel {
				continue
			}
			fired = append(fired, firedAlert{
				reg:    reg,
				class:  res.class,
				old:    oldLevel,
				new:    level,
				sample: sample,
			})
		}
	}

	m.last = sample
	m.lastErr = nil
	m.history.push(sample)
	m.mu.Unlock()

	for _, f := range fired {
		f.reg.fn(f.class, f.old, f.new, f.sample.Clone())
	}
	return sample.Clone(), nil
}

// Status returns the most recent sample. When the last full sampling
// pass failed, the last known sample is returned together with
// ErrProbeUnavailable.
func (m *Monitor) Status() (ResourceSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last.Clone(), m.lastErr
}

// History returns up to max of the most recent samples in chronological
// order. max <= 0 returns the full retained history.
func (m *Monitor) History(max int) []ResourceSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	samples := m.history.snapshot(max)
	out := make([]ResourceSample, len(samples))
	for i, s := range samples {
		out[i] = s.Clone()
	}
	return out
}

// RegisterCallback subscribes fn to alert level transitions. A nil
// class matches every class; a nil minLevel matches every level,
// otherwise the transition must enter or leave a level at or above
// minLevel.
func (m *Monitor) RegisterCallback(class *ResourceClass, minLevel *AlertLevel, fn AlertFunc) CallbackHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHandle++
	h := m.nextHandle
	m.callbacks[h] = callbackReg{class: class, minLevel: minLevel, fn: fn}
	return h
}

// UnregisterCallback removes a previously registered callback. Unknown
// handles are ignored.
func (m *Monitor) UnregisterCallback(h CallbackHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callbacks, h)
}
