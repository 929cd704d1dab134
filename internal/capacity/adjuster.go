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

// Package capacity converts resource pressure into a bounded compute
// budget. The adjuster is the single writer of the capacity state; a
// stability period suppresses automatic adjustments, and every applied
// change lands in a bounded history log.
package capacity

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/adaptive-compute/workload-engine/internal/config"
	"github.com/adaptive-compute/workload-engine/internal/logging"
	"github.com/adaptive-compute/workload-engine/internal/monitor"
	"github.com/adaptive-compute/workload-engine/internal/observability"
)

// Config holds the adjuster's tunables.
type Config struct {
	MinUnits int
	MaxUnits int
	Strategy Strategy

	// HighThreshold is the pressure above which the budget shrinks;
	// pressure below HighThreshold/2 lets it grow.
	HighThreshold float64

	// StabilityPeriod is the cooldown between automatic adjustments.
	// Manual and critical-severity triggers bypass it.
	StabilityPeriod time.Duration

	// Weights maps resource classes to their contribution to the
	// pressure scalar. Classes without an entry default to weight 1,
	// except the domain classes (accelerator, domain-unit) which
	// default to 2.
	Weights map[monitor.ResourceClass]float64

	// HistorySize bounds the adjustment history log.
	HistorySize int
}

func (c *Config) weightFor(class monitor.ResourceClass) float64 {
	if w, ok := c.Weights[class]; ok {
		return w
	}
	if class == monitor.ClassAccelerator || class == monitor.ClassDomainUnit {
		return 2
	}
	return 1
}

func (c *Config) validate() error {
	if c.MinUnits < 1 {
		return &config.ConfigurationError{Field: "capacity.minUnits", Reason: "must be at least 1"}
	}
	if c.MinUnits > c.MaxUnits {
		return &config.ConfigurationError{Field: "capacity.minUnits", Reason: "must not exceed maxUnits"}
	}
	if c.HighThreshold <= 0 || c.HighThreshold > 1 {
		return &config.ConfigurationError{Field: "capacity.highThreshold", Reason: "must be in (0, 1]"}
	}
	if c.StabilityPeriod < 0 {
		return &config.ConfigurationError{Field: "capacity.stabilityPeriod", Reason: "must not be negative"}
	}
	for class, w := range c.Weights {
		if w < 0 {
			return &config.ConfigurationError{
				Field:  fmt.Sprintf("capacity.weights.%s", class),
				Reason: "must not be negative",
			}
		}
	}
	if c.HistorySize < 1 {
		return &config.ConfigurationError{Field: "capacity.historySize", Reason: "must be at least 1"}
	}
	return nil
}

// Adjuster derives the compute budget from resource pressure.
type Adjuster struct {
	log     logr.Logger
	clock   clock.PassiveClock
	metrics *observability.Metrics
	model   CapacityModel
	probe   DeviceCapabilityProbe

	mu           sync.Mutex
	cfg          Config
	stepper      stepper
	running      bool
	state        State
	history      *recordRing
	lastPressure float64
	haveSample   bool
	lastCritical bool
	callbacks    map[CallbackHandle]ChangeFunc
	nextHandle   CallbackHandle
}

// NewAdjuster creates an Adjuster and applies cfg. model may be nil for
// the default linear model; metrics may be nil.
func NewAdjuster(cfg Config, model CapacityModel, probe DeviceCapabilityProbe, log logr.Logger, clk clock.PassiveClock, metrics *observability.Metrics) (*Adjuster, error) {
	if probe == nil {
		return nil, fmt.Errorf("device capability probe cannot be nil")
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	a := &Adjuster{
		log:       log.WithName("capacity"),
		clock:     clk,
		metrics:   metrics,
		model:     model,
		probe:     probe,
		callbacks: make(map[CallbackHandle]ChangeFunc),
	}
	if err := a.Configure(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Configure validates and applies a new configuration atomically. A
// rejected configuration leaves the adjuster unchanged. The current
// budget is clamped into the new [MinUnits, MaxUnits] range; the clamp
// is recorded in the history when it moves the budget.
func (a *Adjuster) Configure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	st, err := newStepper(cfg.Strategy)
	if err != nil {
		return &config.ConfigurationError{Field: "capacity.strategy", Reason: err.Error()}
	}

	a.mu.Lock()
	first := a.history == nil
	a.cfg = cfg
	a.stepper = st
	if a.model == nil {
		a.model = LinearModel{HighThreshold: cfg.HighThreshold}
	}
	if first {
		a.history = newRecordRing(cfg.HistorySize)
		ceiling, _ := a.probe.Ceiling()
		upper := upperBound(cfg.MinUnits, cfg.MaxUnits, ceiling)
		a.state.Current = clamp(cfg.MaxUnits, cfg.MinUnits, upper)
		a.state.Recommended = a.state.Current
		a.mu.Unlock()
		return nil
	}

	// Re-bound the history log and the budget under the new range.
	fresh := newRecordRing(cfg.HistorySize)
	for _, rec := range a.history.snapshot(cfg.HistorySize) {
		fresh.push(rec)
	}
	a.history = fresh

	ceiling, _ := a.probe.Ceiling()
	old := a.state.Current
	clamped := clamp(old, cfg.MinUnits, upperBound(cfg.MinUnits, cfg.MaxUnits, ceiling))
	var fired []appliedChange
	if clamped != old {
		fired = a.applyLocked(clamped, TriggerAutomatic, "budget clamped by reconfiguration")
	}
	a.mu.Unlock()

	a.fire(fired)
	return nil
}

// Start enables evaluation.
func (a *Adjuster) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
}

// Stop disables evaluation. The current budget stays in force.
func (a *Adjuster) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
}

// Budget returns the current budget in units.
func (a *Adjuster) Budget() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Current
}

// State returns a copy of the adjuster state.
func (a *Adjuster) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns up to max of the most recent adjustment records in
// chronological order. max <= 0 returns the full retained history.
func (a *Adjuster) History(max int) []AdjustmentRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.snapshot(max)
}

// OnChange registers a budget-change callback and returns its handle.
func (a *Adjuster) OnChange(fn ChangeFunc) CallbackHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextHandle++
	a.callbacks[a.nextHandle] = fn
	return a.nextHandle
}

// RemoveCallback unregisters a change callback. Unknown handles are
// ignored.
func (a *Adjuster) RemoveCallback(h CallbackHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.callbacks, h)
}

// Evaluate folds a resource sample into a pressure scalar and adjusts
// the budget by one strategy step when the pressure crosses a
// threshold. Automatic adjustments within the stability period are
// suppressed unless the sample carries a critical alert.
func (a *Adjuster) Evaluate(sample monitor.ResourceSample) (changed bool, newBudget int, err error) {
	a.mu.Lock()
	if !a.running {
		budget := a.state.Current
		a.mu.Unlock()
		return false, budget, ErrNotRunning
	}

	pressure, ok := a.pressureLocked(sample)
	if !ok {
		a.state.LastError = ErrNoReadings.Error()
		budget := a.state.Current
		a.mu.Unlock()
		return false, budget, ErrNoReadings
	}
	a.state.LastError = ""
	critical := sample.MaxLevel() == monitor.AlertCritical
	a.lastPressure = pressure
	a.lastCritical = critical
	a.haveSample = true
	a.metrics.ObservePressure(pressure)

	ceiling, _ := a.probe.Ceiling()
	a.state.Recommended = a.recommendLocked(pressure, ceiling)

	dir, ok := a.directionFor(pressure)
	if !ok {
		a.state.CoolingDown = false
		budget := a.state.Current
		a.mu.Unlock()
		return false, budget, nil
	}

	// The cooldown window suppresses automatic adjustments; critical
	// severity bypasses it.
	now := a.clock.Now()
	if !critical && !a.state.LastAdjusted.IsZero() &&
		now.Sub(a.state.LastAdjusted) < a.cfg.StabilityPeriod {
		a.state.CoolingDown = true
		budget := a.state.Current
		a.mu.Unlock()
		return false, budget, nil
	}

	target := a.steppedTargetLocked(dir, ceiling)
	if target == a.state.Current {
		budget := a.state.Current
		a.mu.Unlock()
		return false, budget, nil
	}

	trigger := TriggerAutomatic
	if critical {
		trigger = TriggerCritical
	}
	reason := fmt.Sprintf("pressure %.2f vs threshold %.2f", pressure, a.cfg.HighThreshold)
	fired := a.applyLocked(target, trigger, reason)
	budget := a.state.Current
	a.mu.Unlock()

	a.fire(fired)
	return true, budget, nil
}

// TriggerAdjustment forces an adjustment using the last observed
// pressure, bypassing the stability period. When the pressure sits in
// the neutral band, the budget moves one step toward the model's
// recommendation.
func (a *Adjuster) TriggerAdjustment(reason string) (bool, error) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return false, ErrNotRunning
	}
	if !a.haveSample {
		a.mu.Unlock()
		return false, ErrNoSample
	}

	ceiling, _ := a.probe.Ceiling()
	dir, ok := a.directionFor(a.lastPressure)
	if !ok {
		switch {
		case a.state.Recommended > a.state.Current:
			dir = directionUp
		case a.state.Recommended < a.state.Current:
			dir = directionDown
		default:
			a.mu.Unlock()
			return false, nil
		}
	}

	target := a.steppedTargetLocked(dir, ceiling)
	if target == a.state.Current {
		a.mu.Unlock()
		return false, nil
	}
	if reason == "" {
		reason = "manual trigger"
	}
	fired := a.applyLocked(target, TriggerManual, reason)
	a.mu.Unlock()

	a.fire(fired)
	return true, nil
}

// pressureLocked computes the weighted pressure scalar over the known
// readings of a sample. It reports false when no reading is known.
func (a *Adjuster) pressureLocked(sample monitor.ResourceSample) (float64, bool) {
	var sum, weightSum float64
	for class, r := range sample.Readings {
		if !r.Known {
			continue
		}
		w := a.cfg.weightFor(class)
		sum += w * r.Utilization
		weightSum += w
	}
	if weightSum == 0 {
		return 0, false
	}
	return sum / weightSum, true
}

func (a *Adjuster) recommendLocked(pressure float64, ceiling int) int {
	upper := upperBound(a.cfg.MinUnits, a.cfg.MaxUnits, ceiling)
	rec := a.model.Recommend(pressure, upper)
	return clamp(rec, a.cfg.MinUnits, a.cfg.MaxUnits)
}

func (a *Adjuster) directionFor(pressure float64) (direction, bool) {
	switch {
	case pressure > a.cfg.HighThreshold:
		return directionDown, true
	case pressure < a.cfg.HighThreshold/2:
		return directionUp, true
	default:
		return 0, false
	}
}

// steppedTargetLocked computes the clamped budget one strategy step in
// the given direction, capped by both MaxUnits and the device ceiling.
func (a *Adjuster) steppedTargetLocked(dir direction, ceiling int) int {
	step := a.stepper.step(dir)
	target := a.state.Current
	if dir == directionUp {
		target += step
	} else {
		target -= step
	}
	upper := upperBound(a.cfg.MinUnits, a.cfg.MaxUnits, ceiling)
	return clamp(target, a.cfg.MinUnits, upper)
}

// upperBound caps max by the device ceiling when one is known. MinUnits
// always wins over a smaller ceiling so the budget range stays valid.
func upperBound(min, max, ceiling int) int {
	upper := max
	if ceiling > 0 && ceiling < upper {
		upper = ceiling
	}
	if upper < min {
		upper = min
	}
	return upper
}

type appliedChange struct {
	fn     ChangeFunc
	old    int
	new    int
	reason string
}

// applyLocked commits a budget change: updates counters, appends the
// history record, and returns the callback invocations to run after the
// lock is released.
func (a *Adjuster) applyLocked(target int, trigger AdjustmentTrigger, reason string) []appliedChange {
	old := a.state.Current
	now := a.clock.Now()

	a.state.Current = target
	a.state.LastAdjusted = now
	a.state.CoolingDown = false
	dir := directionDown
	if target > old {
		dir = directionUp
		a.state.UpCount++
	} else {
		a.state.DownCount++
	}

	a.history.push(AdjustmentRecord{
		OldBudget: old,
		NewBudget: target,
		At:        now,
		Trigger:   trigger,
		Reason:    reason,
	})
	a.metrics.ObserveBudget(target)
	a.metrics.CountAdjustment(dir.String(), string(trigger))
	a.log.V(logging.DEBUG).Info("Budget adjusted",
		"old", old,
		"new", target,
		"trigger", trigger,
		"reason", reason)

	fired := make([]appliedChange, 0, len(a.callbacks))
	for _, fn := range a.callbacks {
		fired = append(fired, appliedChange{fn: fn, old: old, new: target, reason: reason})
	}
	return fired
}

func (a *Adjuster) fire(changes []appliedChange) {
	for _, c := range changes {
		c.fn(c.old, c.new, c.reason)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
