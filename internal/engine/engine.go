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

// Package engine orchestrates the adaptive control loop: one tick
// samples resource pressure, re-derives the compute budget, and runs a
// scheduling pass. The engine owns every component instance and exposes
// the unified external API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/adaptive-compute/workload-engine/internal/capacity"
	"github.com/adaptive-compute/workload-engine/internal/compression"
	"github.com/adaptive-compute/workload-engine/internal/config"
	"github.com/adaptive-compute/workload-engine/internal/logging"
	"github.com/adaptive-compute/workload-engine/internal/monitor"
	"github.com/adaptive-compute/workload-engine/internal/observability"
	"github.com/adaptive-compute/workload-engine/internal/scheduler"
	"github.com/adaptive-compute/workload-engine/internal/workload"
)

var (
	// ErrEngineFailed is returned while the engine sits in the Error
	// state after an internal invariant violation. Reset clears it.
	ErrEngineFailed = errors.New("engine is in error state, reset required")

	// ErrInvalidTransition is returned for lifecycle calls that do not
	// apply to the current state.
	ErrInvalidTransition = errors.New("invalid engine state transition")
)

// State is the engine's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Options carries the engine's collaborators. Zero-value fields get
// defaults: a real clock, a discarding logger, the default capacity and
// quality models, and no metrics.
type Options struct {
	// Probes supply per-class utilization readings. Required.
	Probes []monitor.ClassProbe

	// Ceiling reports the device's hard capacity limits. Required.
	Ceiling capacity.DeviceCapabilityProbe

	// CapacityModel and QualityModel override the default linear
	// models.
	CapacityModel capacity.CapacityModel
	QualityModel  compression.QualityModel

	// Classes holds per-scheduling-class policy overrides.
	Classes config.ClassConfigData

	// IDs overrides the engine-owned id generator.
	IDs scheduler.IDGenerator

	Logger   logr.Logger
	Clock    clock.WithTicker
	Registry prometheus.Registerer
}

// Stats is the engine's aggregate view.
type Stats struct {
	State     string
	LastError string
	Ticks     uint64
	Capacity  capacity.State
	Scheduler scheduler.Stats
}

// Engine owns and drives all components.
type Engine struct {
	log     logr.Logger
	clock   clock.WithTicker
	metrics *observability.Metrics

	monitor    *monitor.Monitor
	adjuster   *capacity.Adjuster
	compressor *compression.Compressor
	mitigator  *compression.Mitigator
	sched      *scheduler.Scheduler

	mu      sync.Mutex
	cfg     config.Config
	state   State
	lastErr error
	ticks   uint64

	// evalCh wakes the loop for an out-of-band tick. Buffered so
	// callbacks never block.
	evalCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an engine from a validated configuration.
func New(cfg config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Probes) == 0 {
		return nil, fmt.Errorf("engine requires at least one resource probe")
	}
	if opts.Ceiling == nil {
		return nil, fmt.Errorf("engine requires a device capability probe")
	}
	log := opts.Logger
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	var metrics *observability.Metrics
	if opts.Registry != nil {
		metrics = observability.NewMetrics(opts.Registry)
	}

	mon, err := monitor.NewMonitor(monitorConfig(cfg.Monitor), opts.Probes, log, clk, metrics)
	if err != nil {
		return nil, fmt.Errorf("building monitor: %w", err)
	}

	capCfg, err := capacityConfig(cfg.Capacity)
	if err != nil {
		return nil, err
	}
	adj, err := capacity.NewAdjuster(capCfg, opts.CapacityModel, opts.Ceiling, log, clk, metrics)
	if err != nil {
		return nil, fmt.Errorf("building capacity adjuster: %w", err)
	}

	comp := compression.NewCompressor(opts.QualityModel)
	method, err := compression.ParseMethod(cfg.Compression.Method)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "compression.method", Reason: err.Error()}
	}
	mit, err := compression.NewMitigator(method, cfg.Compression.TargetQuality, cfg.Compression.RecoveryFactor)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "compression", Reason: err.Error()}
	}

	classes := opts.Classes
	if classes == nil {
		classes = config.ParseClassConfigData(log, cfg.Scheduler.ClassOverrides)
	}
	schedCfg, err := schedulerConfig(cfg.Scheduler, classes)
	if err != nil {
		return nil, err
	}
	ids := opts.IDs
	if ids == nil {
		ids = scheduler.UUIDGenerator{}
	}
	sch, err := scheduler.NewScheduler(schedCfg, comp, mit, ids, log, clk, metrics)
	if err != nil {
		return nil, fmt.Errorf("building scheduler: %w", err)
	}

	e := &Engine{
		log:        log.WithName("engine"),
		clock:      clk,
		metrics:    metrics,
		monitor:    mon,
		adjuster:   adj,
		compressor: comp,
		mitigator:  mit,
		sched:      sch,
		cfg:        cfg,
		state:      StateStopped,
		evalCh:     make(chan struct{}, 1),
	}

	// Critical alerts request an out-of-band evaluation; the request is
	// queued and served at the next tick boundary, never synchronously
	// from the callback.
	critical := monitor.AlertCritical
	mon.RegisterCallback(nil, &critical, func(monitor.ResourceClass, monitor.AlertLevel, monitor.AlertLevel, monitor.ResourceSample) {
		select {
		case e.evalCh <- struct{}{}:
		default:
		}
	})

	return e, nil
}

func monitorConfig(c config.MonitorConfig) monitor.Config {
	thresholds := make(map[monitor.ResourceClass]monitor.Thresholds, len(c.Thresholds))
	for class, th := range c.Thresholds {
		thresholds[monitor.ResourceClass(class)] = monitor.Thresholds{
			Warning:  th.Warning,
			Critical: th.Critical,
		}
	}
	return monitor.Config{
		// The engine drives sampling from its own tick loop.
		Interval:        0,
		HistorySize:     c.HistorySize,
		SmoothingFactor: c.SmoothingFactor,
		Thresholds:      thresholds,
	}
}

func capacityConfig(c config.CapacityConfig) (capacity.Config, error) {
	strategy, err := capacity.ParseStrategy(c.Strategy)
	if err != nil {
		return capacity.Config{}, &config.ConfigurationError{Field: "capacity.strategy", Reason: err.Error()}
	}
	weights := make(map[monitor.ResourceClass]float64, len(c.Weights))
	for class, w := range c.Weights {
		weights[monitor.ResourceClass(class)] = w
	}
	return capacity.Config{
		MinUnits:        c.MinUnits,
		MaxUnits:        c.MaxUnits,
		Strategy:        strategy,
		HighThreshold:   c.HighThreshold,
		StabilityPeriod: c.StabilityPeriod,
		Weights:         weights,
		HistorySize:     c.HistorySize,
	}, nil
}

func schedulerConfig(c config.SchedulerConfig, classes config.ClassConfigData) (scheduler.Config, error) {
	strategy, err := scheduler.ParseOrderStrategy(c.Strategy)
	if err != nil {
		return scheduler.Config{}, &config.ConfigurationError{Field: "scheduler.strategy", Reason: err.Error()}
	}
	return scheduler.Config{
		Strategy:         strategy,
		EnablePreemption: c.EnablePreemption,
		MaxTaskAge:       c.MaxTaskAge,
		MaxRetries:       c.MaxRetries,
		RetryBackoff:     c.RetryBackoff,
		MaxQueueLength:   c.MaxQueueLength,
		Classes:          classes,
	}, nil
}

// Start launches the control loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateError {
		e.mu.Unlock()
		return ErrEngineFailed
	}
	if e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, e.state)
	}
	e.state = StateRunning
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	interval := e.cfg.Engine.TickInterval
	e.mu.Unlock()

	if err := e.monitor.Start(ctx); err != nil {
		e.mu.Lock()
		e.state = StateStopped
		e.stopCh = nil
		e.mu.Unlock()
		return fmt.Errorf("starting monitor: %w", err)
	}
	e.adjuster.Start()
	e.sched.SetBudget(e.adjuster.Budget())

	e.wg.Add(1)
	go e.loop(ctx, interval, stopCh)
	e.log.Info("Engine started", "tickInterval", interval)
	return nil
}

// Stop halts the control loop and all components.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused && e.state != StateError {
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot stop from %s", ErrInvalidTransition, e.state)
	}
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	if e.state != StateError {
		e.state = StateStopped
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.adjuster.Stop()
	if e.monitor.State() != monitor.StateInactive {
		if err := e.monitor.Stop(); err != nil {
			return err
		}
	}
	e.log.Info("Engine stopped")
	return nil
}

// Pause suspends ticking without stopping components.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, e.state)
	}
	e.state = StatePaused
	return e.monitor.Pause()
}

// Resume continues ticking after a Pause.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, e.state)
	}
	e.state = StateRunning
	return e.monitor.Resume()
}

// Reset clears the Error state back to Stopped, shutting down any
// component left running by the failure so a fresh Start succeeds.
// State owned by the scheduler and adjuster (jobs, history, budget) is
// retained.
func (e *Engine) Reset() error {
	e.mu.Lock()
	if e.state != StateError {
		e.mu.Unlock()
		return fmt.Errorf("%w: reset requires Error state, engine is %s", ErrInvalidTransition, e.state)
	}
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	e.state = StateStopped
	e.lastErr = nil
	e.mu.Unlock()

	e.wg.Wait()
	e.adjuster.Stop()
	if e.monitor.State() != monitor.StateInactive {
		if err := e.monitor.Stop(); err != nil {
			return err
		}
	}
	return nil
}

// EngineState returns the current lifecycle state.
func (e *Engine) EngineState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the most recent engine-level error, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) loop(ctx context.Context, interval time.Duration, stopCh chan struct{}) {
	defer e.wg.Done()
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
		case <-e.evalCh:
		}
		e.mu.Lock()
		state := e.state
		e.mu.Unlock()
		if state == StateError {
			return
		}
		if state != StateRunning {
			continue
		}
		e.Tick(ctx)
	}
}

// Tick executes one control-loop pass: sample, evaluate, propagate the
// budget, schedule. Exposed for deterministic driving in tests and for
// callers embedding the engine without its timer.
func (e *Engine) Tick(ctx context.Context) {
	started := time.Now()

	sample, err := e.monitor.Sample(ctx)
	if errors.Is(err, monitor.ErrProbeUnavailable) {
		// Fall back to the last known sample; a warning was logged by
		// the monitor. The loop keeps running.
		err = nil
	}
	if err != nil {
		e.log.V(logging.DEBUG).Info("Skipping tick, sampling failed", "error", err)
		return
	}

	if len(sample.Readings) > 0 {
		changed, newBudget, evalErr := e.adjuster.Evaluate(sample)
		if evalErr != nil && !errors.Is(evalErr, capacity.ErrNotRunning) {
			e.log.Info("Capacity evaluation failed", "error", evalErr)
		}
		if changed {
			e.sched.SetBudget(newBudget)
		}
	}

	if err := e.sched.Tick(); err != nil {
		if errors.Is(err, scheduler.ErrAllocationConflict) {
			e.failLoop(err)
			return
		}
		e.log.Info("Scheduler tick failed", "error", err)
	}

	e.mu.Lock()
	e.ticks++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.TickSeconds.Observe(time.Since(started).Seconds())
	}
}

// failLoop transitions the engine to the Error state after an internal
// invariant violation. Manual Reset is required.
func (e *Engine) failLoop(err error) {
	e.mu.Lock()
	e.state = StateError
	e.lastErr = err
	e.mu.Unlock()
	e.log.Error(err, "Invariant violation, engine entering error state")
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetConfig applies a new configuration atomically. Submitting a
// config identical to the active one is a no-op and produces no
// adjustment-history entries. A rejected config changes nothing.
func (e *Engine) SetConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if reflect.DeepEqual(e.cfg, cfg) {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	capCfg, err := capacityConfig(cfg.Capacity)
	if err != nil {
		return err
	}
	method, err := compression.ParseMethod(cfg.Compression.Method)
	if err != nil {
		return &config.ConfigurationError{Field: "compression.method", Reason: err.Error()}
	}
	mit, err := compression.NewMitigator(method, cfg.Compression.TargetQuality, cfg.Compression.RecoveryFactor)
	if err != nil {
		return &config.ConfigurationError{Field: "compression", Reason: err.Error()}
	}
	if err := e.adjuster.Configure(capCfg); err != nil {
		return err
	}
	classes := e.sched.Classes()
	if cfg.Scheduler.ClassOverrides != nil {
		classes = config.ParseClassConfigData(e.log, cfg.Scheduler.ClassOverrides)
	}
	schedCfg, err := schedulerConfig(cfg.Scheduler, classes)
	if err != nil {
		return err
	}
	if err := e.sched.Reconfigure(schedCfg); err != nil {
		return err
	}

	e.mu.Lock()
	e.cfg = cfg
	e.mitigator = mit
	e.mu.Unlock()
	e.sched.SetMitigator(mit)
	e.sched.SetBudget(e.adjuster.Budget())
	return nil
}

// Submit enqueues a job for asynchronous execution.
func (e *Engine) Submit(d workload.Descriptor, priority int, deadline time.Time) (string, error) {
	if err := e.healthy(); err != nil {
		return "", err
	}
	return e.sched.Submit(d, priority, deadline)
}

// Cancel cancels a job; see scheduler.Scheduler.Cancel.
func (e *Engine) Cancel(id string) error { return e.sched.Cancel(id) }

// PauseJob pauses a running job.
func (e *Engine) PauseJob(id string) error { return e.sched.Pause(id) }

// ResumeJob resumes a paused job.
func (e *Engine) ResumeJob(id string) error { return e.sched.Resume(id) }

// UpdatePriority changes a job's priority.
func (e *Engine) UpdatePriority(id string, priority int) error {
	return e.sched.UpdatePriority(id, priority)
}

// Job returns a copy of a job.
func (e *Engine) Job(id string) (scheduler.Job, error) { return e.sched.Get(id) }

// Jobs returns copies of all tracked jobs.
func (e *Engine) Jobs() []scheduler.Job { return e.sched.All() }

// JobsByStatus returns copies of jobs in the given status.
func (e *Engine) JobsByStatus(status scheduler.JobStatus) []scheduler.Job {
	return e.sched.ByStatus(status)
}

// TriggerRebalance queues a rebalance for the next tick boundary.
func (e *Engine) TriggerRebalance() { e.sched.TriggerRebalance() }

// TriggerAdjustment forces a manual capacity adjustment, bypassing the
// stability period.
func (e *Engine) TriggerAdjustment(reason string) (bool, error) {
	if err := e.healthy(); err != nil {
		return false, err
	}
	changed, err := e.adjuster.TriggerAdjustment(reason)
	if err != nil {
		return false, err
	}
	if changed {
		e.sched.SetBudget(e.adjuster.Budget())
	}
	return changed, nil
}

// Optimize runs a descriptor through compression and mitigation against
// the current budget without submitting it. It returns the adjusted
// descriptor and the estimated post-mitigation quality.
func (e *Engine) Optimize(d workload.Descriptor) (workload.Descriptor, float64, error) {
	if err := e.healthy(); err != nil {
		return workload.Descriptor{}, 0, err
	}
	e.mu.Lock()
	mit := e.mitigator
	e.mu.Unlock()

	adjusted, quality, err := e.compressor.Compress(d, e.adjuster.Budget())
	if err != nil {
		return workload.Descriptor{}, 0, err
	}
	return adjusted, mit.Mitigate(quality), nil
}

// OnCapacityChange registers a budget-change callback.
func (e *Engine) OnCapacityChange(fn capacity.ChangeFunc) capacity.CallbackHandle {
	return e.adjuster.OnChange(fn)
}

// OnJobEvent registers a job status-change callback.
func (e *Engine) OnJobEvent(fn scheduler.EventFunc) scheduler.CallbackHandle {
	return e.sched.OnJobEvent(fn)
}

// OnResourceAlert registers a resource alert-level callback.
func (e *Engine) OnResourceAlert(class *monitor.ResourceClass, minLevel *monitor.AlertLevel, fn monitor.AlertFunc) monitor.CallbackHandle {
	return e.monitor.RegisterCallback(class, minLevel, fn)
}

// Status returns the most recent resource sample; see
// monitor.Monitor.Status.
func (e *Engine) Status() (monitor.ResourceSample, error) { return e.monitor.Status() }

// Stats returns the engine's aggregate statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	state := e.state
	lastErr := ""
	if e.lastErr != nil {
		lastErr = e.lastErr.Error()
	}
	ticks := e.ticks
	e.mu.Unlock()

	return Stats{
		State:     state.String(),
		LastError: lastErr,
		Ticks:     ticks,
		Capacity:  e.adjuster.State(),
		Scheduler: e.sched.Stats(),
	}
}

func (e *Engine) healthy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateError {
		return fmt.Errorf("%w: %v", ErrEngineFailed, e.lastErr)
	}
	return nil
}
