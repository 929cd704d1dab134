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

// Package scheduler queues, admits, runs, preempts, retries, and
// reports on jobs against the live compute budget.
//
// One timer-driven control loop executes ticks sequentially; external
// API calls synchronize against scheduler state via a single
// coarse-grained lock. Status-change callbacks are queued under the
// lock and invoked after release, so observers only ever see state as
// of a tick boundary.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/adaptive-compute/workload-engine/internal/compression"
	"github.com/adaptive-compute/workload-engine/internal/config"
	"github.com/adaptive-compute/workload-engine/internal/logging"
	"github.com/adaptive-compute/workload-engine/internal/observability"
	"github.com/adaptive-compute/workload-engine/internal/workload"
)

// EventFunc receives job status-change notifications. Callbacks are
// invoked outside the scheduler's lock.
type EventFunc func(j Job, old, new JobStatus)

// CallbackHandle identifies a registered event callback.
type CallbackHandle int64

// Config holds the scheduler's tunables.
type Config struct {
	Strategy         OrderStrategy
	EnablePreemption bool

	// MaxTaskAge is how long a pending job may wait before it becomes a
	// preemption trigger. Overridable per scheduling class.
	MaxTaskAge time.Duration

	// MaxRetries bounds retry attempts per job. Overridable per class.
	MaxRetries int

	// RetryBackoff is the initial retry backoff; subsequent retries
	// back off exponentially.
	RetryBackoff time.Duration

	// MaxQueueLength bounds the total number of tracked jobs.
	MaxQueueLength int

	// Classes holds per-scheduling-class policy overrides.
	Classes config.ClassConfigData
}

type jobEvent struct {
	job Job
	old JobStatus
	new JobStatus
}

// Scheduler admits jobs into the compute budget. All exported methods
// are safe for concurrent use.
type Scheduler struct {
	log        logr.Logger
	clock      clock.PassiveClock
	metrics    *observability.Metrics
	compressor *compression.Compressor
	mitigator  *compression.Mitigator
	ids        IDGenerator

	mu      sync.Mutex
	cfg     Config
	orderer orderer
	jobs    map[string]*job
	alloc   *ledger
	budget  int

	submitted       int
	admitted        int
	completed       int
	failedCount     int
	cancelled       int
	preempted       int
	retried         int
	missedDeadlines int
	waits           *waitWindow
	rebalance       bool

	callbacks  map[CallbackHandle]EventFunc
	nextHandle CallbackHandle
	events     []jobEvent
}

// NewScheduler creates a Scheduler with an initial budget of zero;
// the engine sets the budget before the first tick. metrics may be nil.
func NewScheduler(cfg Config, compressor *compression.Compressor, mitigator *compression.Mitigator, ids IDGenerator, log logr.Logger, clk clock.PassiveClock, metrics *observability.Metrics) (*Scheduler, error) {
	if compressor == nil {
		return nil, fmt.Errorf("compressor cannot be nil")
	}
	if mitigator == nil {
		return nil, fmt.Errorf("mitigator cannot be nil")
	}
	if cfg.MaxQueueLength < 1 {
		return nil, fmt.Errorf("max queue length must be at least 1, got %d", cfg.MaxQueueLength)
	}
	if cfg.RetryBackoff <= 0 {
		return nil, fmt.Errorf("retry backoff must be positive, got %v", cfg.RetryBackoff)
	}
	ord, err := newOrderer(cfg.Strategy, cfg.Classes.WeightFor)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{
		log:        log.WithName("scheduler"),
		clock:      clk,
		metrics:    metrics,
		compressor: compressor,
		mitigator:  mitigator,
		ids:        ids,
		cfg:        cfg,
		orderer:    ord,
		jobs:       make(map[string]*job),
		alloc:      newLedger(),
		waits:      newWaitWindow(512),
		callbacks:  make(map[CallbackHandle]EventFunc),
	}, nil
}

// Submit validates and enqueues a job, returning its opaque id.
// Execution is asynchronous via the tick loop.
func (s *Scheduler) Submit(d workload.Descriptor, priority int, deadline time.Time) (string, error) {
	if d.Units <= 0 {
		return "", fmt.Errorf("descriptor %q declares no units", d.Name)
	}
	if d.MinUnits > d.Units {
		return "", fmt.Errorf("descriptor %q declares minUnits %d above units %d", d.Name, d.MinUnits, d.Units)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) >= s.cfg.MaxQueueLength {
		return "", fmt.Errorf("%w: %d jobs tracked", ErrQueueFull, len(s.jobs))
	}
	id := s.ids.NewID()
	s.jobs[id] = &job{Job: Job{
		ID:          id,
		Descriptor:  d,
		Priority:    priority,
		Deadline:    deadline,
		Status:      StatusPending,
		SubmittedAt: s.clock.Now(),
		Preemptible: s.cfg.Classes.IsPreemptible(d.Class),
		Quality:     1,
	}}
	s.submitted++
	s.log.V(logging.DEBUG).Info("Job submitted",
		"job", id,
		"name", d.Name,
		"units", d.Units,
		"priority", priority)
	return id, nil
}

// Cancel moves a non-terminal job to Cancelled and releases its
// allocation, effective immediately.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminalJob, id, j.Status)
	}
	s.releaseLocked(j)
	old := j.Status
	j.Status = StatusCancelled
	j.CompletedAt = s.clock.Now()
	s.cancelled++
	s.queueEventLocked(j, old)
	s.mu.Unlock()

	s.flushEvents()
	return nil
}

// Pause moves a Running job to Paused. The job keeps its allocation.
func (s *Scheduler) Pause(id string) error {
	return s.simpleTransition(id, StatusRunning, StatusPaused)
}

// Resume moves a Paused job back to Running.
func (s *Scheduler) Resume(id string) error {
	return s.simpleTransition(id, StatusPaused, StatusRunning)
}

func (s *Scheduler) simpleTransition(id string, from, to JobStatus) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Status != from {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s (job is %s)", ErrInvalidTransition, from, to, j.Status)
	}
	old := j.Status
	if err := j.transition(to); err != nil {
		s.mu.Unlock()
		return err
	}
	s.queueEventLocked(j, old)
	s.mu.Unlock()

	s.flushEvents()
	return nil
}

// UpdatePriority changes a non-terminal job's priority; the new value
// takes effect at the next tick's queue walk.
func (s *Scheduler) UpdatePriority(id string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalJob, id, j.Status)
	}
	j.Priority = priority
	return nil
}

// MarkFailed reports a runtime failure of a Scheduled, Running, or
// Paused job. The job retries with backoff while attempts remain,
// otherwise it finalizes as Failed.
func (s *Scheduler) MarkFailed(id, message string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	switch j.Status {
	case StatusScheduled, StatusRunning, StatusPaused:
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot fail job in %s", ErrInvalidTransition, j.Status)
	}
	s.failLocked(j, message, true)
	s.mu.Unlock()

	s.flushEvents()
	return nil
}

// MarkComplete reports successful completion of a Running job and
// releases its allocation. Jobs with no estimated runtime rely on this
// call to finish.
func (s *Scheduler) MarkComplete(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	switch j.Status {
	case StatusRunning:
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot complete job in %s", ErrInvalidTransition, j.Status)
	}
	s.releaseLocked(j)
	old := j.Status
	j.Status = StatusCompleted
	j.CompletedAt = s.clock.Now()
	s.completed++
	if s.metrics != nil {
		s.metrics.JobsCompleted.Inc()
	}
	s.queueEventLocked(j, old)
	s.mu.Unlock()

	s.flushEvents()
	return nil
}

// Get returns a copy of the job.
func (s *Scheduler) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.snapshot(), nil
}

// All returns copies of every tracked job in submission order.
func (s *Scheduler) All() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.Before(out[k].SubmittedAt) })
	return out
}

// ByStatus returns copies of jobs in the given status, in submission
// order.
func (s *Scheduler) ByStatus(status JobStatus) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0)
	for _, j := range s.jobs {
		if j.Status == status {
			out = append(out, j.snapshot())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.Before(out[k].SubmittedAt) })
	return out
}

// OnJobEvent registers a status-change callback and returns its handle.
func (s *Scheduler) OnJobEvent(fn EventFunc) CallbackHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	s.callbacks[s.nextHandle] = fn
	return s.nextHandle
}

// RemoveCallback unregisters an event callback. Unknown handles are
// ignored.
func (s *Scheduler) RemoveCallback(h CallbackHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.callbacks, h)
}

// TriggerRebalance requests a rebalance pass at the next tick boundary:
// that tick's preemption phase considers every waiting job, not only
// those past their max age. Rebalancing never runs synchronously from
// callers, preserving the atomic-tick guarantee.
func (s *Scheduler) TriggerRebalance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebalance = true
}

// Reconfigure swaps the scheduler's tunables. Validation is
// all-or-nothing; a rejected config leaves the previous one active.
// Jobs already admitted keep their existing allocations.
func (s *Scheduler) Reconfigure(cfg Config) error {
	if cfg.MaxQueueLength < 1 {
		return fmt.Errorf("max queue length must be at least 1, got %d", cfg.MaxQueueLength)
	}
	if cfg.RetryBackoff <= 0 {
		return fmt.Errorf("retry backoff must be positive, got %v", cfg.RetryBackoff)
	}
	ord, err := newOrderer(cfg.Strategy, cfg.Classes.WeightFor)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.orderer = ord
	return nil
}

// Classes returns the active per-class policy overrides.
func (s *Scheduler) Classes() config.ClassConfigData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Classes
}

// SetMitigator swaps the quality mitigator applied to newly admitted
// jobs. Jobs already running keep their recorded quality.
func (s *Scheduler) SetMitigator(m *compression.Mitigator) {
	if m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mitigator = m
}

// Budget returns the scheduler's current view of the budget.
func (s *Scheduler) Budget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// ActiveUnits returns the sum of active allocation units.
func (s *Scheduler) ActiveUnits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc.activeUnits()
}

// SetBudget installs a new budget. When the budget shrinks below the
// active allocation sum, running jobs are preempted lowest priority
// first until the admission invariant holds again.
func (s *Scheduler) SetBudget(units int) {
	s.mu.Lock()
	s.budget = units
	if s.alloc.activeUnits() > units {
		s.reclaimLocked(units)
	}
	s.mu.Unlock()

	s.flushEvents()
}

// Stats returns a point-in-time summary.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Submitted:         s.submitted,
		Admitted:          s.admitted,
		Completed:         s.completed,
		Failed:            s.failedCount,
		Cancelled:         s.cancelled,
		Preempted:         s.preempted,
		Retried:           s.retried,
		MissedDeadlines:   s.missedDeadlines,
		Budget:            s.budget,
		ActiveUnits:       s.alloc.activeUnits(),
		ActiveAllocations: s.alloc.count(),
	}
	for _, j := range s.jobs {
		switch j.Status {
		case StatusPending:
			st.Pending++
		case StatusScheduled:
			st.Scheduled++
		case StatusRunning:
			st.Running++
		case StatusPaused:
			st.Paused++
		}
	}
	st.WaitP50, st.WaitP90 = s.waits.quantiles()
	return st
}

// Tick executes one scheduling pass: complete elapsed jobs, fail
// deadline misses, admit pending work into the available budget, and
// preempt for aged high-priority jobs. Per-job errors are isolated;
// only an allocation-invariant violation aborts the tick.
func (s *Scheduler) Tick() error {
	s.mu.Lock()
	now := s.clock.Now()
	force := s.rebalance
	s.rebalance = false

	s.completeElapsedLocked(now)
	s.failDeadlinesLocked(now)
	err := s.admitLocked(now)
	if err == nil && s.cfg.EnablePreemption {
		err = s.preemptForAgedLocked(now, force)
	}
	s.mu.Unlock()

	s.flushEvents()
	return err
}

// completeElapsedLocked finishes Running jobs whose estimated runtime
// has elapsed, at tick granularity. Jobs without an estimated runtime
// run until MarkComplete, MarkFailed, or Cancel.
func (s *Scheduler) completeElapsedLocked(now time.Time) {
	for _, j := range s.jobs {
		if j.Status != StatusRunning {
			continue
		}
		runtime := j.admitted.EstimatedRuntime
		if runtime <= 0 || now.Before(j.StartedAt.Add(runtime)) {
			continue
		}
		s.releaseLocked(j)
		old := j.Status
		j.Status = StatusCompleted
		j.CompletedAt = now
		s.completed++
		if s.metrics != nil {
			s.metrics.JobsCompleted.Inc()
		}
		s.queueEventLocked(j, old)
	}
}

// failDeadlinesLocked fails every non-terminal job whose deadline has
// passed, without a retry attempt. Runs before admission so a job
// submitted with an expired deadline never reaches Running.
func (s *Scheduler) failDeadlinesLocked(now time.Time) {
	for _, j := range s.jobs {
		if j.Status.Terminal() || j.Deadline.IsZero() || !now.After(j.Deadline) {
			continue
		}
		s.releaseLocked(j)
		old := j.Status
		j.Status = StatusFailed
		j.CompletedAt = now
		j.ErrorMessage = "deadline exceeded"
		s.failedCount++
		s.missedDeadlines++
		if s.metrics != nil {
			s.metrics.MissedDeadlines.Inc()
			s.metrics.JobsFailed.Inc()
		}
		s.queueEventLocked(j, old)
	}
}

// admitLocked walks the pending queue in strategy order and fits jobs
// into the available budget via the compressor.
func (s *Scheduler) admitLocked(now time.Time) error {
	pending := make([]*job, 0)
	for _, j := range s.jobs {
		if j.Status == StatusPending && !j.retryWait.After(now) {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	available := s.budget - s.alloc.activeUnits()
	for _, j := range s.orderer.order(pending) {
		if available <= 0 {
			break
		}
		adjusted, quality, err := s.compressor.Compress(j.Descriptor, available)
		if errors.Is(err, compression.ErrResourceExceeded) {
			continue // stays Pending
		}
		if err != nil {
			s.failLocked(j, err.Error(), false)
			continue
		}
		if err := s.startLocked(j, adjusted, quality, now); err != nil {
			return err
		}
		available -= adjusted.Units
	}
	return nil
}

// startLocked creates the allocation and runs the job through
// Pending -> Scheduled -> Running.
func (s *Scheduler) startLocked(j *job, adjusted workload.Descriptor, rawQuality float64, now time.Time) error {
	if s.alloc.activeUnits()+adjusted.Units > s.budget {
		return fmt.Errorf("%w: admitting %s would hold %d of %d units",
			ErrAllocationConflict, j.ID, s.alloc.activeUnits()+adjusted.Units, s.budget)
	}

	a := &Allocation{
		ID:          s.ids.NewID(),
		JobID:       j.ID,
		Units:       adjusted.Units,
		MemoryBytes: adjusted.MemoryBytes,
		GrantedAt:   now,
	}
	if adjusted.EstimatedRuntime > 0 {
		a.ExpiresAt = now.Add(adjusted.EstimatedRuntime)
	}
	s.alloc.grant(a)

	j.admitted = adjusted
	j.AllocationID = a.ID
	j.Quality = s.mitigator.Mitigate(rawQuality)

	old := j.Status
	j.Status = StatusScheduled
	s.queueEventLocked(j, old)
	j.Status = StatusRunning
	j.StartedAt = now
	s.queueEventLocked(j, StatusScheduled)

	s.admitted++
	wait := now.Sub(j.SubmittedAt)
	s.waits.add(wait)
	if s.metrics != nil {
		s.metrics.JobsAdmitted.Inc()
		s.metrics.JobWaitSeconds.Observe(wait.Seconds())
	}
	s.log.V(logging.DEBUG).Info("Job admitted",
		"job", j.ID,
		"units", adjusted.Units,
		"quality", j.Quality,
		"wait", wait)
	return nil
}

// preemptForAgedLocked frees budget for the highest-priority pending
// job that has waited past its class's max age, by preempting the
// lowest-priority running job with enough units. A preemptible victim
// returns to Pending; otherwise the victim fails with a retry attempt.
// force, set by TriggerRebalance, considers all waiting jobs without
// the age requirement.
func (s *Scheduler) preemptForAgedLocked(now time.Time, force bool) error {
	var aged *job
	for _, j := range s.jobs {
		if j.Status != StatusPending || j.retryWait.After(now) {
			continue
		}
		if !force {
			maxAge := s.cfg.Classes.MaxTaskAgeFor(j.Descriptor.Class, s.cfg.MaxTaskAge)
			if maxAge <= 0 || now.Sub(j.SubmittedAt) <= maxAge {
				continue
			}
		}
		if aged == nil || j.Priority > aged.Priority ||
			(j.Priority == aged.Priority && j.SubmittedAt.Before(aged.SubmittedAt)) {
			aged = j
		}
	}
	if aged == nil {
		return nil
	}

	available := s.budget - s.alloc.activeUnits()
	needed := aged.Descriptor.EffectiveMinUnits() - available
	if needed < 1 {
		needed = 1
	}
	victim := s.victimLocked(aged.Priority, needed)
	if victim == nil {
		return nil
	}

	if victim.Preemptible {
		s.preemptLocked(victim)
	} else {
		s.failLocked(victim, "preempted for higher-priority work", true)
	}

	// Admit the aged job into the freed budget within the same tick.
	available = s.budget - s.alloc.activeUnits()
	adjusted, quality, err := s.compressor.Compress(aged.Descriptor, available)
	if err != nil {
		return nil // stays Pending; the next tick retries
	}
	return s.startLocked(aged, adjusted, quality, now)
}

// victimLocked selects the preemption victim: the lowest-priority
// running job below maxPriority whose allocation covers neededUnits,
// preferring preemptible jobs.
func (s *Scheduler) victimLocked(maxPriority, neededUnits int) *job {
	var best *job
	better := func(candidate, cur *job) bool {
		if cur == nil {
			return true
		}
		if candidate.Preemptible != cur.Preemptible {
			return candidate.Preemptible
		}
		if candidate.Priority != cur.Priority {
			return candidate.Priority < cur.Priority
		}
		return candidate.StartedAt.After(cur.StartedAt)
	}
	for _, j := range s.jobs {
		if j.Status != StatusRunning || j.Priority >= maxPriority {
			continue
		}
		if j.admitted.Units < neededUnits {
			continue
		}
		if better(j, best) {
			best = j
		}
	}
	return best
}

// reclaimLocked preempts running jobs lowest priority first until the
// active allocation sum fits target.
func (s *Scheduler) reclaimLocked(target int) {
	for s.alloc.activeUnits() > target {
		var victim *job
		for _, j := range s.jobs {
			if j.Status != StatusRunning && j.Status != StatusPaused {
				continue
			}
			if victim == nil ||
				(j.Preemptible && !victim.Preemptible) ||
				(j.Preemptible == victim.Preemptible && j.Priority < victim.Priority) {
				victim = j
			}
		}
		if victim == nil {
			return
		}
		if victim.Preemptible {
			s.preemptLocked(victim)
		} else {
			s.failLocked(victim, "budget reduced below active allocations", true)
		}
	}
}

// preemptLocked releases the victim's allocation and returns it to the
// pending queue.
func (s *Scheduler) preemptLocked(j *job) {
	s.releaseLocked(j)
	old := j.Status
	j.Status = StatusPending
	j.StartedAt = time.Time{}
	s.preempted++
	if s.metrics != nil {
		s.metrics.JobsPreempted.Inc()
	}
	s.queueEventLocked(j, old)
	s.log.V(logging.DEBUG).Info("Job preempted", "job", j.ID, "priority", j.Priority)
}

// failLocked handles a job failure. With allowRetry and attempts
// remaining, the job returns to Pending behind an increasing backoff;
// otherwise it finalizes as Failed.
func (s *Scheduler) failLocked(j *job, message string, allowRetry bool) {
	s.releaseLocked(j)
	old := j.Status
	maxRetries := s.cfg.Classes.MaxRetriesFor(j.Descriptor.Class, s.cfg.MaxRetries)
	if allowRetry && j.Retries < maxRetries {
		j.Retries++
		j.retryWait = s.clock.Now().Add(j.nextRetryDelay(s.cfg.RetryBackoff))
		j.Status = StatusPending
		j.StartedAt = time.Time{}
		j.ErrorMessage = message
		s.retried++
		if s.metrics != nil {
			s.metrics.JobsRetried.Inc()
		}
		s.queueEventLocked(j, old)
		return
	}
	j.Status = StatusFailed
	j.CompletedAt = s.clock.Now()
	j.ErrorMessage = message
	s.failedCount++
	if s.metrics != nil {
		s.metrics.JobsFailed.Inc()
	}
	s.queueEventLocked(j, old)
}

// releaseLocked returns the job's allocation to the budget, if any.
func (s *Scheduler) releaseLocked(j *job) {
	if j.AllocationID == "" {
		return
	}
	s.alloc.release(j.AllocationID)
	j.AllocationID = ""
}

func (s *Scheduler) queueEventLocked(j *job, old JobStatus) {
	s.events = append(s.events, jobEvent{job: j.snapshot(), old: old, new: j.Status})
}

// flushEvents invokes queued status-change callbacks outside the lock.
func (s *Scheduler) flushEvents() {
	s.mu.Lock()
	events := s.events
	s.events = nil
	fns := make([]EventFunc, 0, len(s.callbacks))
	for _, fn := range s.callbacks {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev.job, ev.old, ev.new)
		}
	}
}
