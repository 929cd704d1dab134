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

package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/adaptive-compute/workload-engine/internal/workload"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrTerminalJob is returned when an operation targets a job in a
	// terminal state.
	ErrTerminalJob = errors.New("job is in a terminal state")

	// ErrInvalidTransition is returned when a requested status change is
	// not an edge of the job state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrQueueFull is returned by Submit when the tracked-job bound is
	// reached.
	ErrQueueFull = errors.New("job queue is full")

	// ErrAllocationConflict reports a violated admission invariant. It
	// is fatal to the control loop: the engine transitions to an error
	// state requiring a manual reset.
	ErrAllocationConflict = errors.New("allocation conflict: active units exceed budget")
)

// JobStatus is a job's position in the scheduling state machine.
type JobStatus string

const (
	StatusPending   JobStatus = "Pending"
	StatusScheduled JobStatus = "Scheduled"
	StatusRunning   JobStatus = "Running"
	StatusPaused    JobStatus = "Paused"
	StatusCompleted JobStatus = "Completed"
	StatusFailed    JobStatus = "Failed"
	StatusCancelled JobStatus = "Cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the edges of the job state machine.
// Running -> Pending is the preemption/retry edge; every non-terminal
// state may reach Cancelled.
var validTransitions = map[JobStatus][]JobStatus{
	StatusPending:   {StatusScheduled, StatusFailed, StatusCancelled},
	StatusScheduled: {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusPaused, StatusPending, StatusCancelled},
	StatusPaused:    {StatusRunning, StatusFailed, StatusPending, StatusCancelled},
}

// CanTransition reports whether from -> to is a state machine edge.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is the externally visible view of a scheduled unit of work.
// Accessors return copies; the scheduler owns the authoritative record.
type Job struct {
	ID         string
	Descriptor workload.Descriptor
	Priority   int
	Deadline   time.Time
	Status     JobStatus

	SubmittedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// Retries counts how many times the job has been returned to the
	// pending queue after a failure.
	Retries int

	// AllocationID is the active budget reservation, empty when none.
	AllocationID string

	// Preemptible marks the job as eligible for preemption, resolved
	// from its scheduling class at submission.
	Preemptible bool

	// Quality is the estimated post-compression, post-mitigation
	// quality of the admitted footprint. 1 when uncompressed.
	Quality float64

	ErrorMessage string
}

// job is the scheduler-internal record.
type job struct {
	Job

	// admitted holds the compressed descriptor actually allocated,
	// valid while an allocation is active.
	admitted workload.Descriptor

	// retryWait defers re-admission of a failed job until the backoff
	// has elapsed.
	retryWait time.Time

	// retrySchedule produces the increasing backoff intervals.
	retrySchedule *backoff.ExponentialBackOff
}

func (j *job) snapshot() Job { return j.Job }

// nextRetryDelay returns the next backoff interval, initializing the
// schedule on first failure.
func (j *job) nextRetryDelay(initial time.Duration) time.Duration {
	if j.retrySchedule == nil {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = initial
		bo.RandomizationFactor = 0
		bo.Multiplier = 2
		bo.MaxInterval = 64 * initial
		j.retrySchedule = bo
	}
	return j.retrySchedule.NextBackOff()
}

// transition moves the job along a state machine edge or reports
// ErrInvalidTransition.
func (j *job) transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}
