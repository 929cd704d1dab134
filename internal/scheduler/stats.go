package scheduler

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stats is a point-in-time summary of the scheduler.
type Stats struct {
	Submitted       int
	Admitted        int
	Completed       int
	Failed          int
	Cancelled       int
	Preempted       int
	Retried         int
	MissedDeadlines int

	Pending   int
	Scheduled int
	Running   int
	Paused    int

	Budget            int
	ActiveUnits       int
	ActiveAllocations int

	// Wait-time distribution from submission to first admission, over a
	// bounded window of recent admissions.
	WaitP50 time.Duration
	WaitP90 time.Duration
}

// waitWindow keeps a bounded window of admission wait times in seconds.
type waitWindow struct {
	buf  []float64
	next int
	full bool
}

func newWaitWindow(capacity int) *waitWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &waitWindow{buf: make([]float64, 0, capacity)}
}

func (w *waitWindow) add(d time.Duration) {
	v := d.Seconds()
	if len(w.buf) < cap(w.buf) {
		w.buf = append(w.buf, v)
		return
	}
	w.buf[w.next] = v
	w.next = (w.next + 1) % cap(w.buf)
	w.full = true
}

func (w *waitWindow) quantiles() (p50, p90 time.Duration) {
	if len(w.buf) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), w.buf...)
	sort.Float64s(sorted)
	p50 = time.Duration(stat.Quantile(0.50, stat.Empirical, sorted, nil) * float64(time.Second))
	p90 = time.Duration(stat.Quantile(0.90, stat.Empirical, sorted, nil) * float64(time.Second))
	return p50, p90
}
