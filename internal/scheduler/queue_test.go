package scheduler

import (
	"testing"
	"time"

	"github.com/adaptive-compute/workload-engine/internal/workload"
)

func pendingJob(id, class string, units, priority int, submitted time.Time, deadline time.Time) *job {
	return &job{Job: Job{
		ID:          id,
		Descriptor:  workload.Descriptor{Name: id, Class: class, Units: units},
		Priority:    priority,
		Deadline:    deadline,
		Status:      StatusPending,
		SubmittedAt: submitted,
	}}
}

func orderOf(jobs []*job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func assertOrder(t *testing.T, got []*job, want []string) {
	t.Helper()
	ids := orderOf(got)
	if len(ids) != len(want) {
		t.Fatalf("order = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestParseOrderStrategy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    OrderStrategy
		wantErr bool
	}{
		{name: "Test case 1: FIFO", input: "fifo", want: FIFO},
		{name: "Test case 2: Priority", input: "priority", want: Priority},
		{name: "Test case 3: Resource aware", input: "resource-aware", want: ResourceAware},
		{name: "Test case 4: Fair", input: "fair", want: Fair},
		{name: "Test case 5: Unknown", input: "lifo", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOrderStrategy(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOrderStrategy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseOrderStrategy(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFIFOOrder(t *testing.T) {
	t0 := time.Unix(1756500000, 0)
	jobs := []*job{
		pendingJob("c", "", 1, 9, t0.Add(2*time.Second), time.Time{}),
		pendingJob("a", "", 1, 0, t0, time.Time{}),
		pendingJob("b", "", 1, 5, t0.Add(time.Second), time.Time{}),
	}
	assertOrder(t, fifoOrderer{}.order(jobs), []string{"a", "b", "c"})
}

func TestPriorityOrder(t *testing.T) {
	t0 := time.Unix(1756500000, 0)
	jobs := []*job{
		pendingJob("low", "", 1, 1, t0, time.Time{}),
		pendingJob("high", "", 1, 9, t0.Add(time.Second), time.Time{}),
		// Same priority: the earlier deadline wins; a zero deadline
		// sorts last.
		pendingJob("mid-late", "", 1, 5, t0, t0.Add(time.Hour)),
		pendingJob("mid-none", "", 1, 5, t0, time.Time{}),
		pendingJob("mid-soon", "", 1, 5, t0.Add(2*time.Second), t0.Add(time.Minute)),
	}
	assertOrder(t, priorityOrderer{}.order(jobs),
		[]string{"high", "mid-soon", "mid-late", "mid-none", "low"})
}

func TestResourceAwareOrder(t *testing.T) {
	t0 := time.Unix(1756500000, 0)
	jobs := []*job{
		pendingJob("big", "", 8, 9, t0, time.Time{}),
		pendingJob("small", "", 1, 0, t0, time.Time{}),
		pendingJob("medium", "", 4, 5, t0, time.Time{}),
	}
	assertOrder(t, resourceOrderer{}.order(jobs), []string{"small", "medium", "big"})
}

func TestFairOrderInterleavesClasses(t *testing.T) {
	t0 := time.Unix(1756500000, 0)
	jobs := []*job{
		pendingJob("a1", "alpha", 1, 0, t0, time.Time{}),
		pendingJob("a2", "alpha", 1, 0, t0.Add(time.Second), time.Time{}),
		pendingJob("a3", "alpha", 1, 0, t0.Add(2*time.Second), time.Time{}),
		pendingJob("b1", "beta", 1, 0, t0, time.Time{}),
		pendingJob("b2", "beta", 1, 0, t0.Add(time.Second), time.Time{}),
		pendingJob("b3", "beta", 1, 0, t0.Add(2*time.Second), time.Time{}),
	}

	// Equal weights alternate one job per class per round.
	f := fairOrderer{weight: func(string) float64 { return 1 }}
	assertOrder(t, f.order(jobs), []string{"a1", "b1", "a2", "b2", "a3", "b3"})

	// A double-weight class takes two per round.
	f = fairOrderer{weight: func(class string) float64 {
		if class == "beta" {
			return 2
		}
		return 1
	}}
	assertOrder(t, f.order(jobs), []string{"a1", "b1", "b2", "a2", "b3", "a3"})
}

func TestFairOrderGuardsZeroWeight(t *testing.T) {
	t0 := time.Unix(1756500000, 0)
	jobs := []*job{
		pendingJob("a1", "alpha", 1, 0, t0, time.Time{}),
		pendingJob("b1", "beta", 1, 0, t0, time.Time{}),
	}
	f := fairOrderer{weight: func(string) float64 { return 0 }}
	got := f.order(jobs)
	if len(got) != 2 {
		t.Fatalf("fair order dropped jobs under zero weight: %v", orderOf(got))
	}
}
