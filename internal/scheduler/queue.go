package scheduler

import (
	"fmt"
	"sort"
)

// OrderStrategy is an enumeration of the pending-queue walk orders.
type OrderStrategy int

// enumeration of OrderStrategy
const (
	FIFO OrderStrategy = iota
	Priority
	ResourceAware
	Fair
)

func (s OrderStrategy) String() string {
	switch s {
	case FIFO:
		return "fifo"
	case Priority:
		return "priority"
	case ResourceAware:
		return "resource-aware"
	case Fair:
		return "fair"
	default:
		return fmt.Sprintf("OrderStrategy(%d)", int(s))
	}
}

// ParseOrderStrategy maps a config string to an OrderStrategy.
func ParseOrderStrategy(s string) (OrderStrategy, error) {
	switch s {
	case "fifo":
		return FIFO, nil
	case "priority":
		return Priority, nil
	case "resource-aware":
		return ResourceAware, nil
	case "fair":
		return Fair, nil
	default:
		return 0, fmt.Errorf("unsupported order strategy: %q", s)
	}
}

// orderer sorts a pending snapshot into admission order.
type orderer interface {
	order(pending []*job) []*job
}

// newOrderer is a factory that creates an orderer for the strategy.
// classWeight supplies fair-share weights per scheduling class and is
// only consulted by the fair strategy.
func newOrderer(s OrderStrategy, classWeight func(class string) float64) (orderer, error) {
	switch s {
	case FIFO:
		return fifoOrderer{}, nil
	case Priority:
		return priorityOrderer{}, nil
	case ResourceAware:
		return resourceOrderer{}, nil
	case Fair:
		if classWeight == nil {
			classWeight = func(string) float64 { return 1 }
		}
		return fairOrderer{weight: classWeight}, nil
	default:
		return nil, fmt.Errorf("unsupported order strategy: %v", s)
	}
}

type fifoOrderer struct{}

func (fifoOrderer) order(pending []*job) []*job {
	out := append([]*job(nil), pending...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// priorityOrderer walks higher priorities first; within a priority,
// earlier deadlines first, then submission order. A zero deadline sorts
// after any real deadline.
type priorityOrderer struct{}

func (priorityOrderer) order(pending []*job) []*job {
	out := append([]*job(nil), pending...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		switch {
		case a.Deadline.IsZero() && !b.Deadline.IsZero():
			return false
		case !a.Deadline.IsZero() && b.Deadline.IsZero():
			return true
		case !a.Deadline.Equal(b.Deadline):
			return a.Deadline.Before(b.Deadline)
		}
		return a.SubmittedAt.Before(b.SubmittedAt)
	})
	return out
}

// resourceOrderer admits small footprints first so a tight budget packs
// as many jobs as possible; ties fall back to priority.
type resourceOrderer struct{}

func (resourceOrderer) order(pending []*job) []*job {
	out := append([]*job(nil), pending...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Descriptor.Units != b.Descriptor.Units {
			return a.Descriptor.Units < b.Descriptor.Units
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.SubmittedAt.Before(b.SubmittedAt)
	})
	return out
}

// fairOrderer interleaves scheduling classes by weighted round-robin so
// no class starves, taking proportionally more jobs from heavier
// classes per round.
type fairOrderer struct {
	weight func(class string) float64
}

func (f fairOrderer) order(pending []*job) []*job {
	byClass := make(map[string][]*job)
	classes := make([]string, 0)
	for _, j := range pending {
		class := j.Descriptor.Class
		if _, ok := byClass[class]; !ok {
			classes = append(classes, class)
		}
		byClass[class] = append(byClass[class], j)
	}
	sort.Strings(classes)
	for _, class := range classes {
		byClass[class] = priorityOrderer{}.order(byClass[class])
	}

	out := make([]*job, 0, len(pending))
	credit := make(map[string]float64, len(classes))
	for len(out) < len(pending) {
		for _, class := range classes {
			queue := byClass[class]
			if len(queue) == 0 {
				continue
			}
			w := f.weight(class)
			if w <= 0 {
				w = 1
			}
			credit[class] += w
			take := int(credit[class])
			if take > len(queue) {
				take = len(queue)
			}
			if take == 0 {
				continue
			}
			credit[class] -= float64(take)
			out = append(out, queue[:take]...)
			byClass[class] = queue[take:]
		}
	}
	return out
}
