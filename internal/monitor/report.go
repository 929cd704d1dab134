package monitor

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WriteReport writes a plain-text, human-readable report: current
// readings per class plus utilization percentiles over the retained
// history.
func (m *Monitor) WriteReport(w io.Writer) error {
	m.mu.Lock()
	state := m.state
	last := m.last.Clone()
	samples := m.history.snapshot(0)
	m.mu.Unlock()

	if _, err := fmt.Fprintf(w, "=== Resource Monitor ===\nstate: %s\nsamples retained: %d\n", state, len(samples)); err != nil {
		return err
	}

	classes := make([]ResourceClass, 0, len(last.Readings))
	for c := range last.Readings {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	for _, class := range classes {
		r := last.Readings[class]
		known := "known"
		if !r.Known {
			known = "unknown"
		}
		series := historySeries(samples, class)
		if len(series) == 0 {
			_, err := fmt.Fprintf(w, "%-12s util=%.1f%% level=%s (%s)\n",
				class, r.Utilization*100, r.Level, known)
			if err != nil {
				return err
			}
			continue
		}
		sort.Float64s(series)
		p50 := stat.Quantile(0.50, stat.Empirical, series, nil)
		p90 := stat.Quantile(0.90, stat.Empirical, series, nil)
		max := series[len(series)-1]
		if _, err := fmt.Fprintf(w, "%-12s util=%.1f%% level=%s (%s) p50=%.1f%% p90=%.1f%% max=%.1f%%\n",
			class, r.Utilization*100, r.Level, known,
			p50*100, p90*100, max*100); err != nil {
			return err
		}
	}
	return nil
}

func historySeries(samples []ResourceSample, class ResourceClass) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if r, ok := s.Readings[class]; ok && r.Known {
			out = append(out, r.Utilization)
		}
	}
	return out
}
