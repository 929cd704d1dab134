package engine

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// WriteReport writes a human-readable snapshot of the engine: its
// configuration, resource readings, capacity history, and job
// statistics.
func (e *Engine) WriteReport(w io.Writer) error {
	stats := e.Stats()

	fmt.Fprintf(w, "engine state: %s\n", stats.State)
	if stats.LastError != "" {
		fmt.Fprintf(w, "last error: %s\n", stats.LastError)
	}
	fmt.Fprintf(w, "ticks: %d\n\n", stats.Ticks)

	fmt.Fprintln(w, "configuration:")
	cfgYAML, err := yaml.Marshal(e.Config())
	if err != nil {
		return fmt.Errorf("marshaling configuration: %w", err)
	}
	if _, err := w.Write(indent(cfgYAML)); err != nil {
		return err
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "resources:")
	if err := e.monitor.WriteReport(w); err != nil {
		return err
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "capacity:")
	cs := stats.Capacity
	fmt.Fprintf(w, "  budget: %d units (recommended %d)\n", cs.Current, cs.Recommended)
	fmt.Fprintf(w, "  adjustments: %d up, %d down\n", cs.UpCount, cs.DownCount)
	if cs.CoolingDown {
		fmt.Fprintf(w, "  cooling down since %s\n", cs.LastAdjusted.Format("15:04:05"))
	}
	for _, rec := range e.adjuster.History(16) {
		fmt.Fprintf(w, "  %s  %d -> %d  (%s) %s\n",
			rec.At.Format("15:04:05"), rec.OldBudget, rec.NewBudget, rec.Trigger, rec.Reason)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "jobs:")
	ss := stats.Scheduler
	fmt.Fprintf(w, "  submitted=%d admitted=%d completed=%d failed=%d cancelled=%d\n",
		ss.Submitted, ss.Admitted, ss.Completed, ss.Failed, ss.Cancelled)
	fmt.Fprintf(w, "  preempted=%d retried=%d missed deadlines=%d\n",
		ss.Preempted, ss.Retried, ss.MissedDeadlines)
	fmt.Fprintf(w, "  pending=%d scheduled=%d running=%d paused=%d\n",
		ss.Pending, ss.Scheduled, ss.Running, ss.Paused)
	fmt.Fprintf(w, "  active: %d/%d units across %d allocations\n",
		ss.ActiveUnits, ss.Budget, ss.ActiveAllocations)
	fmt.Fprintf(w, "  wait: p50=%s p90=%s\n", ss.WaitP50, ss.WaitP90)
	return nil
}

func indent(b []byte) []byte {
	out := make([]byte, 0, len(b)+len(b)/16)
	atLineStart := true
	for _, c := range b {
		if atLineStart && c != '\n' {
			out = append(out, ' ', ' ')
		}
		out = append(out, c)
		atLineStart = c == '\n'
	}
	return out
}
