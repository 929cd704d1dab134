// Package observability registers the engine's prometheus collectors.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine exports. A nil *Metrics is
// valid and turns all recording into no-ops, so components never need
// to guard against missing observability wiring.
type Metrics struct {
	BudgetUnits     prometheus.Gauge
	Pressure        prometheus.Gauge
	Utilization     *prometheus.GaugeVec
	Adjustments     *prometheus.CounterVec
	JobsAdmitted    prometheus.Counter
	JobsPreempted   prometheus.Counter
	JobsRetried     prometheus.Counter
	JobsCompleted   prometheus.Counter
	JobsFailed      prometheus.Counter
	MissedDeadlines prometheus.Counter
	JobWaitSeconds  prometheus.Histogram
	TickSeconds     prometheus.Histogram
}

// NewMetrics builds and registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BudgetUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workload_engine_budget_units",
			Help: "Current compute budget in units.",
		}),
		Pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workload_engine_pressure",
			Help: "Last computed resource pressure scalar.",
		}),
		Utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workload_engine_resource_utilization",
			Help: "Smoothed per-class resource utilization fraction.",
		}, []string{"class"}),
		Adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workload_engine_capacity_adjustments_total",
			Help: "Applied budget adjustments by direction and trigger.",
		}, []string{"direction", "trigger"}),
		JobsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workload_engine_jobs_admitted_total",
			Help: "Jobs admitted into the running set.",
		}),
		JobsPreempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workload_engine_jobs_preempted_total",
			Help: "Running jobs preempted to free budget.",
		}),
		JobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workload_engine_jobs_retried_total",
			Help: "Failed jobs returned to the pending queue for retry.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workload_engine_jobs_completed_total",
			Help: "Jobs that reached the Completed state.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workload_engine_jobs_failed_total",
			Help: "Jobs that reached the Failed state.",
		}),
		MissedDeadlines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workload_engine_missed_deadlines_total",
			Help: "Jobs failed because their deadline passed.",
		}),
		JobWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workload_engine_job_wait_seconds",
			Help:    "Time from submission to first admission.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		TickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workload_engine_tick_seconds",
			Help:    "Control-loop tick duration.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}

	reg.MustRegister(
		m.BudgetUnits, m.Pressure, m.Utilization, m.Adjustments,
		m.JobsAdmitted, m.JobsPreempted, m.JobsRetried,
		m.JobsCompleted, m.JobsFailed, m.MissedDeadlines,
		m.JobWaitSeconds, m.TickSeconds,
	)
	return m
}

// ObserveBudget records the current budget. Nil-safe.
func (m *Metrics) ObserveBudget(units int) {
	if m == nil {
		return
	}
	m.BudgetUnits.Set(float64(units))
}

// ObservePressure records the pressure scalar. Nil-safe.
func (m *Metrics) ObservePressure(p float64) {
	if m == nil {
		return
	}
	m.Pressure.Set(p)
}

// ObserveUtilization records a per-class utilization reading. Nil-safe.
func (m *Metrics) ObserveUtilization(class string, frac float64) {
	if m == nil {
		return
	}
	m.Utilization.WithLabelValues(class).Set(frac)
}

// CountAdjustment records one applied budget adjustment. Nil-safe.
func (m *Metrics) CountAdjustment(direction, trigger string) {
	if m == nil {
		return
	}
	m.Adjustments.WithLabelValues(direction, trigger).Inc()
}
