package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for booking and session flows.
type SchedulingMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
	sideEffectsFailed *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
	jobAffected       *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teletherapy",
			Subsystem: "scheduling",
			Name:      "operations_total",
			Help:      "Total scheduling operations by outcome",
		}, []string{"operation", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "teletherapy",
			Subsystem: "scheduling",
			Name:      "operation_latency_seconds",
			Help:      "Latency of scheduling operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		sideEffectsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teletherapy",
			Subsystem: "scheduling",
			Name:      "side_effect_failures_total",
			Help:      "Notifier, audit and stats failures that did not fail the operation",
		}, []string{"collaborator"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teletherapy",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job ticks by result",
		}, []string{"job", "result"}),
		jobAffected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teletherapy",
			Subsystem: "jobs",
			Name:      "sessions_affected_total",
			Help:      "Sessions changed by background jobs",
		}, []string{"job"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationLatency, m.sideEffectsFailed, m.jobRuns, m.jobAffected)
	return m
}

// ObserveOperation records one operation outcome ("ok" or an error kind).
func (m *SchedulingMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveSideEffectFailure(collaborator string) {
	if m == nil {
		return
	}
	m.sideEffectsFailed.WithLabelValues(collaborator).Inc()
}

// ObserveJob records a job tick and how many sessions it touched.
func (m *SchedulingMetrics) ObserveJob(job, result string, affected int) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	if affected > 0 {
		m.jobAffected.WithLabelValues(job).Add(float64(affected))
	}
}
