package validation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bracken-sec/conmon/internal/domain"
)

const namespace = "conmon"

var (
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "executions_total",
			Help:      "Total check executions by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "execution_duration_seconds",
			Help:      "Time to run one check",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	rulesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "scheduler_scans_total",
			Help:      "Total scheduler scan cycles",
		},
	)

	rulesDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "rules_dispatched_total",
			Help:      "Total due rules dispatched to the worker pool",
		},
	)

	rulesErrored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "rules_in_error",
			Help:      "Rules currently in error status, as of the last scan",
		},
	)

	rulesDueBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "rules_due_backlog",
			Help:      "Schedulable rules past their due time, as of the last scan",
		},
	)
)

// recordExecutionOutcome records one check execution metric.
func recordExecutionOutcome(kind domain.CheckKind, status domain.ExecutionStatus, duration time.Duration) {
	executionsTotal.WithLabelValues(string(kind), string(status)).Inc()
	executionDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// recordScan records one scheduler scan cycle and its dispatch count.
func recordScan(dispatched int) {
	rulesScanned.Inc()
	rulesDispatched.Add(float64(dispatched))
}

// recordRuleHealth updates the rule health gauges after a scan.
func recordRuleHealth(errored, dueBacklog int) {
	rulesErrored.Set(float64(errored))
	rulesDueBacklog.Set(float64(dueBacklog))
}
