package sink

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conmon"

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "events_total",
			Help:      "Total events published to the sink by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the outbound buffer was full",
		},
	)

	deliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "delivery_duration_seconds",
			Help:      "Time to deliver an event to the sink",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

func recordDelivery(kind EventKind, outcome string, duration time.Duration) {
	eventsPublished.WithLabelValues(string(kind), outcome).Inc()
	if outcome == "success" {
		deliveryDuration.Observe(duration.Seconds())
	}
}

func recordDropped() {
	eventsDropped.Inc()
}
