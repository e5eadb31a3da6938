package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	decodeStepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "asrd",
			Subsystem: "decoder",
			Name:      "steps_total",
			Help:      "Total number of decode steps performed",
		},
	)

	decodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "asrd",
			Subsystem: "decoder",
			Name:      "step_duration_seconds",
			Help:      "Duration of a single decode step in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	decodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "asrd",
			Subsystem: "decoder",
			Name:      "errors_total",
			Help:      "Total number of failed decode steps",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "asrd",
			Subsystem: "decoder",
			Name:      "ready_queue_depth",
			Help:      "Streams currently waiting for a decode step",
		},
	)

	activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "asrd",
			Subsystem: "decoder",
			Name:      "active_streams",
			Help:      "Streams currently queued or being decoded",
		},
	)

	pushRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "asrd",
			Subsystem: "decoder",
			Name:      "push_rejected_total",
			Help:      "Enqueues refused by the ready-queue high-water mark",
		},
	)
)

func init() {
	prometheus.MustRegister(decodeStepsTotal, decodeDuration, decodeErrorsTotal,
		queueDepth, activeStreams, pushRejectedTotal)
}
