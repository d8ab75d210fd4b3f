// Package metrics provides Prometheus instrumentation for flowgate components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for flowgate components.
type Registry struct {
	// Rate Limiting Metrics
	RateLimitRequests *prometheus.CounterVec
	RateLimitAllowed  *prometheus.CounterVec
	RateLimitDenied   *prometheus.CounterVec
	RateLimitTokens   *prometheus.GaugeVec

	// Concurrency Metrics
	ConcurrencyInUse   *prometheus.GaugeVec
	ConcurrencyWaiting *prometheus.GaugeVec

	// Queue Metrics
	QueueDepth    *prometheus.GaugeVec
	QueueCapacity *prometheus.GaugeVec
	QueueOffered  *prometheus.CounterVec
	QueueRejected *prometheus.CounterVec

	// Pump Metrics
	PumpTasksCompleted *prometheus.CounterVec
	PumpTasksFailed    *prometheus.CounterVec
	PumpTasksTimedOut  *prometheus.CounterVec
	PumpTaskDuration   *prometheus.HistogramVec
	PumpInFlight       *prometheus.GaugeVec

	// Admission Metrics
	AdmissionAccepted *prometheus.CounterVec
	AdmissionRejected *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by flowgate components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		RateLimitRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowgate",
				Subsystem: "ratelimit",
				Name:      "requests_total",
				Help:      "Total number of rate limit requests",
			},
			[]string{"limiter_type", "limiter_name"},
		),

		RateLimitAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowgate",
				Subsystem: "ratelimit",
				Name:      "allowed_total",
				Help:      "Total number of allowed requests",
			},
			[]string{"limiter_type", "limiter_name"},
		),

		RateLimitDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowgate",
				Subsystem: "ratelimit",
				Name:      "denied_total",
				Help:      "Total number of denied requests",
			},
			[]string{"limiter_type", "limiter_name"},
		),

		RateLimitTokens: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowgate",
				Subsystem: "ratelimit",
				Name:      "tokens_available",
				Help:      "Number of tokens currently available",
			},
			[]string{"limiter_type", "limiter_name"},
		),

		ConcurrencyInUse: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowgate",
				Subsystem: "concurrency",
				Name:      "in_use",
				Help:      "Number of permits currently held",
			},
			[]string{"limiter_name"},
		),

		ConcurrencyWaiting: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowgate",
				Subsystem: "concurrency",
				Name:      "waiting",
				Help:      "Number of acquirers waiting for a permit",
			},
			[]string{"limiter_name"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowgate",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Current number of queued tasks",
			},
			[]string{"queue_name"},
		),

		QueueCapacity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowgate",
				Subsystem: "queue",
				Name:      "capacity",
				Help:      "Queue capacity",
			},
			[]string{"queue_name"},
		),

		QueueOffered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowgate",
				Subsystem: "queue",
				Name:      "offered_total",
				Help:      "Total number of successful offers",
			},
			[]string{"queue_name"},
		),

		QueueRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowgate",
				Subsystem: "queue",
				Name:      "rejected_total",
				Help:      "Total number of offers rejected at capacity",
			},
			[]string{"queue_name"},
		),

		PumpTasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowgate",
				Subsystem: "pump",
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks completed successfully",
			},
			[]string{"pump_name"},
		),

		PumpTasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowgate",
				Subsystem: "pump",
				Name:      "tasks_failed_total",
				Help:      "Total number of tasks that failed",
			},
			[]string{"pump_name"},
		),

		PumpTasksTimedOut: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowgate",
				Subsystem: "pump",
				Name:      "tasks_timed_out_total",
				Help:      "Total number of tasks that exceeded their deadline",
			},
			[]string{"pump_name"},
		),

		PumpTaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "flowgate",
				Subsystem: "pump",
				Name:      "task_duration_seconds",
				Help:      "Time spent executing tasks",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pump_name"},
		),

		PumpInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowgate",
				Subsystem: "pump",
				Name:      "in_flight",
				Help:      "Number of tasks currently executing",
			},
			[]string{"pump_name"},
		),

		AdmissionAccepted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowgate",
				Subsystem: "admission",
				Name:      "accepted_total",
				Help:      "Total number of requests admitted into the pipeline",
			},
			[]string{"controller_name"},
		),

		AdmissionRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowgate",
				Subsystem: "admission",
				Name:      "rejected_total",
				Help:      "Total number of requests rejected at admission",
			},
			[]string{"controller_name", "reason"},
		),
	}
}
