package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Injector metric collectors. They complement the controller-runtime webhook
// metrics (controller_runtime_webhook_*), which know nothing about the
// decision taken for each review.
var (
	webhookRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_injector_webhook_request_total",
			Help: "Total number of admission reviews handled, by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	webhookRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annotation_injector_webhook_request_duration_seconds",
			Help:    "Latency of admission review handling in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	patchOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_injector_patch_operations_total",
			Help: "Decisions taken by the mutation engine, by JSON Patch operation (add, replace or none).",
		},
		[]string{"op"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		webhookRequestTotal,
		webhookRequestDuration,
		patchOperationsTotal,
	)
}

// Collectors returns all registered metric collectors. This is useful for
// testing that metrics are properly registered.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		webhookRequestTotal,
		webhookRequestDuration,
		patchOperationsTotal,
	}
}
