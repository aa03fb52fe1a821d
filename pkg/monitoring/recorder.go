package monitoring

import "time"

// RecordWebhookRequest records an admission review's result and duration.
// A nil err counts as success; validation failures and internal errors both
// count as error.
func RecordWebhookRequest(endpoint string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	webhookRequestTotal.WithLabelValues(endpoint, result).Inc()
	webhookRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordPatchOperation counts one engine decision.
func RecordPatchOperation(op string) {
	patchOperationsTotal.WithLabelValues(op).Inc()
}
