// Package monitoring provides Prometheus metrics, OpenTelemetry tracing and
// logger enrichment for the annotation injector.
//
// All metrics follow the naming convention annotation_injector_<metric>_<unit>
// and are registered against controller-runtime's default Prometheus registry
// on import, next to the webhook server's own metrics.
//
// Usage in handlers:
//
//	ctx, span := monitoring.StartReviewSpan(ctx, "AnnotationInjector.Review", uid, "mutate")
//	defer span.End()
//	ctx = monitoring.EnrichLoggerWithTrace(ctx)
//	...
//	monitoring.RecordPatchOperation(mutation.OperationName(ops))
//	monitoring.RecordWebhookRequest("mutate", err, time.Since(start))
package monitoring
