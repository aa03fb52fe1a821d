package handlers

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	// ReviewSpanName names the span opened for every review.
	ReviewSpanName = "AnnotationInjector.Review"

	// DecideSpanName names the child span around the engine decision.
	DecideSpanName = "AnnotationInjector.Decide"
)

// ExtractTraceContext returns ctx joined to the trace propagated in the
// request headers, if any. It matches webhook.Admission's WithContextFunc.
func ExtractTraceContext(ctx context.Context, r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))
}
