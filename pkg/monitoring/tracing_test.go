package monitoring

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// useTestTracer points the package-level Tracer at an in-memory exporter.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := Tracer
	Tracer = tp.Tracer(tracerName)
	t.Cleanup(func() {
		Tracer = previous
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestStartReviewSpan(t *testing.T) {
	exporter := useTestTracer(t)

	ctx, span := StartReviewSpan(context.Background(), "AnnotationInjector.Review", "u1", "mutate")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	s := spans[0]
	if s.Name != "AnnotationInjector.Review" {
		t.Errorf("span name = %q, want %q", s.Name, "AnnotationInjector.Review")
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want server", s.SpanKind)
	}

	wantAttrs := map[string]string{
		"k8s.admission.uid": "u1",
		"webhook.endpoint":  "mutate",
	}
	for key, want := range wantAttrs {
		found := false
		for _, attr := range s.Attributes {
			if string(attr.Key) == key {
				found = true
				if attr.Value.AsString() != want {
					t.Errorf("attribute %q = %q, want %q", key, attr.Value.AsString(), want)
				}
			}
		}
		if !found {
			t.Errorf("attribute %q not found on span", key)
		}
	}

	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Error("expected context to carry span")
	}
}

func TestStartChildSpan(t *testing.T) {
	exporter := useTestTracer(t)

	ctx, parent := StartReviewSpan(context.Background(), "Parent", "u1", "mutate")
	_, child := StartChildSpan(ctx, "Decide")
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	childSpan, parentSpan := spans[0], spans[1]
	if childSpan.Parent.SpanID() != parentSpan.SpanContext.SpanID() {
		t.Errorf(
			"child parent span ID = %s, want %s",
			childSpan.Parent.SpanID(),
			parentSpan.SpanContext.SpanID(),
		)
	}
}

func TestRecordSpanError(t *testing.T) {
	exporter := useTestTracer(t)

	t.Run("records error on span", func(t *testing.T) {
		exporter.Reset()
		_, span := StartReviewSpan(context.Background(), "Op", "u1", "mutate")
		RecordSpanError(span, errors.New("something failed"))
		span.End()

		spans := exporter.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("expected 1 span, got %d", len(spans))
		}
		s := spans[0]
		if s.Status.Code != codes.Error {
			t.Errorf("span status = %v, want Error", s.Status.Code)
		}
		if s.Status.Description != "something failed" {
			t.Errorf("span status description = %q, want %q", s.Status.Description, "something failed")
		}
		foundErrorEvent := false
		for _, event := range s.Events {
			if event.Name == "exception" {
				foundErrorEvent = true
			}
		}
		if !foundErrorEvent {
			t.Error("expected an exception event on the span")
		}
	})

	t.Run("nil error is no-op", func(t *testing.T) {
		exporter.Reset()
		_, span := StartReviewSpan(context.Background(), "Op", "u1", "mutate")
		RecordSpanError(span, nil)
		span.End()

		spans := exporter.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("expected 1 span, got %d", len(spans))
		}
		if spans[0].Status.Code == codes.Error {
			t.Error("nil error should not set error status")
		}
	})
}

func TestEnrichLoggerWithTrace(t *testing.T) {
	useTestTracer(t)

	t.Run("adds trace_id and span_id to logger", func(t *testing.T) {
		var lines []string
		sink := funcr.New(func(prefix, args string) {
			lines = append(lines, args)
		}, funcr.Options{})

		ctx, span := Tracer.Start(context.Background(), "test-op")
		defer span.End()
		ctx = log.IntoContext(ctx, sink)

		log.FromContext(EnrichLoggerWithTrace(ctx)).Info("hello")

		if len(lines) != 1 {
			t.Fatalf("expected 1 log line, got %d", len(lines))
		}
		traceID := span.SpanContext().TraceID().String()
		if !strings.Contains(lines[0], `"trace_id"="`+traceID+`"`) {
			t.Errorf("log line %s missing trace_id %s", lines[0], traceID)
		}
		if !strings.Contains(lines[0], `"span_id"=`) {
			t.Errorf("log line %s missing span_id", lines[0])
		}
	})

	t.Run("noop for invalid span context", func(t *testing.T) {
		ctx := logr.NewContext(context.Background(), logr.Discard())
		if result := EnrichLoggerWithTrace(ctx); result != ctx {
			t.Error("expected unchanged context for invalid span")
		}
	})
}

func TestInitTracing_NoopWhenEndpointUnset(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	shutdown, err := InitTracing(context.Background(), "test-svc", "v0.0.1")
	if err != nil {
		t.Fatalf("InitTracing() returned error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() returned error: %v", err)
	}
}

func TestInitTracing_WithEndpoint(t *testing.T) {
	// The "none" exporter makes autoexport return a noop exporter without
	// network I/O while still exercising provider setup.
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")
	t.Setenv("OTEL_TRACES_EXPORTER", "none")
	previous := Tracer
	t.Cleanup(func() { Tracer = previous })

	shutdown, err := InitTracing(context.Background(), "test-svc", "v0.0.1")
	if err != nil {
		t.Fatalf("InitTracing() returned error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected non-nil shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() returned error: %v", err)
	}
}

func TestInitTracing_ExporterError(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")
	t.Setenv("OTEL_TRACES_EXPORTER", "invalid-exporter-type")

	shutdown, err := InitTracing(context.Background(), "test-svc", "v0.0.1")
	if err == nil {
		t.Fatal("InitTracing() should have failed with invalid exporter type")
	}
	if shutdown != nil {
		t.Fatal("shutdown function should be nil on error")
	}
	if !strings.Contains(err.Error(), "creating OTLP exporter") {
		t.Errorf("unexpected error message: %v", err)
	}
}
