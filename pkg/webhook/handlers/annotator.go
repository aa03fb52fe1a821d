package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/numtide/annotation-injector/pkg/monitoring"
	"github.com/numtide/annotation-injector/pkg/mutation"
)

// +kubebuilder:webhook:path=/mutate-annotations,mutating=true,failurePolicy=ignore,sideEffects=None,groups="*",resources=*,verbs=create;update,versions=*,name=annotations.example.com,admissionReviewVersions=v1

// AdmissionPath is where AnnotationInjector is served.
const AdmissionPath = "/mutate-annotations"

// AnnotationInjector ensures the target annotation on objects passing
// through a standard AdmissionReview.
type AnnotationInjector struct {
	Engine *mutation.Engine
}

var _ admission.Handler = &AnnotationInjector{}

// NewAnnotationInjector creates a new admission handler.
func NewAnnotationInjector(engine *mutation.Engine) *AnnotationInjector {
	return &AnnotationInjector{
		Engine: engine,
	}
}

// Handle implements admission.Handler.
func (a *AnnotationInjector) Handle(ctx context.Context, req admission.Request) admission.Response {
	start := time.Now()

	ctx, span := monitoring.StartReviewSpan(ctx, ReviewSpanName, string(req.UID), AdmissionPath)
	defer span.End()
	ctx = monitoring.EnrichLoggerWithTrace(ctx)
	logger := log.FromContext(ctx).WithValues("uid", req.UID, "operation", req.Operation)

	if a.Engine == nil {
		err := fmt.Errorf("annotation injector not initialized: engine is nil")
		monitoring.RecordSpanError(span, err)
		monitoring.RecordWebhookRequest(AdmissionPath, err, time.Since(start))
		return admission.Errored(http.StatusInternalServerError, err)
	}

	obj, err := decodeObject(req.Object.Raw)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		monitoring.RecordWebhookRequest(AdmissionPath, err, time.Since(start))
		return admission.Errored(http.StatusBadRequest, err)
	}
	if obj == nil {
		// DELETE and CONNECT carry no object to annotate.
		monitoring.RecordWebhookRequest(AdmissionPath, nil, time.Since(start))
		return admission.Allowed("no object to annotate")
	}

	annotations, err := objectAnnotations(obj)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		monitoring.RecordWebhookRequest(AdmissionPath, err, time.Since(start))
		return admission.Errored(http.StatusBadRequest, err)
	}

	_, decideSpan := monitoring.StartChildSpan(ctx, DecideSpanName)
	ops := a.Engine.Decide(annotations)
	decideSpan.End()

	op := mutation.OperationName(ops)
	span.SetAttributes(attribute.String("annotation_injector.op", op))
	monitoring.RecordPatchOperation(op)
	monitoring.RecordWebhookRequest(AdmissionPath, nil, time.Since(start))

	if len(ops) == 0 {
		logger.V(1).Info("Annotation already satisfied")
		return admission.Allowed("")
	}
	logger.Info("Annotation patched", "op", op, "path", ops[0].Path)
	return admission.Patched("", ops...)
}

// decodeObject returns nil when raw holds no object.
func decodeObject(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	return obj, nil
}

// objectAnnotations reads metadata.annotations. A missing or null field
// yields a nil map; an empty object yields an empty, non-nil map.
func objectAnnotations(obj map[string]any) (map[string]string, error) {
	val, found, err := unstructured.NestedFieldNoCopy(obj, "metadata", "annotations")
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata.annotations: %w", err)
	}
	if !found || val == nil {
		return nil, nil
	}

	raw, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to read metadata.annotations: %T is not an object", val)
	}
	// A null value is treated like an absent key.
	annotations := make(map[string]string, len(raw))
	for k, v := range raw {
		switch s := v.(type) {
		case nil:
		case string:
			annotations[k] = s
		default:
			return nil, fmt.Errorf("failed to read metadata.annotations[%q]: %T is not a string", k, v)
		}
	}
	return annotations, nil
}
