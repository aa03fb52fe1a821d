package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	admissionv1 "k8s.io/api/admission/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/numtide/annotation-injector/pkg/monitoring"
	"github.com/numtide/annotation-injector/pkg/mutation"
)

const (
	// ReviewPath is where ReviewHandler is served.
	ReviewPath = "/mutate"

	// MaxRequestBytes bounds the accepted body size.
	MaxRequestBytes = 7 * 1024 * 1024
)

var (
	reviewGroupKind     = schema.GroupKind{Group: admissionv1.GroupName, Kind: mutation.ReviewKind}
	reviewGroupResource = schema.GroupResource{Group: admissionv1.GroupName, Resource: "admissionreviews"}
)

// ReviewHandler serves the simplified review endpoint.
type ReviewHandler struct {
	Engine *mutation.Engine
	Logger logr.Logger
}

var _ http.Handler = &ReviewHandler{}

// NewReviewHandler creates a new review handler. The logger is stored in
// every request context.
func NewReviewHandler(engine *mutation.Engine, logger logr.Logger) *ReviewHandler {
	return &ReviewHandler{
		Engine: engine,
		Logger: logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *ReviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeStatus(w, apierrors.NewMethodNotSupported(reviewGroupResource, r.Method))
		return
	}

	ctx := ExtractTraceContext(r.Context(), r)
	ctx = log.IntoContext(ctx, h.Logger)

	req, err := decodeRequest(w, r)
	if err != nil {
		log.FromContext(ctx).V(1).Info("Rejected review request", "reason", err.Error())
		monitoring.RecordWebhookRequest(ReviewPath, err, time.Since(start))
		writeStatus(w, err)
		return
	}

	ctx, span := monitoring.StartReviewSpan(ctx, ReviewSpanName, string(req.UID), ReviewPath)
	defer span.End()
	ctx = monitoring.EnrichLoggerWithTrace(ctx)
	logger := log.FromContext(ctx).WithValues("uid", req.UID)

	if errs := req.Validate(); len(errs) > 0 {
		err := apierrors.NewInvalid(reviewGroupKind, string(req.UID), errs)
		logger.V(1).Info("Rejected review request", "reason", err.Error())
		monitoring.RecordSpanError(span, err)
		monitoring.RecordWebhookRequest(ReviewPath, err, time.Since(start))
		writeStatus(w, err)
		return
	}

	logger.V(1).Info("Reviewing object", "obj", req.Object, "metadata", req.Metadata)

	if h.Engine == nil {
		err := apierrors.NewInternalError(fmt.Errorf("review handler not initialized: engine is nil"))
		monitoring.RecordSpanError(span, err)
		monitoring.RecordWebhookRequest(ReviewPath, err, time.Since(start))
		writeStatus(w, err)
		return
	}

	_, decideSpan := monitoring.StartChildSpan(ctx, DecideSpanName)
	ops := h.Engine.Decide(req.Annotations)
	decideSpan.End()

	op := mutation.OperationName(ops)
	span.SetAttributes(attribute.String("annotation_injector.op", op))

	review, err := mutation.Render(req.UID, ops)
	if err != nil {
		statusErr := apierrors.NewInternalError(err)
		logger.Error(err, "Failed to render review")
		monitoring.RecordSpanError(span, err)
		monitoring.RecordWebhookRequest(ReviewPath, statusErr, time.Since(start))
		writeStatus(w, statusErr)
		return
	}

	monitoring.RecordPatchOperation(op)
	monitoring.RecordWebhookRequest(ReviewPath, nil, time.Since(start))
	logger.Info("Review decided", "op", op, "overwrite", h.Engine.Overwrite())

	writeJSON(w, http.StatusCreated, review)
}

// decodeRequest reads the body into a Request. Failures are returned as
// API status errors ready to be written to the client.
func decodeRequest(w http.ResponseWriter, r *http.Request) (*mutation.Request, error) {
	body := http.MaxBytesReader(w, r.Body, MaxRequestBytes)
	defer body.Close() //nolint:errcheck // request body

	dec := json.NewDecoder(body)
	req := &mutation.Request{}
	if err := dec.Decode(req); err != nil {
		return nil, decodeStatusError(err)
	}
	// The body must hold exactly one JSON value.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, decodeStatusError(err)
		}
		return nil, apierrors.NewInvalid(reviewGroupKind, "", field.ErrorList{
			field.Invalid(field.NewPath("body"), nil, "unexpected data after JSON object"),
		})
	}
	return req, nil
}

func decodeStatusError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apierrors.NewRequestEntityTooLargeError(
			fmt.Sprintf("limit is %d bytes", tooLarge.Limit))
	}
	return apierrors.NewInvalid(reviewGroupKind, "", field.ErrorList{decodeFieldError(err)})
}

func decodeFieldError(err error) *field.Error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return field.TypeInvalid(
			field.NewPath(typeErr.Field),
			typeErr.Value,
			fmt.Sprintf("expected %s", typeErr.Type),
		)
	}
	if errors.Is(err, io.EOF) {
		return field.Required(field.NewPath("body"), "request body must not be empty")
	}
	return field.Invalid(field.NewPath("body"), nil, err.Error())
}

func writeStatus(w http.ResponseWriter, err error) {
	var apiStatus apierrors.APIStatus
	if !errors.As(err, &apiStatus) {
		apiStatus = apierrors.NewInternalError(err)
	}
	status := apiStatus.Status()
	status.TypeMeta = metav1.TypeMeta{APIVersion: "v1", Kind: "Status"}
	writeJSON(w, int(status.Code), &status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Log.Error(err, "Failed to write response")
	}
}
