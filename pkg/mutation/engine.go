package mutation

import (
	"encoding/json"
	"fmt"

	"gomodules.xyz/jsonpatch/v2"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
)

const (
	// TargetKey is the annotation the engine ensures on every object.
	TargetKey = "example.com/injected"
	// TargetValue is the value written to TargetKey.
	TargetValue = "true"

	// AnnotationsPath is the JSON Pointer of the annotations container.
	AnnotationsPath = "/metadata/annotations"

	OpAdd     = "add"
	OpReplace = "replace"
	// OpNone labels a decision that produced no operation.
	OpNone = "none"
)

// Options configures an Engine. Values are fixed for the engine's lifetime.
type Options struct {
	// Overwrite replaces an existing TargetKey whose value differs from
	// TargetValue. When false such objects are left untouched.
	Overwrite bool

	// LegacyUnescapedPaths writes TargetKey into single-key paths verbatim
	// instead of escaping the '/' as "~1".
	LegacyUnescapedPaths bool
}

// Engine decides whether an object needs the target annotation and renders
// the response envelope. The zero value is not usable; use NewEngine.
type Engine struct {
	overwrite bool
	keyPath   string
}

// NewEngine creates an Engine with the given policy.
func NewEngine(opts Options) *Engine {
	keyPath := JoinPointer(AnnotationsPath, TargetKey)
	if opts.LegacyUnescapedPaths {
		keyPath = AnnotationsPath + "/" + TargetKey
	}
	return &Engine{
		overwrite: opts.Overwrite,
		keyPath:   keyPath,
	}
}

// Overwrite reports the engine's overwrite policy.
func (e *Engine) Overwrite() bool {
	return e.overwrite
}

// KeyPath returns the JSON Pointer used for single-key operations.
func (e *Engine) KeyPath() string {
	return e.keyPath
}

// Decide returns the operations needed to bring annotations in line with the
// policy. The result holds zero or one operation. A nil map means the object
// has no annotations container.
func (e *Engine) Decide(annotations map[string]string) []jsonpatch.JsonPatchOperation {
	if annotations == nil {
		return []jsonpatch.JsonPatchOperation{{
			Operation: OpAdd,
			Path:      AnnotationsPath,
			Value:     map[string]string{TargetKey: TargetValue},
		}}
	}

	current, ok := annotations[TargetKey]
	switch {
	case !ok:
		return []jsonpatch.JsonPatchOperation{{
			Operation: OpAdd,
			Path:      e.keyPath,
			Value:     TargetValue,
		}}
	case current == TargetValue:
		return nil
	case !e.overwrite:
		return nil
	default:
		return []jsonpatch.JsonPatchOperation{{
			Operation: OpReplace,
			Path:      e.keyPath,
			Value:     TargetValue,
		}}
	}
}

// Review runs Decide and wraps the outcome in an AdmissionReview envelope
// addressed to uid.
func (e *Engine) Review(uid types.UID, annotations map[string]string) (*Review, error) {
	return Render(uid, e.Decide(annotations))
}

// Render wraps ops in an envelope addressed to uid. The request is always
// allowed. Patch and PatchType are set only when ops is non-empty.
func Render(uid types.UID, ops []jsonpatch.JsonPatchOperation) (*Review, error) {
	result := Result{
		UID:     uid,
		Allowed: true,
	}
	if len(ops) > 0 {
		patch, err := EncodePatch(ops)
		if err != nil {
			return nil, err
		}
		result.Patch = patch
		result.PatchType = ptr.To(admissionv1.PatchTypeJSONPatch)
	}

	return &Review{
		TypeMeta: metav1.TypeMeta{
			APIVersion: admissionv1.SchemeGroupVersion.String(),
			Kind:       ReviewKind,
		},
		Response: result,
	}, nil
}

// EncodePatch serializes ops as a JSON Patch document.
func EncodePatch(ops []jsonpatch.JsonPatchOperation) ([]byte, error) {
	patch, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON patch: %w", err)
	}
	return patch, nil
}

// OperationName summarizes a decision for logs and metrics.
func OperationName(ops []jsonpatch.JsonPatchOperation) string {
	if len(ops) == 0 {
		return OpNone
	}
	return ops[0].Operation
}
