package mutation

import (
	"encoding/json"

	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// ReviewKind is the kind of every envelope the engine renders.
const ReviewKind = "AdmissionReview"

// Request is the simplified review body accepted on the /mutate endpoint.
// Object and Metadata are opaque; only Annotations feeds the decision.
type Request struct {
	UID         types.UID         `json:"uid"`
	Object      map[string]any    `json:"obj"`
	Metadata    map[string]any    `json:"metadata"`
	Annotations map[string]string `json:"annotations"`
}

// UnmarshalJSON decodes a Request. An annotation whose value is null is
// dropped, so it reads as a missing key rather than an empty value.
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	aux := struct {
		*plain
		Annotations map[string]*string `json:"annotations"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Annotations = nil
	if aux.Annotations == nil {
		return nil
	}
	r.Annotations = make(map[string]string, len(aux.Annotations))
	for k, v := range aux.Annotations {
		if v != nil {
			r.Annotations[k] = *v
		}
	}
	return nil
}

// Review is the outgoing AdmissionReview envelope.
type Review struct {
	metav1.TypeMeta `json:",inline"`

	Response Result `json:"response"`
}

// Result is the decision carried by a Review. Patch is the raw JSON Patch
// document; encoding/json renders it as base64. Unlike
// admissionv1.AdmissionResponse, Patch and PatchType serialize as null when
// unset.
type Result struct {
	UID       types.UID              `json:"uid"`
	Allowed   bool                   `json:"allowed"`
	Patch     []byte                 `json:"patch"`
	PatchType *admissionv1.PatchType `json:"patchType"`
}
