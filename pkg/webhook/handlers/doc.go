// Package handlers implements the HTTP side of annotation injection.
//
// Two handlers share one mutation.Engine:
//
//  1. AnnotationInjector:
//     A controller-runtime 'admission.Handler' served on the standard
//     admission path. It reads metadata.annotations from the incoming object
//     and answers with a JSON Patch built by the engine. Requests are never
//     denied.
//
//  2. ReviewHandler:
//     A plain http.Handler for the simplified review body
//     ({uid, obj, metadata, annotations}). Malformed bodies are rejected with
//     a 422 metav1.Status before the engine runs; successful reviews answer
//     201 with the AdmissionReview envelope.
package handlers
