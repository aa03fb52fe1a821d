/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package webhook provides the entry point for serving annotation injection
// over HTTPS.
//
// The package exposes a [Setup] function that registers the handlers from
// pkg/webhook/handlers on a controller-runtime webhook server:
//
//   - /mutate-annotations: the standard AdmissionReview endpoint called by the
//     API server through a MutatingWebhookConfiguration.
//
//   - /mutate: the simplified review endpoint ({uid, obj, metadata,
//     annotations}) answering 201 with the AdmissionReview envelope.
//
// # TLS Certificates
//
// Certificates are written by pkg/cert. While the process rotates its own CA,
// [PatchMutatingWebhookCABundle] pushes the bundle into the named
// MutatingWebhookConfiguration so the API server trusts the serving certificate.
package webhook
