package webhook

import (
	"context"
	"fmt"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	// CertStrategyAnnotation marks a webhook configuration whose caBundle is
	// managed by the injector's self-signed CA.
	CertStrategyAnnotation = "annotation-injector.example.com/cert-strategy"

	// CertStrategySelfSigned is the value of CertStrategyAnnotation.
	CertStrategySelfSigned = "self-signed"

	// certFieldOwner is the SSA field manager for caBundle and the annotation.
	certFieldOwner = "annotation-injector-cert"
)

// HasSelfSignedCA reports whether the named MutatingWebhookConfiguration was
// last patched with the injector's own CA. A missing configuration reports false.
func HasSelfSignedCA(ctx context.Context, c client.Client, name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	existing := &admissionregistrationv1.MutatingWebhookConfiguration{}
	if err := c.Get(ctx, types.NamespacedName{Name: name}, existing); err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get mutating webhook config: %w", err)
	}
	return existing.Annotations[CertStrategyAnnotation] == CertStrategySelfSigned, nil
}

// PatchMutatingWebhookCABundle injects caBundle into every webhook of the
// named MutatingWebhookConfiguration using Server-Side Apply. A missing
// configuration, or one without webhooks, is left alone.
func PatchMutatingWebhookCABundle(
	ctx context.Context,
	c client.Client,
	name string,
	caBundle []byte,
) error {
	if name == "" {
		return fmt.Errorf("mutating webhook configuration name must be set")
	}
	if len(caBundle) == 0 {
		return fmt.Errorf("CA bundle must not be empty")
	}

	existing := &admissionregistrationv1.MutatingWebhookConfiguration{}
	if err := c.Get(ctx, types.NamespacedName{Name: name}, existing); err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to get mutating webhook config: %w", err)
	}
	if len(existing.Webhooks) == 0 {
		return nil
	}

	patch := &admissionregistrationv1.MutatingWebhookConfiguration{
		TypeMeta: metav1.TypeMeta{
			APIVersion: admissionregistrationv1.SchemeGroupVersion.String(),
			Kind:       "MutatingWebhookConfiguration",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Annotations: map[string]string{
				CertStrategyAnnotation: CertStrategySelfSigned,
			},
		},
		Webhooks: make([]admissionregistrationv1.MutatingWebhook, len(existing.Webhooks)),
	}
	for i, wh := range existing.Webhooks {
		patch.Webhooks[i] = admissionregistrationv1.MutatingWebhook{
			Name:                    wh.Name,
			AdmissionReviewVersions: wh.AdmissionReviewVersions,
			SideEffects:             wh.SideEffects,
			ClientConfig: admissionregistrationv1.WebhookClientConfig{
				CABundle: caBundle,
				Service:  wh.ClientConfig.Service,
				URL:      wh.ClientConfig.URL,
			},
		}
	}

	if err := c.Patch(
		ctx,
		patch,
		client.Apply,
		client.FieldOwner(certFieldOwner),
		client.ForceOwnership,
	); err != nil {
		return fmt.Errorf("failed to patch mutating webhook config: %w", err)
	}
	return nil
}
