// Package cert manages the TLS material the webhook server needs when no
// certificate has been provisioned for it.
//
// Production deployments usually mount certificates issued by cert-manager
// into the webhook cert directory. When that directory is empty, a
// [CertRotator] keeps a self-signed ECDSA P-256 CA in a Secret in the webhook
// namespace and issues a serving certificate for the webhook Service:
//
//	<service>.<namespace>.svc
//	<service>.<namespace>.svc.cluster.local
//
// tls.crt, tls.key and ca.crt are written to the cert directory, where the
// webhook server's certificate watcher picks them up. The rotator runs as a
// manager Runnable and replaces the CA or the serving certificate once either
// is within [RotationThreshold] of expiry; its PostReconcileHook receives the
// CA bundle after every pass so it can be injected into the
// MutatingWebhookConfiguration.
package cert
