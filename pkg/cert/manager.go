package cert

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	CertFileName   = "tls.crt"
	KeyFileName    = "tls.key"
	CACertFileName = "ca.crt"

	caCertKey = "ca.crt"
	caKeyKey  = "ca.key"

	// RotationThreshold is the buffer before expiry at which certs are rotated (30 days).
	RotationThreshold = 30 * 24 * time.Hour
)

// Options configures the CertRotator.
type Options struct {
	// Namespace and ServiceName identify the webhook Service; they determine
	// the DNS SANs of the serving certificate and where the CA Secret lives.
	Namespace   string
	ServiceName string

	// CASecretName is the Secret holding ca.crt and ca.key.
	CASecretName string

	// CertDir is the directory the webhook server reads its certificate from.
	CertDir string

	// RotationInterval is how often the background rotation loop runs.
	// Defaults to 1 hour.
	RotationInterval time.Duration

	// Organization overrides the certificate Organization field.
	Organization string

	// AdditionalDNSNames are extra DNS SANs appended to the service names.
	AdditionalDNSNames []string

	// PostReconcileHook is called after the CA and serving cert have been
	// ensured, with the CA bundle PEM bytes.
	PostReconcileHook func(ctx context.Context, caBundle []byte) error
}

// DNSNames returns the SANs the serving certificate is issued for.
func (o *Options) DNSNames() []string {
	names := []string{
		fmt.Sprintf("%s.%s.svc", o.ServiceName, o.Namespace),
		fmt.Sprintf("%s.%s.svc.cluster.local", o.ServiceName, o.Namespace),
	}
	return append(names, o.AdditionalDNSNames...)
}

func (o *Options) validate() error {
	if o.CertDir == "" {
		return fmt.Errorf("cert directory must be set")
	}
	if o.ServiceName == "" || o.Namespace == "" {
		return fmt.Errorf("service name and namespace are required to issue a certificate")
	}
	if o.CASecretName == "" {
		return fmt.Errorf("CA secret name must be set")
	}
	return nil
}

// CertsExist reports whether both the serving certificate and key are present in dir.
func CertsExist(dir string) bool {
	_, errCrt := os.Stat(filepath.Join(dir, CertFileName))
	_, errKey := os.Stat(filepath.Join(dir, KeyFileName))
	return errCrt == nil && errKey == nil
}

// CertRotator keeps a self-signed CA in a Secret and a serving certificate
// signed by it in CertDir, replacing either before it expires.
type CertRotator struct {
	Client   client.Client
	Recorder record.EventRecorder
	Options  Options

	now func() time.Time
}

// NewManager creates a new CertRotator with the provided client, recorder, and options.
func NewManager(c client.Client, recorder record.EventRecorder, opts Options) *CertRotator {
	return &CertRotator{
		Client:   c,
		Recorder: recorder,
		Options:  opts,
		now:      time.Now,
	}
}

// Bootstrap runs at startup so the webhook server finds a certificate on disk.
func (m *CertRotator) Bootstrap(ctx context.Context) error {
	if err := m.Options.validate(); err != nil {
		return err
	}

	log.FromContext(ctx).Info("bootstrapping PKI", "certDir", m.Options.CertDir)

	if err := os.MkdirAll(m.Options.CertDir, 0o750); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}

	return m.reconcilePKI(ctx)
}

// Start runs the background rotation loop. It blocks until ctx is cancelled.
// Implements the controller-runtime Runnable interface.
func (m *CertRotator) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("pki-rotation")
	logger.Info("starting PKI rotation loop")

	interval := m.Options.RotationInterval
	if interval == 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.reconcilePKI(ctx); err != nil {
				logger.Error(err, "periodic PKI reconciliation failed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// NeedLeaderElection reports false: every replica serves with its own
// certificate on disk.
func (m *CertRotator) NeedLeaderElection() bool {
	return false
}

func (m *CertRotator) reconcilePKI(ctx context.Context) error {
	ca, err := m.ensureCA(ctx)
	if err != nil {
		return err
	}

	if err := m.ensureServerCert(ctx, ca); err != nil {
		return err
	}

	if m.Options.PostReconcileHook != nil {
		if err := m.Options.PostReconcileHook(ctx, ca.CertPEM); err != nil {
			return fmt.Errorf("post-reconcile hook failed: %w", err)
		}
	}

	return nil
}

func (m *CertRotator) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

func (m *CertRotator) ensureCA(ctx context.Context) (*CAArtifacts, error) {
	logger := log.FromContext(ctx)
	key := types.NamespacedName{Name: m.Options.CASecretName, Namespace: m.Options.Namespace}

	secret := &corev1.Secret{}
	err := m.Client.Get(ctx, key, secret)
	switch {
	case errors.IsNotFound(err):
	case err != nil:
		return nil, fmt.Errorf("failed to get CA secret: %w", err)
	default:
		artifacts, err := ParseCA(secret.Data[caCertKey], secret.Data[caKeyKey])
		if err == nil && artifacts.Cert.NotAfter.Sub(m.clock()) >= RotationThreshold {
			return artifacts, nil
		}
		if err != nil {
			logger.Error(err, "CA secret is corrupt, recreating")
		} else {
			logger.Info("CA is near expiry, rotating", "notAfter", artifacts.Cert.NotAfter)
		}
		if err := m.Client.Delete(ctx, secret); err != nil && !errors.IsNotFound(err) {
			return nil, fmt.Errorf("failed to delete CA secret: %w", err)
		}
	}

	artifacts, err := GenerateCA(m.Options.Organization)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA: %w", err)
	}

	secret = &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      key.Name,
			Namespace: key.Namespace,
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			caCertKey: artifacts.CertPEM,
			caKeyKey:  artifacts.KeyPEM,
		},
	}
	if err := m.Client.Create(ctx, secret); err != nil {
		if !errors.IsAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create CA secret: %w", err)
		}
		// Another replica won the race; adopt its CA.
		if err := m.Client.Get(ctx, key, secret); err != nil {
			return nil, fmt.Errorf("failed to get CA secret: %w", err)
		}
		return ParseCA(secret.Data[caCertKey], secret.Data[caKeyKey])
	}

	m.recorderEvent(secret, corev1.EventTypeNormal, "Generated", "Generated new webhook CA certificate")
	return artifacts, nil
}

func (m *CertRotator) ensureServerCert(ctx context.Context, ca *CAArtifacts) error {
	logger := log.FromContext(ctx)

	reason := m.serverCertRotationReason(ca)
	if reason == "" {
		return m.writeFile(CACertFileName, ca.CertPEM, 0o644)
	}
	logger.Info("issuing serving certificate", "reason", reason)

	dnsNames := m.Options.DNSNames()
	srv, err := GenerateServerCert(ca, dnsNames[0], dnsNames, WithOrganization(m.Options.Organization))
	if err != nil {
		return fmt.Errorf("failed to generate server cert: %w", err)
	}

	// The key goes first so the watcher never pairs a new cert with the old key
	// for longer than one reload.
	files := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{CACertFileName, ca.CertPEM, 0o644},
		{KeyFileName, srv.KeyPEM, 0o600},
		{CertFileName, srv.CertPEM, 0o644},
	}
	for _, f := range files {
		if err := m.writeFile(f.name, f.data, f.perm); err != nil {
			return err
		}
	}

	m.recorderEvent(m.caSecretRef(), corev1.EventTypeNormal, "Rotated", "Rotated webhook serving certificate: "+reason)
	return nil
}

// serverCertRotationReason returns why the serving certificate on disk must be
// replaced, or "" when it is still good.
func (m *CertRotator) serverCertRotationReason(ca *CAArtifacts) string {
	certPEM, err := os.ReadFile(filepath.Join(m.Options.CertDir, CertFileName)) //nolint:gosec // path is from trusted config
	if err != nil {
		return "missing"
	}
	if _, err := os.Stat(filepath.Join(m.Options.CertDir, KeyFileName)); err != nil {
		return "missing"
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "corrupt"
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "corrupt"
	}
	if cert.NotAfter.Sub(m.clock()) < RotationThreshold {
		return "near expiry"
	}
	if err := cert.CheckSignatureFrom(ca.Cert); err != nil {
		return "signed by a previous CA"
	}
	return ""
}

// writeFile replaces name in CertDir through a rename so readers never see a
// partially written file. Unchanged content is left alone.
func (m *CertRotator) writeFile(name string, data []byte, perm os.FileMode) error {
	path := filepath.Join(m.Options.CertDir, name)
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, data) { //nolint:gosec // path is from trusted config
		return nil
	}

	tmp, err := os.CreateTemp(m.Options.CertDir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (m *CertRotator) caSecretRef() *corev1.Secret {
	return &corev1.Secret{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Secret"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      m.Options.CASecretName,
			Namespace: m.Options.Namespace,
		},
	}
}

func (m *CertRotator) recorderEvent(object runtime.Object, eventtype, reason, message string) {
	if m.Recorder != nil && object != nil {
		m.Recorder.AnnotatedEventf(object, nil, eventtype, reason, message)
	}
}
