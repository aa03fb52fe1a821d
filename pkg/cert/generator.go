package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

const (
	// Organization is the default organization name used in generated certificates.
	Organization = "Annotation Injector"
	// CAValidityDuration is the duration the CA certificate is valid for (10 years).
	CAValidityDuration = 10 * 365 * 24 * time.Hour
	// ServerValidityDuration is the duration the server certificate is valid for (1 year).
	ServerValidityDuration = 365 * 24 * time.Hour
)

// CAArtifacts holds the Certificate Authority keys and PEM-encoded data.
type CAArtifacts struct {
	Cert    *x509.Certificate
	Key     *ecdsa.PrivateKey
	CertPEM []byte
	KeyPEM  []byte
}

// ServerArtifacts holds the server certificate PEM-encoded data.
type ServerArtifacts struct {
	CertPEM []byte
	KeyPEM  []byte
}

type serverCertConfig struct {
	organization string
}

// ServerCertOption configures optional behavior for GenerateServerCert.
type ServerCertOption func(*serverCertConfig)

// WithOrganization overrides the Organization of the generated certificate.
func WithOrganization(org string) ServerCertOption {
	return func(cfg *serverCertConfig) {
		if org != "" {
			cfg.organization = org
		}
	}
}

// internal variables for mocking in tests
var (
	marshalECPrivateKey = x509.MarshalECPrivateKey
	parseCertificate    = x509.ParseCertificate
)

// GenerateCA creates a new self-signed Root CA using ECDSA P-256.
// An empty organization selects the package default.
func GenerateCA(organization string) (*CAArtifacts, error) {
	if organization == "" {
		organization = Organization
	}

	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA private key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   organization + " CA",
			Organization: []string{organization},
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(CAValidityDuration),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(
		rand.Reader,
		&template,
		&template,
		&privKey.PublicKey,
		privKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := parseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated CA: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	keyBytes, err := marshalECPrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CA key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return &CAArtifacts{
		Cert:    caCert,
		Key:     privKey,
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
	}, nil
}

// GenerateServerCert creates a ServerAuth leaf certificate signed by the
// provided CA. A commonName that parses as an IP is also added as an IP SAN.
func GenerateServerCert(
	ca *CAArtifacts,
	commonName string,
	dnsNames []string,
	opts ...ServerCertOption,
) (*ServerArtifacts, error) {
	if ca == nil {
		return nil, fmt.Errorf("CA artifacts cannot be nil")
	}

	cfg := serverCertConfig{organization: Organization}
	for _, opt := range opts {
		opt(&cfg)
	}

	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate server private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{cfg.organization},
		},
		DNSNames:    dnsNames,
		NotBefore:   time.Now().Add(-1 * time.Hour),
		NotAfter:    time.Now().Add(ServerValidityDuration),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if ip := net.ParseIP(commonName); ip != nil {
		template.IPAddresses = append(template.IPAddresses, ip)
	}

	derBytes, err := x509.CreateCertificate(
		rand.Reader,
		&template,
		ca.Cert,
		&privKey.PublicKey,
		ca.Key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sign server certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	keyBytes, err := marshalECPrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal server key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return &ServerArtifacts{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
	}, nil
}

// ParseCA rebuilds CAArtifacts from PEM-encoded certificate and key, as stored
// in the CA Secret. Keys may be SEC 1 or PKCS #8 encoded ECDSA keys.
func ParseCA(certPEM, keyPEM []byte) (*CAArtifacts, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode CA cert PEM")
	}
	cert, err := parseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA cert: %w", err)
	}
	if !cert.IsCA {
		return nil, fmt.Errorf("certificate %q is not a CA", cert.Subject.CommonName)
	}

	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode CA key PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if pkcs8Err != nil {
			return nil, fmt.Errorf("failed to parse CA private key: %w", err)
		}
		ecKey, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("found non-ECDSA private key type in CA secret")
		}
		key = ecKey
	}

	return &CAArtifacts{
		Cert:    cert,
		Key:     key,
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
	}, nil
}
