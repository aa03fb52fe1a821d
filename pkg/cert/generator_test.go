package cert

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func decodeCert(tb testing.TB, pemData []byte) *x509.Certificate {
	tb.Helper()
	block, _ := pem.Decode(pemData)
	if block == nil {
		tb.Fatalf("failed to decode PEM")
		return nil
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		tb.Fatalf("failed to parse certificate: %v", err)
	}
	return cert
}

func TestGenerateCA(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		organization string
		wantCN       string
		wantOrg      string
	}{
		"Default organization": {
			wantCN:  "Annotation Injector CA",
			wantOrg: "Annotation Injector",
		},
		"Custom organization": {
			organization: "Acme",
			wantCN:       "Acme CA",
			wantOrg:      "Acme",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ca, err := GenerateCA(tc.organization)
			if err != nil {
				t.Fatalf("GenerateCA() error = %v", err)
			}
			cert := decodeCert(t, ca.CertPEM)
			if !cert.IsCA {
				t.Error("Expected CA cert to have IsCA=true")
			}
			if got := cert.Subject.CommonName; got != tc.wantCN {
				t.Errorf("CommonName mismatch: got %q, want %q", got, tc.wantCN)
			}
			if diff := cmp.Diff([]string{tc.wantOrg}, cert.Subject.Organization); diff != "" {
				t.Errorf("Organization mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerateServerCert(t *testing.T) {
	t.Parallel()

	caArtifacts, err := GenerateCA("")
	if err != nil {
		t.Fatalf("setup failed: GenerateCA error = %v", err)
	}

	type input struct {
		ca         *CAArtifacts
		commonName string
		dnsNames   []string
		opts       []ServerCertOption
	}

	tests := map[string]struct {
		input    input
		validate func(testing.TB, *ServerArtifacts)
		wantErr  bool
	}{
		"Happy Path: Generate Server Cert": {
			input: input{
				ca:         caArtifacts,
				commonName: "injector.ns.svc",
				dnsNames:   []string{"injector.ns.svc", "injector.ns.svc.cluster.local"},
			},
			validate: func(tb testing.TB, arts *ServerArtifacts) {
				cert := decodeCert(tb, arts.CertPEM)
				if cert.IsCA {
					tb.Error("Expected server cert to NOT be CA")
				}
				if got, want := cert.Subject.CommonName, "injector.ns.svc"; got != want {
					tb.Errorf("CN mismatch: got %q, want %q", got, want)
				}
				if diff := cmp.Diff(
					[]string{"injector.ns.svc", "injector.ns.svc.cluster.local"},
					cert.DNSNames,
				); diff != "" {
					tb.Errorf("DNSNames mismatch (-want +got):\n%s", diff)
				}
				if err := cert.CheckSignatureFrom(caArtifacts.Cert); err != nil {
					tb.Errorf("Signature verification failed: %v", err)
				}
				if len(cert.ExtKeyUsage) != 1 || cert.ExtKeyUsage[0] != x509.ExtKeyUsageServerAuth {
					tb.Errorf("Expected ExtKeyUsage [ServerAuth], got %v", cert.ExtKeyUsage)
				}
			},
		},
		"Happy Path: Server Cert with IP": {
			input: input{
				ca:         caArtifacts,
				commonName: "192.168.1.1",
				dnsNames:   []string{"example.com"},
			},
			validate: func(tb testing.TB, arts *ServerArtifacts) {
				cert := decodeCert(tb, arts.CertPEM)
				if len(cert.IPAddresses) != 1 ||
					!cert.IPAddresses[0].Equal(net.ParseIP("192.168.1.1")) {
					tb.Errorf("Expected IP 192.168.1.1, got %v", cert.IPAddresses)
				}
			},
		},
		"Happy Path: Custom Organization": {
			input: input{
				ca:         caArtifacts,
				commonName: "injector",
				opts:       []ServerCertOption{WithOrganization("Acme")},
			},
			validate: func(tb testing.TB, arts *ServerArtifacts) {
				cert := decodeCert(tb, arts.CertPEM)
				if diff := cmp.Diff([]string{"Acme"}, cert.Subject.Organization); diff != "" {
					tb.Errorf("Organization mismatch (-want +got):\n%s", diff)
				}
			},
		},
		"Error: Nil CA": {
			input:   input{ca: nil},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			arts, err := GenerateServerCert(
				tc.input.ca,
				tc.input.commonName,
				tc.input.dnsNames,
				tc.input.opts...)
			if tc.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tc.validate != nil {
				tc.validate(t, arts)
			}
		})
	}
}

func TestGenerator_MockFailures(t *testing.T) {
	// Not parallel - swaps package-level hooks.
	defer func() {
		parseCertificate = x509.ParseCertificate
		marshalECPrivateKey = x509.MarshalECPrivateKey
	}()

	t.Run("GenerateCA: ParseCertificate Failure", func(t *testing.T) {
		parseCertificate = func(der []byte) (*x509.Certificate, error) {
			return nil, fmt.Errorf("mock parse error")
		}

		_, err := GenerateCA("")
		if err == nil || !strings.Contains(err.Error(), "failed to parse generated CA") {
			t.Errorf("Expected parse error, got %v", err)
		}
	})

	t.Run("GenerateCA: Marshal Key Failure", func(t *testing.T) {
		parseCertificate = x509.ParseCertificate
		marshalECPrivateKey = func(key *ecdsa.PrivateKey) ([]byte, error) {
			return nil, fmt.Errorf("mock marshal error")
		}

		_, err := GenerateCA("")
		if err == nil || !strings.Contains(err.Error(), "failed to marshal CA key") {
			t.Errorf("Expected marshal error, got %v", err)
		}
	})

	t.Run("GenerateServerCert: Marshal Key Failure", func(t *testing.T) {
		marshalECPrivateKey = x509.MarshalECPrivateKey
		ca, err := GenerateCA("")
		if err != nil {
			t.Fatalf("GenerateCA() error = %v", err)
		}

		marshalECPrivateKey = func(key *ecdsa.PrivateKey) ([]byte, error) {
			return nil, fmt.Errorf("mock marshal error")
		}
		_, err = GenerateServerCert(ca, "foo", nil)
		if err == nil || !strings.Contains(err.Error(), "failed to marshal server key") {
			t.Errorf("Expected marshal error, got %v", err)
		}
	})
}

func TestParseCA(t *testing.T) {
	t.Parallel()

	ca, err := GenerateCA("")
	if err != nil {
		t.Fatalf("GenerateCA() error = %v", err)
	}
	server, err := GenerateServerCert(ca, "svc", []string{"svc"})
	if err != nil {
		t.Fatalf("GenerateServerCert() error = %v", err)
	}

	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(ca.Key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}
	pkcs8PEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Bytes})

	tests := map[string]struct {
		certPEM []byte
		keyPEM  []byte
		wantErr string
	}{
		"Happy Path: SEC 1 key": {
			certPEM: ca.CertPEM,
			keyPEM:  ca.KeyPEM,
		},
		"Happy Path: PKCS 8 key": {
			certPEM: ca.CertPEM,
			keyPEM:  pkcs8PEM,
		},
		"Error: Cert not PEM": {
			certPEM: []byte("garbage"),
			keyPEM:  ca.KeyPEM,
			wantErr: "failed to decode CA cert PEM",
		},
		"Error: Leaf cert": {
			certPEM: server.CertPEM,
			keyPEM:  server.KeyPEM,
			wantErr: "is not a CA",
		},
		"Error: Key not PEM": {
			certPEM: ca.CertPEM,
			keyPEM:  []byte("garbage"),
			wantErr: "failed to decode CA key PEM",
		},
		"Error: Key unparseable": {
			certPEM: ca.CertPEM,
			keyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte("nope")}),
			wantErr: "failed to parse CA private key",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseCA(tc.certPEM, tc.keyPEM)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("ParseCA() error = %v, want substring %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCA() error = %v", err)
			}
			if !got.Key.PublicKey.Equal(&ca.Key.PublicKey) {
				t.Error("parsed key does not match generated key")
			}
			if !got.Cert.Equal(ca.Cert) {
				t.Error("parsed cert does not match generated cert")
			}
		})
	}
}
