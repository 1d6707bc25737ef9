package tls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/mailtrack/internal/config"
)

// generateTestCertificate creates a self-signed certificate and key for testing
func generateTestCertificate() (certPEM, keyPEM []byte, err error) {
	// Generate RSA key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	// Create certificate template
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	// Create certificate
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, err
	}

	// Encode certificate to PEM
	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	// Encode private key to PEM
	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return certPEM, keyPEM, nil
}

func TestLoadCertificate(t *testing.T) {
	// Create temporary test certificates
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "cert.pem")
	keyFile := filepath.Join(tmpDir, "key.pem")

	// Generate test certificate and key dynamically
	certPEM, keyPEM, err := generateTestCertificate()
	if err != nil {
		t.Fatalf("failed to generate test certificate: %v", err)
	}

	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatal(err)
	}

	t.Run("valid certificate", func(t *testing.T) {
		cert, err := LoadCertificate(certFile, keyFile)
		if err != nil {
			t.Errorf("unexpected error loading valid certificate: %v", err)
		}
		if cert == nil {
			t.Error("expected certificate, got nil")
		}
	})

	t.Run("non-existent cert file", func(t *testing.T) {
		_, err := LoadCertificate("/nonexistent/cert.pem", "/nonexistent/key.pem")
		if err == nil {
			t.Error("expected error for non-existent files")
		}
	})

	t.Run("invalid cert", func(t *testing.T) {
		invalidCert := filepath.Join(tmpDir, "invalid.pem")
		if err := os.WriteFile(invalidCert, []byte("invalid"), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadCertificate(invalidCert, keyFile)
		if err == nil {
			t.Error("expected error for invalid certificate")
		}
	})
}

func writeTestCertificate(t *testing.T) (string, string) {
	t.Helper()
	certPEM, keyPEM, err := generateTestCertificate()
	if err != nil {
		t.Fatalf("failed to generate test certificate: %v", err)
	}
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	os.WriteFile(certFile, certPEM, 0644)
	os.WriteFile(keyFile, keyPEM, 0600)
	return certFile, keyFile
}

func TestInspect(t *testing.T) {
	certFile, keyFile := writeTestCertificate(t)
	cfg, err := LoadCertificate(certFile, keyFile)
	if err != nil {
		t.Fatal(err)
	}

	info, err := Inspect(cfg)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if info.Subject != "localhost" {
		t.Errorf("Subject = %q, want localhost", info.Subject)
	}
	if info.DaysLeft != 0 {
		t.Errorf("DaysLeft = %d, want 0 for a one day certificate", info.DaysLeft)
	}
	if len(info.DNSNames) != 1 || info.DNSNames[0] != "localhost" {
		t.Errorf("DNSNames = %v", info.DNSNames)
	}

	if _, err := Inspect(nil); err == nil {
		t.Error("Inspect(nil) should fail")
	}
}

func TestSetup(t *testing.T) {
	certFile, keyFile := writeTestCertificate(t)

	t.Run("disabled", func(t *testing.T) {
		cfg, acme, err := Setup(config.TLSConfig{})
		if err != nil || cfg != nil || acme != nil {
			t.Errorf("Setup() = %v, %v, %v, want all nil", cfg, acme, err)
		}
	})

	t.Run("static certificate", func(t *testing.T) {
		cfg, acme, err := Setup(config.TLSConfig{CertFile: certFile, KeyFile: keyFile})
		if err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if cfg == nil || len(cfg.Certificates) != 1 || acme != nil {
			t.Error("expected a static TLS config without ACME")
		}
	})

	t.Run("acme", func(t *testing.T) {
		cfg, acme, err := Setup(config.TLSConfig{ACME: config.ACMEConfig{
			Enabled:  true,
			Email:    "ops@example.com",
			Domains:  []string{"track.example.com"},
			CacheDir: t.TempDir(),
		}})
		if err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if cfg == nil || cfg.GetCertificate == nil {
			t.Error("ACME TLS config should fetch certificates on demand")
		}
		if acme == nil || acme.Domains()[0] != "track.example.com" {
			t.Error("expected an ACME manager for the configured domain")
		}
	})
}

func TestACMERedirect(t *testing.T) {
	m := NewACMEManager("ops@example.com", []string{"track.example.com"}, t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "http://track.example.com/track/abc?t=1", nil)
	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMovedPermanently {
		t.Errorf("status = %d, want 301", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "https://track.example.com/track/abc?t=1" {
		t.Errorf("Location = %q", got)
	}
}
