// Package tls builds the TLS configuration of the web server from static
// certificates or Let's Encrypt.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/foxzi/mailtrack/internal/config"
)

// LoadCertificate loads TLS certificate from PEM files
func LoadCertificate(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// CertificateInfo describes a loaded certificate
type CertificateInfo struct {
	Subject  string
	NotAfter time.Time
	DaysLeft int
	DNSNames []string
}

// Inspect returns details of the first static certificate in cfg
func Inspect(cfg *tls.Config) (*CertificateInfo, error) {
	if cfg == nil || len(cfg.Certificates) == 0 || len(cfg.Certificates[0].Certificate) == 0 {
		return nil, fmt.Errorf("no static certificate configured")
	}

	leaf := cfg.Certificates[0].Leaf
	if leaf == nil {
		var err error
		leaf, err = x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
	}

	return &CertificateInfo{
		Subject:  leaf.Subject.CommonName,
		NotAfter: leaf.NotAfter,
		DaysLeft: int(time.Until(leaf.NotAfter).Hours() / 24),
		DNSNames: leaf.DNSNames,
	}, nil
}

// Setup returns the server TLS config for cfg, or nil when TLS is off.
// The ACME manager is non-nil only when Let's Encrypt is enabled.
func Setup(cfg config.TLSConfig) (*tls.Config, *ACMEManager, error) {
	if cfg.ACME.Enabled {
		m := NewACMEManager(cfg.ACME.Email, cfg.ACME.Domains, cfg.ACME.CacheDir)
		return m.TLSConfig(), m, nil
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsConfig, err := LoadCertificate(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, nil, err
		}
		return tlsConfig, nil, nil
	}
	return nil, nil, nil
}
