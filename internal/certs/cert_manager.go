package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
)

// CertManager manages the certificate files in a directory.
type CertManager struct {
	certDir string
	now     func() time.Time
}

// NewCertManager creates a new CertManager for the given directory.
func NewCertManager(certDir string) *CertManager {
	return &CertManager{certDir: certDir, now: time.Now}
}

// LoadCertificates loads all certificates from the cert directory. Files
// ending in .crt or .pem are read; each may hold several PEM blocks.
func (cm *CertManager) LoadCertificates() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	err := filepath.Walk(cm.certDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(info.Name(), ".crt") || strings.HasSuffix(info.Name(), ".pem") {
			loaded, err := cm.loadCertificates(path)
			if err != nil {
				return errors.Annotatef(err, "loading %s", path)
			}
			certs = append(certs, loaded...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return certs, nil
}

// loadCertificates loads the certificates in a PEM file.
func (cm *CertManager) loadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("failed to parse certificate PEM")
	}
	return certs, nil
}

// IsExpired checks if a certificate is expired.
func (cm *CertManager) IsExpired(cert *x509.Certificate) bool {
	return cert.NotAfter.Before(cm.now())
}

// TLSConfig returns a client TLS config trusting the certificates in the
// directory, along with any that have expired so the caller can warn
// about them. An empty directory name trusts the system roots.
func (cm *CertManager) TLSConfig() (*tls.Config, []*x509.Certificate, error) {
	config := &tls.Config{MinVersion: tls.VersionTLS12}
	if cm.certDir == "" {
		return config, nil, nil
	}
	certs, err := cm.LoadCertificates()
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if len(certs) == 0 {
		return nil, nil, errors.NotFoundf("certificates in %q", cm.certDir)
	}
	pool := x509.NewCertPool()
	var expired []*x509.Certificate
	for _, cert := range certs {
		if cm.IsExpired(cert) {
			expired = append(expired, cert)
		}
		pool.AddCert(cert)
	}
	config.RootCAs = pool
	return config, expired, nil
}
