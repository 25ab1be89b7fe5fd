package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// CertPEM returns the certificate, without its key, PEM encoded.
func (c *CertInfo) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Leaf.Raw})
}

// WriteCertFile writes the certificate to path for clients to trust.
func (c *CertInfo) WriteCertFile(path string) error {
	if err := os.WriteFile(path, c.CertPEM(), 0o644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	return nil
}

// ClientTLSFromFile returns a client configuration trusting the PEM
// certificates in path.
func ClientTLSFromFile(path string) (*tls.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.New("no certificates in CA file")
	}
	return &tls.Config{RootCAs: pool}, nil
}
