// Package certs builds ephemeral self-signed certificates for TLS
// endpoints that have no provisioned identity, such as local test
// backends. Certificates live in memory only.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// SelfSigned generates and caches one self-signed certificate for a host.
type SelfSigned struct {
	Host string

	cert *tls.Certificate
	der  []byte
}

// NewSelfSigned creates a certificate source for the given host name.
func NewSelfSigned(host string) *SelfSigned {
	return &SelfSigned{Host: host}
}

// Certificate returns the certificate, generating it on first use.
func (s *SelfSigned) Certificate() (*tls.Certificate, error) {
	if s.cert != nil {
		return s.cert, nil
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("could not generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("could not generate serial number: %w", err)
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: s.Host,
		},
		DNSNames:  []string{s.Host},
		NotBefore: notBefore,
		NotAfter:  notBefore.Add(365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(s.Host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	}

	s.der, err = x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("could not create certificate: %w", err)
	}

	s.cert = &tls.Certificate{
		Certificate: [][]byte{s.der},
		PrivateKey:  priv,
	}
	return s.cert, nil
}

// Fingerprint returns the SHA-256 hash of the certificate.
func (s *SelfSigned) Fingerprint() ([]byte, error) {
	if _, err := s.Certificate(); err != nil {
		return nil, err
	}
	fingerprint := sha256.Sum256(s.der)
	return fingerprint[:], nil
}

// ServerTLSConfig builds the listening side configuration.
func (s *SelfSigned) ServerTLSConfig() (*tls.Config, error) {
	cert, err := s.Certificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLSConfig builds a dialing configuration that trusts exactly
// this certificate.
func (s *SelfSigned) ClientTLSConfig() (*tls.Config, error) {
	if _, err := s.Certificate(); err != nil {
		return nil, err
	}
	parsed, err := x509.ParseCertificate(s.der)
	if err != nil {
		return nil, fmt.Errorf("could not parse certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(parsed)
	return &tls.Config{
		RootCAs:    pool,
		ServerName: s.Host,
		MinVersion: tls.VersionTLS12,
	}, nil
}
