package certs

import (
	"bytes"
	"crypto/tls"
	"testing"
)

func TestCertificateIsCached(t *testing.T) {
	s := NewSelfSigned("localhost")

	first, err := s.Certificate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.Certificate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected the certificate to be generated once")
	}
}

func TestFingerprintIsStable(t *testing.T) {
	s := NewSelfSigned("localhost")

	first, err := s.Fingerprint()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("expected a sha-256 fingerprint, got %d bytes", len(first))
	}
	second, _ := s.Fingerprint()
	if !bytes.Equal(first, second) {
		t.Error("fingerprint changed between calls")
	}
}

func TestClientTrustsServerConfig(t *testing.T) {
	s := NewSelfSigned("127.0.0.1")

	serverCfg, err := s.ServerTLSConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clientCfg, err := s.ClientTLSConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Read(make([]byte, 1))
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Handshake(); err != nil {
		t.Errorf("handshake failed: %v", err)
	}
}
