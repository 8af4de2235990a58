package certs

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const (
	certBlockType = "CERTIFICATE"
	keyBlockType  = "EC PRIVATE KEY"
)

func writeKey(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("%w: marshal key: %v", ErrUnavailable, err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: keyBlockType, Bytes: der})
	// Private keys must never be group or world readable.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

func writeCert(path string, der []byte) error {
	data := pem.EncodeToMemory(&pem.Block{Type: certBlockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

func readCert(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != certBlockType {
		return nil, fmt.Errorf("certs: no certificate block in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

func readKeyFile(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != keyBlockType {
		return nil, fmt.Errorf("certs: no key block in %s", path)
	}
	return x509.ParseECPrivateKey(block.Bytes)
}
