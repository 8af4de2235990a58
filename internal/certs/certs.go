// Package certs owns the local certificate authority and the leaf
// certificate presented on port 443. The CA is the user's one-time trust
// anchor and is kept stable; the leaf is cheap to throw away and regenerate.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"sync"
	"time"

	"github.com/portless-dev/portless/internal/config"
)

// ErrUnavailable indicates TLS material could not be created or loaded.
var ErrUnavailable = errors.New("certs: certificate material unavailable")

const (
	caCommonName = "portless development CA"
	organization = "portless"

	caValidity   = 10 * 365 * 24 * time.Hour
	leafValidity = 825 * 24 * time.Hour

	// renewWindow forces regeneration when a loaded certificate is close
	// enough to expiry that browsers would start complaining mid-session.
	renewWindow = 24 * time.Hour
)

// Manager creates, persists and loads the CA and leaf material at the fixed
// paths under the portless home directory.
type Manager struct {
	paths config.Paths
}

// NewManager returns a manager bound to the given filesystem layout.
func NewManager(paths config.Paths) *Manager {
	return &Manager{paths: paths}
}

// EnsureCA loads the CA key pair from disk, generating and persisting a fresh
// one when missing or invalid. The private key is written owner-only.
func (m *Manager) EnsureCA() error {
	if m.validCA() {
		return nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("%w: generate CA key: %v", ErrUnavailable, err)
	}

	template := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject: pkix.Name{
			CommonName:   caCommonName,
			Organization: []string{organization},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("%w: create CA certificate: %v", ErrUnavailable, err)
	}

	if err := writeKey(m.paths.CAKey, key); err != nil {
		return err
	}
	if err := writeCert(m.paths.CACert, der); err != nil {
		return err
	}

	log.Printf("[Certs] CA certificate created at %s", m.paths.CACert)
	return nil
}

// EnsureLeaf loads the leaf cert/key from disk if it is valid, signed by the
// current CA and covers the required names; otherwise it generates a new one.
// domains lists currently registered hostnames; they are added as explicit
// SANs because several TLS stacks refuse to match the single-label
// *.localhost wildcard.
func (m *Manager) EnsureLeaf(domains []string) error {
	if err := m.EnsureCA(); err != nil {
		return err
	}
	if m.validLeaf(domains) {
		return nil
	}
	return m.generateLeaf(domains)
}

// Regenerate discards the leaf certificate and mints a new one covering the
// given domains. The CA is only recreated if it is itself invalid.
func (m *Manager) Regenerate(domains []string) error {
	if err := m.EnsureCA(); err != nil {
		return err
	}
	return m.generateLeaf(domains)
}

// Clean removes the leaf certificate and key. The CA is left in place so a
// trust-store installation stays valid; the leaf is recreated on the next
// HTTPS startup.
func (m *Manager) Clean() ([]string, error) {
	var removed []string
	for _, path := range []string{m.paths.LeafCert, m.paths.LeafKey} {
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("certs: remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// ServerTLSConfig returns the TLS configuration for the HTTPS listener: the
// leaf followed by the CA so clients can build the chain.
func (m *Manager) ServerTLSConfig() (*tls.Config, error) {
	leafPEM, err := os.ReadFile(m.paths.LeafCert)
	if err != nil {
		return nil, fmt.Errorf("%w: read leaf certificate: %v", ErrUnavailable, err)
	}
	caPEM, err := os.ReadFile(m.paths.CACert)
	if err != nil {
		return nil, fmt.Errorf("%w: read CA certificate: %v", ErrUnavailable, err)
	}
	keyPEM, err := os.ReadFile(m.paths.LeafKey)
	if err != nil {
		return nil, fmt.Errorf("%w: read leaf key: %v", ErrUnavailable, err)
	}

	cert, err := tls.X509KeyPair(append(leafPEM, caPEM...), keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: build key pair: %v", ErrUnavailable, err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// DynamicTLSConfig returns a config whose certificate is re-read from disk
// when the leaf file changes, so regeneration takes effect on the next
// handshake without restarting the listener.
func (m *Manager) DynamicTLSConfig() (*tls.Config, error) {
	base, err := m.ServerTLSConfig()
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		cached   = &base.Certificates[0]
		loadedAt time.Time
	)
	if fi, err := os.Stat(m.paths.LeafCert); err == nil {
		loadedAt = fi.ModTime()
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			mu.Lock()
			defer mu.Unlock()

			fi, err := os.Stat(m.paths.LeafCert)
			if err != nil {
				return cached, nil
			}
			if fi.ModTime().After(loadedAt) {
				if fresh, err := m.ServerTLSConfig(); err == nil {
					cached = &fresh.Certificates[0]
					loadedAt = fi.ModTime()
				}
			}
			return cached, nil
		},
	}, nil
}

// CACertPath returns the path handed to the trust-store adapter.
func (m *Manager) CACertPath() string {
	return m.paths.CACert
}

// CAPool returns a cert pool containing the CA, used by tests and by clients
// that want to verify the proxy without touching the system trust store.
func (m *Manager) CAPool() (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(m.paths.CACert)
	if err != nil {
		return nil, fmt.Errorf("%w: read CA certificate: %v", ErrUnavailable, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("%w: parse CA certificate", ErrUnavailable)
	}
	return pool, nil
}

func (m *Manager) generateLeaf(domains []string) error {
	caCert, caKey, err := m.loadCA()
	if err != nil {
		return err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("%w: generate leaf key: %v", ErrUnavailable, err)
	}

	names := leafSANs(domains)
	template := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject: pkix.Name{
			CommonName:   "localhost",
			Organization: []string{organization},
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(leafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    names,
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("%w: sign leaf certificate: %v", ErrUnavailable, err)
	}

	if err := writeKey(m.paths.LeafKey, key); err != nil {
		return err
	}
	if err := writeCert(m.paths.LeafCert, der); err != nil {
		return err
	}

	log.Printf("[Certs] leaf certificate generated for %v", names)
	return nil
}

func (m *Manager) validCA() bool {
	cert, err := readCert(m.paths.CACert)
	if err != nil {
		return false
	}
	if _, err := readKeyFile(m.paths.CAKey); err != nil {
		return false
	}
	now := time.Now()
	if !cert.IsCA || now.Before(cert.NotBefore) || now.After(cert.NotAfter.Add(-renewWindow)) {
		return false
	}
	// Self-signed check: the CA must verify its own signature.
	return cert.CheckSignatureFrom(cert) == nil
}

func (m *Manager) validLeaf(domains []string) bool {
	leaf, err := readCert(m.paths.LeafCert)
	if err != nil {
		return false
	}
	if _, err := readKeyFile(m.paths.LeafKey); err != nil {
		return false
	}
	caCert, err := readCert(m.paths.CACert)
	if err != nil {
		return false
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter.Add(-renewWindow)) {
		return false
	}
	if err := leaf.CheckSignatureFrom(caCert); err != nil {
		return false
	}
	for _, name := range leafSANs(domains) {
		if leaf.VerifyHostname(name) != nil {
			return false
		}
	}
	return true
}

func (m *Manager) loadCA() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	cert, err := readCert(m.paths.CACert)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load CA certificate: %v", ErrUnavailable, err)
	}
	key, err := readKeyFile(m.paths.CAKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load CA key: %v", ErrUnavailable, err)
	}
	return cert, key, nil
}

func leafSANs(domains []string) []string {
	names := []string{"localhost", "*" + config.DomainSuffix}
	seen := map[string]bool{names[0]: true, names[1]: true}
	for _, d := range domains {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		names = append(names, d)
	}
	return names
}

func newSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return big.NewInt(time.Now().UnixNano())
	}
	return serial
}
