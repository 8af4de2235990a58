package certs

import (
	"crypto/x509"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/portless-dev/portless/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	paths, err := config.EnsurePaths(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(paths)
}

func TestEnsureCACreatesAndReuses(t *testing.T) {
	m := newTestManager(t)

	if err := m.EnsureCA(); err != nil {
		t.Fatalf("EnsureCA: %v", err)
	}

	first, err := readCert(m.paths.CACert)
	if err != nil {
		t.Fatalf("readCert: %v", err)
	}
	if !first.IsCA {
		t.Error("CA certificate missing CA basic constraint")
	}
	if first.Subject.CommonName != caCommonName {
		t.Errorf("CommonName = %q", first.Subject.CommonName)
	}

	// Second call must be a no-op.
	if err := m.EnsureCA(); err != nil {
		t.Fatalf("EnsureCA (reuse): %v", err)
	}
	second, err := readCert(m.paths.CACert)
	if err != nil {
		t.Fatal(err)
	}
	if first.SerialNumber.Cmp(second.SerialNumber) != 0 {
		t.Error("EnsureCA regenerated an already valid CA")
	}
}

func TestKeyFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix file modes")
	}
	m := newTestManager(t)
	if err := m.EnsureLeaf(nil); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{m.paths.CAKey, m.paths.LeafKey} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			t.Errorf("%s has mode %o; keys must be owner-only", path, perm)
		}
	}
}

func TestLeafVerifiesAgainstCA(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureLeaf([]string{"api.localhost"}); err != nil {
		t.Fatalf("EnsureLeaf: %v", err)
	}

	leaf, err := readCert(m.paths.LeafCert)
	if err != nil {
		t.Fatal(err)
	}
	pool, err := m.CAPool()
	if err != nil {
		t.Fatal(err)
	}

	for _, host := range []string{"anything.localhost", "api.localhost", "localhost"} {
		_, err := leaf.Verify(x509.VerifyOptions{
			Roots:       pool,
			DNSName:     host,
			CurrentTime: time.Now(),
		})
		if err != nil {
			t.Errorf("leaf does not verify for %s: %v", host, err)
		}
	}
}

func TestEnsureLeafRegeneratesForNewDomains(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureLeaf(nil); err != nil {
		t.Fatal(err)
	}
	first, err := readCert(m.paths.LeafCert)
	if err != nil {
		t.Fatal(err)
	}

	// The wildcard covers single-label subdomains, so a plain domain does
	// not force a new leaf.
	if err := m.EnsureLeaf([]string{"api.localhost"}); err != nil {
		t.Fatal(err)
	}
	second, err := readCert(m.paths.LeafCert)
	if err != nil {
		t.Fatal(err)
	}
	if first.SerialNumber.Cmp(second.SerialNumber) != 0 {
		t.Error("wildcard-covered domain should not force regeneration")
	}

	// A nested name is outside the wildcard and does force one.
	if err := m.EnsureLeaf([]string{"deep.api.localhost"}); err != nil {
		t.Fatal(err)
	}
	third, err := readCert(m.paths.LeafCert)
	if err != nil {
		t.Fatal(err)
	}
	if second.SerialNumber.Cmp(third.SerialNumber) == 0 {
		t.Error("uncovered domain should force regeneration")
	}
}

func TestRegenerateKeepsCA(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureLeaf(nil); err != nil {
		t.Fatal(err)
	}
	caBefore, err := readCert(m.paths.CACert)
	if err != nil {
		t.Fatal(err)
	}
	leafBefore, err := readCert(m.paths.LeafCert)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Regenerate([]string{"shop.localhost"}); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	caAfter, err := readCert(m.paths.CACert)
	if err != nil {
		t.Fatal(err)
	}
	leafAfter, err := readCert(m.paths.LeafCert)
	if err != nil {
		t.Fatal(err)
	}
	if caBefore.SerialNumber.Cmp(caAfter.SerialNumber) != 0 {
		t.Error("Regenerate must not touch a valid CA")
	}
	if leafBefore.SerialNumber.Cmp(leafAfter.SerialNumber) == 0 {
		t.Error("Regenerate must mint a new leaf")
	}
}

func TestCleanRemovesLeafOnly(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureLeaf(nil); err != nil {
		t.Fatal(err)
	}

	removed, err := m.Clean()
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("Clean removed %v", removed)
	}
	if _, err := os.Stat(m.paths.LeafCert); !os.IsNotExist(err) {
		t.Error("leaf certificate should be gone")
	}
	if _, err := os.Stat(m.paths.CACert); err != nil {
		t.Error("CA must survive Clean")
	}

	// Second Clean is a no-op.
	removed, err = m.Clean()
	if err != nil || len(removed) != 0 {
		t.Errorf("second Clean = %v, %v", removed, err)
	}
}

func TestServerTLSConfig(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureLeaf(nil); err != nil {
		t.Fatal(err)
	}

	cfg, err := m.ServerTLSConfig()
	if err != nil {
		t.Fatalf("ServerTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected one certificate, got %d", len(cfg.Certificates))
	}
	// Chain must include leaf and CA.
	if got := len(cfg.Certificates[0].Certificate); got != 2 {
		t.Errorf("chain length = %d; want leaf+CA", got)
	}
}

func TestServerTLSConfigUnavailable(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.ServerTLSConfig(); err == nil {
		t.Fatal("expected error with no material on disk")
	}
}
