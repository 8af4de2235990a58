package truststore

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Trust store layouts by distribution family. The first directory that
// exists decides which update command runs.
var anchors = []struct {
	dir    string
	ext    string
	update []string
}{
	{"/usr/local/share/ca-certificates", ".crt", []string{"update-ca-certificates"}},
	{"/etc/pki/ca-trust/source/anchors", ".pem", []string{"update-ca-trust", "extract"}},
	{"/etc/ca-certificates/trust-source/anchors", ".pem", []string{"trust", "extract-compat"}},
}

const anchorName = "portless-development-ca"

// Install copies the CA certificate into the distribution's anchor directory
// and refreshes the trust store. Requires root.
func Install(certPath string) error {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("truststore: read CA: %w", err)
	}

	for _, a := range anchors {
		if _, err := os.Stat(a.dir); err != nil {
			continue
		}
		dest := filepath.Join(a.dir, anchorName+a.ext)
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("truststore: write %s: %w", dest, err)
		}
		return runUpdate(a.update)
	}
	return ErrUnsupported
}

// Remove deletes the installed anchor and refreshes the trust store. The
// commonName argument is unused on Linux; anchors are tracked by file name.
func Remove(commonName string) error {
	for _, a := range anchors {
		dest := filepath.Join(a.dir, anchorName+a.ext)
		if _, err := os.Stat(dest); err != nil {
			continue
		}
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("truststore: remove %s: %w", dest, err)
		}
		return runUpdate(a.update)
	}
	return nil
}

func runUpdate(args []string) error {
	cmd := exec.Command(args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("truststore: %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
