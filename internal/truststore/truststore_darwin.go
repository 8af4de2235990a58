package truststore

import (
	"fmt"
	"os/exec"
	"strings"
)

const keychainPath = "/Library/Keychains/System.keychain"

// Install adds the CA certificate to the system keychain. Requires sudo;
// macOS prompts for authorization otherwise.
func Install(certPath string) error {
	cmd := exec.Command("security", "add-trusted-cert", "-d",
		"-r", "trustRoot", "-k", keychainPath, certPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("truststore: add-trusted-cert: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Remove deletes the CA from the system keychain by common name.
func Remove(commonName string) error {
	cmd := exec.Command("security", "delete-certificate", "-c", commonName, keychainPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("truststore: delete-certificate: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
