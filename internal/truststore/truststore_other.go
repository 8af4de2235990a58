//go:build !darwin && !linux

package truststore

// Install reports that no trust store integration exists on this platform.
func Install(certPath string) error { return ErrUnsupported }

// Remove reports that no trust store integration exists on this platform.
func Remove(commonName string) error { return ErrUnsupported }
