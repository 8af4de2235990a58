package config

import (
	"os"
	"path/filepath"
)

// Paths contains the fixed per-user filesystem layout used by the daemon.
type Paths struct {
	Home     string // Root directory (~/.portless)
	Socket   string // Control channel unix socket
	PIDFile  string // Daemon pid file for singleton enforcement
	StateDB  string // SQLite store (settings + registry snapshot)
	Logs     string // Daemon and per-service log directory
	CertsDir string // Leaf certificate directory
	CAKey    string // CA private key
	CACert   string // CA certificate
	LeafKey  string // Wildcard leaf private key
	LeafCert string // Wildcard leaf certificate
}

// GetPaths returns the filesystem layout rooted at the portless home
// directory. An empty root defaults to ~/.portless.
func GetPaths(root string) Paths {
	if root == "" {
		root = DefaultHome()
	}

	certsDir := filepath.Join(root, "certs")

	return Paths{
		Home:     root,
		Socket:   filepath.Join(root, "portlessd.sock"),
		PIDFile:  filepath.Join(root, "portlessd.pid"),
		StateDB:  filepath.Join(root, "state.db"),
		Logs:     filepath.Join(root, "logs"),
		CertsDir: certsDir,
		CAKey:    filepath.Join(root, "ca.key"),
		CACert:   filepath.Join(root, "ca.crt"),
		LeafKey:  filepath.Join(certsDir, "localhost.key"),
		LeafCert: filepath.Join(certsDir, "localhost.crt"),
	}
}

// DefaultHome returns ~/.portless.
func DefaultHome() string {
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".portless")
}

// EnsurePaths creates the directory structure for the given root if it does
// not exist and returns the resulting layout.
func EnsurePaths(root string) (Paths, error) {
	paths := GetPaths(root)

	dirs := []string{
		paths.Home,
		paths.Logs,
		paths.CertsDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
