package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProjectFileName is the per-project configuration file read by the client.
const ProjectFileName = "portless.json"

// DomainSuffix is appended to every registered name.
const DomainSuffix = ".localhost"

// ErrNoProjectFile indicates the directory has no portless.json.
var ErrNoProjectFile = errors.New("config: no portless.json found")

// Project describes a project's registration settings.
type Project struct {
	// Domain is the bare name; "api" is served at api.localhost.
	Domain string `json:"domain"`
	// Start overrides the detected start command.
	Start string `json:"start,omitempty"`
	// PortEnv overrides the environment variable used for port injection.
	PortEnv string `json:"portEnv,omitempty"`
	// PortArg makes the port be passed as a CLI argument instead.
	PortArg string `json:"portArg,omitempty"`
}

// LoadProject reads portless.json from the given directory.
func LoadProject(dir string) (Project, error) {
	path := filepath.Join(dir, ProjectFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Project{}, fmt.Errorf("%w in %s", ErrNoProjectFile, dir)
		}
		return Project{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return Project{}, fmt.Errorf("config: invalid JSON in %s: %w", path, err)
	}

	p.Domain = strings.ToLower(strings.TrimSpace(p.Domain))
	if p.Domain == "" {
		return Project{}, fmt.Errorf("config: %s is missing required field %q", path, "domain")
	}

	return p, nil
}

// SaveProject writes portless.json into the given directory, used when the
// client seeds a config from framework detection.
func SaveProject(dir string, p Project) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode project: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, ProjectFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// FullDomain returns the routable hostname, e.g. "api.localhost".
func (p Project) FullDomain() string {
	return FullDomain(p.Domain)
}

// FullDomain normalizes a name into its .localhost hostname. Names that
// already carry a dot are taken verbatim.
func FullDomain(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if strings.Contains(name, ".") {
		return name
	}
	return name + DomainSuffix
}
