package environment

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// manifestFilename is written into the root of a venv-style install,
// recording what the environment was provisioned with.
const manifestFilename = "parcel-env.yaml"

// Manifest records a provisioned environment's runner version and
// requirement set.
type Manifest struct {
	Version      string   `yaml:"version"`
	Requirements []string `yaml:"requirements"`
}

func readManifest(envPath string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(envPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read environment manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse environment manifest: %w", err)
	}
	return &m, nil
}

// WriteManifest persists the manifest into the environment root.
func WriteManifest(envPath string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal environment manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(envPath, manifestFilename), data, 0o644); err != nil {
		return fmt.Errorf("write environment manifest: %w", err)
	}
	return nil
}
