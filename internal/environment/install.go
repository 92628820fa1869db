package environment

import (
	"fmt"
	"path/filepath"

	"github.com/parcelhq/parcel/internal/version"
)

// InitLayout provisions the install layout a virtual environment needs at
// envPath: a bin directory holding a copy of the current runner plus an
// empty manifest. Runs inside the `env init` subcommand that environment
// creation spawns.
func InitLayout(envPath string) error {
	current, err := currentExecutable()
	if err != nil {
		return fmt.Errorf("resolve current executable: %w", err)
	}
	if err := installRunner(current, envPath); err != nil {
		return err
	}
	return WriteManifest(envPath, Manifest{Version: version.Minor()})
}

// RecordRequirements appends requirement specifiers to the enclosing
// environment's manifest. The running executable must live inside an
// environment created by InitLayout.
func RecordRequirements(requirements []string) error {
	current, err := currentExecutable()
	if err != nil {
		return fmt.Errorf("resolve current executable: %w", err)
	}
	binDir := filepath.Dir(current)
	if filepath.Base(current) != RunnerName || filepath.Base(binDir) != "bin" {
		return &StateError{Reason: "not running inside an environment install"}
	}
	envPath := filepath.Dir(binDir)

	manifest, err := readManifest(envPath)
	if err != nil {
		manifest = &Manifest{Version: version.Minor()}
	}

	seen := make(map[string]bool, len(manifest.Requirements))
	for _, req := range manifest.Requirements {
		seen[req] = true
	}
	for _, req := range requirements {
		if !seen[req] {
			manifest.Requirements = append(manifest.Requirements, req)
			seen[req] = true
		}
	}
	return WriteManifest(envPath, *manifest)
}
