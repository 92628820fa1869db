package environment

import (
	"fmt"
	"os"
	"path/filepath"
)

// VirtualEnv describes a self-contained directory install of the runner,
// the venv analog: `<path>/bin/parcel` plus an environment manifest.
type VirtualEnv struct {
	Version      string
	Requirements []string
	Path         string
}

func (v VirtualEnv) IsActive() (bool, error) {
	current, err := currentExecutable()
	if err != nil {
		return false, fmt.Errorf("resolve current executable: %w", err)
	}
	return current == v.executablePath(), nil
}

func (v VirtualEnv) IsAvailable() (bool, error) {
	_, err := os.Stat(v.executablePath())
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", v.executablePath(), err)
}

// ManagerAvailable is always true: the provisioning module ships with the
// runner itself.
func (v VirtualEnv) ManagerAvailable() bool { return true }

func (v VirtualEnv) RunnerCommand() ([]string, error) {
	return []string{v.executablePath()}, nil
}

// RunnerVariables replicates the relevant behavior of an activation script
// without sourcing one: the environment's bin directory is prepended to the
// search path, any inherited home override is cleared, and the activation
// marker is set.
func (v VirtualEnv) RunnerVariables() (map[string]string, error) {
	env := environMap()

	resolved := v.resolvedPath()
	env["PATH"] = filepath.Join(resolved, "bin") + string(os.PathListSeparator) + env["PATH"]
	delete(env, HomeVar)
	env[MarkerVar] = resolved

	return env, nil
}

func (v VirtualEnv) Describe() string {
	return fmt.Sprintf("venv %s", v.Path)
}

func (v VirtualEnv) resolvedPath() string {
	return resolvePath(v.Path)
}

func (v VirtualEnv) executablePath() string {
	return filepath.Join(v.resolvedPath(), "bin", RunnerName)
}
