package environment

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/parcelhq/parcel/internal/log"
	"github.com/parcelhq/parcel/internal/version"
)

// Detect inspects the current process and returns a descriptor for the
// environment it runs in.
//
// Detectors run in fixed priority order, first positive match wins:
// conda, then venv, then bare. The order matters because a process inside
// a conda environment also satisfies the bare conditions. Each detector
// swallows expected absence (tool not installed, environment not active)
// and returns nil, but genuinely unexpected output shapes are hard errors.
func Detect() (Env, error) {
	conda, err := DetectConda(DefaultCondaExecutable)
	if err != nil {
		return nil, err
	}
	if conda != nil {
		return *conda, nil
	}
	if venv := DetectVirtualEnv(); venv != nil {
		return *venv, nil
	}
	return DetectBare(), nil
}

// DetectConda queries the conda tool for the active environment and
// returns a descriptor when the current executable runs inside it. A
// missing tool or non-zero exit yields nil; an export without the expected
// structure is an error.
func DetectConda(condaExecutable string) (*CondaEnv, error) {
	output, err := commandOutput(condaExecutable, "env", "export", "--json")
	if err != nil {
		return nil, nil
	}

	var export struct {
		Error        string  `json:"error"`
		Prefix       *string `json:"prefix"`
		Name         string  `json:"name"`
		Dependencies []any   `json:"dependencies"`
	}
	if err := json.Unmarshal(output, &export); err != nil {
		return nil, &ToolError{
			Tool:   condaExecutable,
			Reason: "environment export is not valid JSON",
			Output: output,
			Err:    err,
		}
	}
	if export.Error != "" {
		log.WithComponent("environment").Warn("failed to export the current conda environment",
			"error", export.Error)
		return nil, nil
	}
	if export.Prefix == nil {
		return nil, &ToolError{
			Tool:   condaExecutable,
			Reason: "environment export missing 'prefix' key",
			Output: output,
		}
	}

	current, err := currentExecutable()
	if err != nil {
		return nil, fmt.Errorf("resolve current executable: %w", err)
	}
	if current != filepath.Join(*export.Prefix, "bin", RunnerName) {
		// The tool reported an environment, but this process is not
		// running inside it.
		return nil, nil
	}

	condaRequirements, requirements := ParseCondaDependencies(export.Dependencies)

	env := CondaEnv{
		Version:           version.Minor(),
		CondaRequirements: condaRequirements,
		Requirements:      requirements,
		CondaExecutable:   condaExecutable,
	}
	// Name transports across machines better than a prefix, so it wins
	// when both are known.
	if export.Name != "" {
		env.Name = export.Name
	} else {
		env.Path = *export.Prefix
	}
	return &env, nil
}

// DetectVirtualEnv checks for the activation marker variable and confirms
// the current executable lives under the marked install.
func DetectVirtualEnv() *VirtualEnv {
	marked := getenv(MarkerVar)
	if marked == "" {
		return nil
	}
	current, err := currentExecutable()
	if err != nil {
		return nil
	}
	if current != filepath.Join(resolvePath(marked), "bin", RunnerName) {
		return nil
	}
	env := VirtualEnv{
		Version: version.Minor(),
		Path:    marked,
	}
	if manifest, err := readManifest(resolvePath(marked)); err == nil {
		env.Requirements = manifest.Requirements
	}
	return &env
}

// DetectBare always succeeds: any running process is at least a bare
// runner of its own version.
func DetectBare() Bare {
	return Bare{
		Version:      version.Minor(),
		Requirements: []string{},
	}
}

// ParseCondaDependencies splits a conda environment export's dependency
// list into conda-managed specifiers and nested pip-style specifiers.
func ParseCondaDependencies(dependencies []any) (conda []string, pip []string) {
	for _, dep := range dependencies {
		switch d := dep.(type) {
		case map[string]any:
			if nested, ok := d["pip"].([]any); ok {
				for _, p := range nested {
					pip = append(pip, fmt.Sprint(p))
				}
			}
		default:
			conda = append(conda, strings.TrimSpace(fmt.Sprint(dep)))
		}
	}
	return conda, pip
}
