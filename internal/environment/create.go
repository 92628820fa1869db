package environment

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/parcelhq/parcel/internal/lock"
	"github.com/parcelhq/parcel/internal/log"
	"github.com/parcelhq/parcel/internal/version"
)

// DefaultEnvDirectory is where derived environment installs are cached
// when the caller gives no explicit path. Installs are keyed by a content
// hash of their spec so identical requests reuse one environment.
func DefaultEnvDirectory() string {
	return filepath.Join(".", "parcel-env")
}

// Provisioning commands run through this seam so creation can be exercised
// without external tools.
var runCommand = func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if env != nil {
		cmd.Env = env
	}
	return cmd.Output()
}

var versionProbe = version.FromExecutable

// VenvOptions configures CreateVirtualEnv.
type VenvOptions struct {
	Requirements []string
	// BaseExecutable is the runner used to provision the install.
	// Defaults to the current executable.
	BaseExecutable string
	// Path overrides the derived install location.
	Path string
	// EnvDir overrides the cache directory for derived locations.
	EnvDir string
}

// CreateVirtualEnv provisions a venv-style install by invoking the base
// runner's own provisioning module as a subprocess and installing the
// requirement list into it. When no explicit path is given, the install
// location is derived from a hash of the requirements and base executable,
// so repeated identical requests converge on one environment.
func CreateVirtualEnv(ctx context.Context, opts VenvOptions) (*VirtualEnv, error) {
	baseExecutable := opts.BaseExecutable
	if baseExecutable == "" {
		current, err := currentExecutable()
		if err != nil {
			return nil, fmt.Errorf("resolve current executable: %w", err)
		}
		baseExecutable = current
	}
	if _, err := lookPath(baseExecutable); err != nil {
		return nil, &ToolError{Tool: baseExecutable, Reason: "executable is not available", Err: err}
	}

	envPath := opts.Path
	if envPath == "" {
		envDir := opts.EnvDir
		if envDir == "" {
			envDir = DefaultEnvDirectory()
		}
		envPath = filepath.Join(envDir, hashKey(append([]string{baseExecutable}, opts.Requirements...)...))
	}

	// Concurrent creation of the same derived path must not interleave.
	l, err := lock.Acquire(envPath + ".lock")
	if err != nil {
		return nil, err
	}
	defer l.Release()

	logger := log.WithComponent("environment")
	logger.Info("creating virtual environment", "path", envPath)

	if output, err := runCommand(ctx, nil, baseExecutable, "env", "init", envPath); err != nil {
		return nil, &ToolError{Tool: baseExecutable, Reason: "environment init failed", Output: output, Err: err}
	}

	envExecutable := filepath.Join(envPath, "bin", RunnerName)
	if len(opts.Requirements) > 0 {
		args := append([]string{"install"}, opts.Requirements...)
		if output, err := runCommand(ctx, nil, envExecutable, args...); err != nil {
			return nil, &ToolError{Tool: envExecutable, Reason: "requirement install failed", Output: output, Err: err}
		}
	}

	ver, err := versionProbe(baseExecutable)
	if err != nil {
		return nil, err
	}

	if err := WriteManifest(envPath, Manifest{Version: ver, Requirements: opts.Requirements}); err != nil {
		return nil, err
	}

	return &VirtualEnv{
		Version:      ver,
		Requirements: opts.Requirements,
		Path:         envPath,
	}, nil
}

// CondaOptions configures CreateCondaEnv.
type CondaOptions struct {
	Requirements      []string
	CondaRequirements []string
	// Version pins the runner version spec; defaults to the current minor.
	Version string
	// Name creates a named environment. Mutually exclusive with BasePath.
	Name string
	// BasePath overrides the cache directory for derived prefix installs.
	BasePath        string
	CondaExecutable string
}

// CreateCondaEnv provisions a conda environment and installs the runner
// and requirement list into it. Without a name, the prefix is derived by
// hashing the full spec. Tool failures and malformed structured output are
// loud errors; creation never returns a half-built environment silently.
func CreateCondaEnv(ctx context.Context, opts CondaOptions) (*CondaEnv, error) {
	condaExecutable := opts.CondaExecutable
	if condaExecutable == "" {
		condaExecutable = DefaultCondaExecutable
	}
	if _, err := lookPath(condaExecutable); err != nil {
		return nil, &ToolError{Tool: condaExecutable, Reason: "executable is not available; is conda installed?", Err: err}
	}

	ver := opts.Version
	if ver == "" {
		ver = version.Minor()
	}

	createArgs := []string{"create", "--json", "--yes"}

	var envPath string
	if opts.Name == "" {
		basePath := opts.BasePath
		if basePath == "" {
			basePath = DefaultEnvDirectory()
		}
		key := hashKey(append(append([]string{ver, condaExecutable}, opts.Requirements...), opts.CondaRequirements...)...)
		envPath = filepath.Join(basePath, key)
		createArgs = append(createArgs, "--prefix", envPath)
	} else {
		if opts.BasePath != "" {
			return nil, &StateError{Reason: "cannot specify both name and base path for a conda environment"}
		}
		createArgs = append(createArgs, "--name", opts.Name)
	}
	createArgs = append(createArgs, opts.CondaRequirements...)

	var creationLock *lock.Lock
	if envPath != "" {
		var err error
		creationLock, err = lock.Acquire(envPath + ".lock")
		if err != nil {
			return nil, err
		}
		defer creationLock.Release()
	}

	logger := log.WithComponent("environment")
	logger.Info("creating conda environment", "name", opts.Name, "path", envPath)

	output, err := runCommand(ctx, nil, condaExecutable, createArgs...)
	if err != nil {
		return nil, &ToolError{Tool: condaExecutable, Reason: "environment creation failed", Output: output, Err: err}
	}

	var result struct {
		Success bool   `json:"success"`
		Prefix  string `json:"prefix"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, &ToolError{Tool: condaExecutable, Reason: "creation output is not valid JSON", Output: output, Err: err}
	}
	if !result.Success {
		return nil, &ToolError{Tool: condaExecutable, Reason: "creation reported failure", Output: output}
	}
	if envPath == "" {
		envPath = result.Prefix
	} else if resolvePath(result.Prefix) != resolvePath(envPath) {
		return nil, &ToolError{
			Tool:   condaExecutable,
			Reason: fmt.Sprintf("created prefix %q does not match requested %q", result.Prefix, envPath),
			Output: output,
		}
	}

	// Install the runner into the environment's bin so `conda run` can
	// find it, then hand requirement installation to that runner.
	current, err := currentExecutable()
	if err != nil {
		return nil, fmt.Errorf("resolve current executable: %w", err)
	}
	if err := installRunner(current, envPath); err != nil {
		return nil, err
	}

	env := CondaEnv{
		Version:           ver,
		Requirements:      opts.Requirements,
		Name:              opts.Name,
		CondaRequirements: opts.CondaRequirements,
		CondaExecutable:   condaExecutable,
	}
	if opts.Name == "" {
		env.Path = envPath
	}

	if len(opts.Requirements) > 0 {
		command, cerr := env.RunnerCommand()
		if cerr != nil {
			return nil, cerr
		}
		args := append(command[1:], append([]string{"install"}, opts.Requirements...)...)
		if output, err := runCommand(ctx, nil, command[0], args...); err != nil {
			return nil, &ToolError{Tool: command[0], Reason: "requirement install failed", Output: output, Err: err}
		}
	}

	return &env, nil
}

// installRunner copies the runner executable into an environment's bin.
func installRunner(fromExecutable, envPath string) error {
	binDir := filepath.Join(envPath, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", binDir, err)
	}

	src, err := os.Open(fromExecutable)
	if err != nil {
		return fmt.Errorf("open runner executable: %w", err)
	}
	defer src.Close()

	target := filepath.Join(binDir, RunnerName)
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy runner into environment: %w", err)
	}
	return nil
}

// hashKey derives a stable install key from a spec. Parts are
// NUL-delimited so adjacent fields cannot collide.
func hashKey(parts ...string) string {
	h := blake3.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
