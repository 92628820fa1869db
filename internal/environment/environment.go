// Package environment describes runtime environments the parcel runner can
// execute in: the host install, a self-contained directory install (venv),
// or a conda-managed prefix.
//
// A descriptor is a plain value. All inspection of the current process and
// all external-tool invocation happens behind the predicate methods and the
// small hook boundary below, so tests can substitute fixtures.
package environment

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	// RunnerName is the executable name environments are expected to
	// provide in their bin directory.
	RunnerName = "parcel"

	// MarkerVar is set in a process running inside a venv-style install,
	// replicating the effect of an activation script.
	MarkerVar = "PARCEL_ENV"

	// HomeVar overrides the runner's home lookup and must not leak from the
	// parent into an activated environment.
	HomeVar = "PARCEL_HOME"
)

// Env describes a runtime environment and how to detect and invoke it.
type Env interface {
	// IsActive reports whether the currently running process is executing
	// inside exactly this environment.
	IsActive() (bool, error)

	// IsAvailable reports whether the environment exists on this machine
	// and can be invoked without creating it.
	IsAvailable() (bool, error)

	// ManagerAvailable reports whether the tooling needed to create this
	// kind of environment is present.
	ManagerAvailable() bool

	// RunnerCommand returns the argv prefix that invokes this
	// environment's runner as a subprocess.
	RunnerCommand() ([]string, error)

	// RunnerVariables returns the process environment needed for a correct
	// invocation of RunnerCommand.
	RunnerVariables() (map[string]string, error)

	// Describe returns a short human-readable identity for logs and
	// error messages.
	Describe() string
}

// Test seams. Everything that inspects the live process or shells out goes
// through these so predicates can be exercised against fixtures.
var (
	commandOutput = func(name string, args ...string) ([]byte, error) {
		return exec.Command(name, args...).Output()
	}
	lookPath          = exec.LookPath
	getenv            = os.Getenv
	currentExecutable = func() (string, error) {
		exe, err := os.Executable()
		if err != nil {
			return "", err
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			return resolved, nil
		}
		return exe, nil
	}
)

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func expandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func resolvePath(path string) string {
	abs, err := filepath.Abs(expandUser(path))
	if err != nil {
		return filepath.Clean(expandUser(path))
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
