package environment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parcelhq/parcel/internal/log"
	"github.com/parcelhq/parcel/internal/version"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// swapSeams replaces every process-inspection hook with inert fixtures and
// restores the originals when the test ends.
func swapSeams(t *testing.T) {
	t.Helper()
	origCommandOutput := commandOutput
	origLookPath := lookPath
	origGetenv := getenv
	origCurrentExecutable := currentExecutable
	origRunCommand := runCommand
	origVersionProbe := versionProbe
	t.Cleanup(func() {
		commandOutput = origCommandOutput
		lookPath = origLookPath
		getenv = origGetenv
		currentExecutable = origCurrentExecutable
		runCommand = origRunCommand
		versionProbe = origVersionProbe
	})
	commandOutput = func(name string, args ...string) ([]byte, error) {
		return nil, fmt.Errorf("unexpected command %s", name)
	}
	lookPath = func(name string) (string, error) {
		return "", fmt.Errorf("%s not found", name)
	}
	getenv = func(string) string { return "" }
	currentExecutable = func() (string, error) { return "/usr/local/bin/parcel", nil }
	runCommand = func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		return nil, fmt.Errorf("unexpected command %s", name)
	}
	versionProbe = func(string) (string, error) { return version.Minor(), nil }
}

func TestBareActiveMatchesOwnVersion(t *testing.T) {
	swapSeams(t)

	active, err := Bare{Version: version.Minor()}.IsActive()
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if !active {
		t.Fatal("bare env of the current version should be active")
	}

	active, err = Bare{Version: "99.9"}.IsActive()
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if active {
		t.Fatal("bare env of a foreign version should not be active")
	}
}

func TestBareAvailableViaSearchPath(t *testing.T) {
	swapSeams(t)
	lookPath = func(name string) (string, error) {
		if name == "parcel2.7" {
			return "/opt/bin/parcel2.7", nil
		}
		return "", errors.New("not found")
	}

	available, err := Bare{Version: "2.7"}.IsAvailable()
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if !available {
		t.Fatal("versioned binary on the search path should be available")
	}

	available, err = Bare{Version: "3.1"}.IsAvailable()
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if available {
		t.Fatal("absent versioned binary should not be available")
	}
}

func TestBareNeverProvisions(t *testing.T) {
	if (Bare{Version: "1.0"}).ManagerAvailable() {
		t.Fatal("bare environments cannot be created")
	}
}

func TestVirtualEnvAvailability(t *testing.T) {
	swapSeams(t)

	dir := t.TempDir()
	env := VirtualEnv{Version: version.Minor(), Path: dir}

	available, err := env.IsAvailable()
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if available {
		t.Fatal("empty directory should not count as an install")
	}

	binDir := filepath.Join(dir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(binDir, RunnerName), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	available, err = env.IsAvailable()
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if !available {
		t.Fatal("install with a runner binary should be available")
	}
}

func TestVirtualEnvActiveOnlyForOwnExecutable(t *testing.T) {
	swapSeams(t)

	dir := t.TempDir()
	env := VirtualEnv{Version: version.Minor(), Path: dir}

	currentExecutable = func() (string, error) {
		return filepath.Join(resolvePath(dir), "bin", RunnerName), nil
	}
	active, err := env.IsActive()
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if !active {
		t.Fatal("process running from the install's bin should be active")
	}

	currentExecutable = func() (string, error) { return "/usr/local/bin/parcel", nil }
	active, err = env.IsActive()
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if active {
		t.Fatal("process running elsewhere should not be active")
	}
}

func TestVirtualEnvVariablesReplicateActivation(t *testing.T) {
	swapSeams(t)
	t.Setenv(HomeVar, "/should/be/cleared")

	dir := t.TempDir()
	vars, err := VirtualEnv{Version: version.Minor(), Path: dir}.RunnerVariables()
	if err != nil {
		t.Fatalf("RunnerVariables: %v", err)
	}

	resolved := resolvePath(dir)
	wantPrefix := filepath.Join(resolved, "bin") + string(os.PathListSeparator)
	if !strings.HasPrefix(vars["PATH"], wantPrefix) {
		t.Fatalf("PATH = %q, want prefix %q", vars["PATH"], wantPrefix)
	}
	if _, ok := vars[HomeVar]; ok {
		t.Fatalf("%s should be cleared for the environment's runner", HomeVar)
	}
	if vars[MarkerVar] != resolved {
		t.Fatalf("%s = %q, want %q", MarkerVar, vars[MarkerVar], resolved)
	}
}

func TestCondaEnvIdentityInvariant(t *testing.T) {
	swapSeams(t)

	var stateErr *StateError
	for _, env := range []CondaEnv{
		{Version: "1.0"},
		{Version: "1.0", Name: "test", Path: "/tmp/test"},
	} {
		if _, err := env.IsActive(); !errors.As(err, &stateErr) {
			t.Fatalf("IsActive(%+v) err = %v, want StateError", env, err)
		}
		if _, err := env.IsAvailable(); !errors.As(err, &stateErr) {
			t.Fatalf("IsAvailable(%+v) err = %v, want StateError", env, err)
		}
		if _, err := env.RunnerCommand(); !errors.As(err, &stateErr) {
			t.Fatalf("RunnerCommand(%+v) err = %v, want StateError", env, err)
		}
	}
}

func TestCondaEnvAvailabilityFromListing(t *testing.T) {
	swapSeams(t)
	commandOutput = func(name string, args ...string) ([]byte, error) {
		return []byte(`{"envs": ["/opt/conda/envs/analytics", "/opt/conda/envs/etl"]}`), nil
	}

	available, err := CondaEnv{Version: "1.0", Name: "analytics"}.IsAvailable()
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if !available {
		t.Fatal("listed environment should be available")
	}

	available, err = CondaEnv{Version: "1.0", Name: "missing"}.IsAvailable()
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if available {
		t.Fatal("unlisted environment should not be available")
	}
}

func TestCondaEnvListingWithoutEnvsKeyIsError(t *testing.T) {
	swapSeams(t)
	commandOutput = func(name string, args ...string) ([]byte, error) {
		return []byte(`{"message": "something else entirely"}`), nil
	}

	var toolErr *ToolError
	if _, err := (CondaEnv{Version: "1.0", Name: "x"}).IsAvailable(); !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want ToolError", err)
	}
}

func TestCondaEnvRunnerCommand(t *testing.T) {
	swapSeams(t)

	command, err := CondaEnv{Version: "1.0", Name: "analytics"}.RunnerCommand()
	if err != nil {
		t.Fatalf("RunnerCommand: %v", err)
	}
	want := []string{"conda", "run", "--name", "analytics", RunnerName}
	if strings.Join(command, " ") != strings.Join(want, " ") {
		t.Fatalf("command = %v, want %v", command, want)
	}

	command, err = CondaEnv{Version: "1.0", Path: "/opt/envs/x", CondaExecutable: "micromamba"}.RunnerCommand()
	if err != nil {
		t.Fatalf("RunnerCommand: %v", err)
	}
	if command[0] != "micromamba" || command[2] != "--prefix" {
		t.Fatalf("command = %v, want micromamba run --prefix ...", command)
	}
}

func TestDetectPrefersCondaOverVenvOverBare(t *testing.T) {
	swapSeams(t)

	prefix := t.TempDir()
	exe := filepath.Join(prefix, "bin", RunnerName)

	// Conda reports an active environment, the venv marker is also set,
	// and the process executable sits under the conda prefix.
	commandOutput = func(name string, args ...string) ([]byte, error) {
		return []byte(fmt.Sprintf(
			`{"name": "analytics", "prefix": %q, "dependencies": ["runner=1.0", {"pip": ["left-pad"]}]}`,
			prefix)), nil
	}
	getenv = func(key string) string {
		if key == MarkerVar {
			return prefix
		}
		return ""
	}
	currentExecutable = func() (string, error) { return exe, nil }

	env, err := Detect()
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	conda, ok := env.(CondaEnv)
	if !ok {
		t.Fatalf("detected %T, want CondaEnv", env)
	}
	if conda.Name != "analytics" {
		t.Fatalf("Name = %q, want analytics", conda.Name)
	}
	if len(conda.CondaRequirements) != 1 || conda.CondaRequirements[0] != "runner=1.0" {
		t.Fatalf("CondaRequirements = %v", conda.CondaRequirements)
	}
	if len(conda.Requirements) != 1 || conda.Requirements[0] != "left-pad" {
		t.Fatalf("Requirements = %v", conda.Requirements)
	}

	// With conda gone the marker decides.
	commandOutput = func(name string, args ...string) ([]byte, error) {
		return nil, errors.New("conda: command not found")
	}
	currentExecutable = func() (string, error) {
		return filepath.Join(resolvePath(prefix), "bin", RunnerName), nil
	}
	env, err = Detect()
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := env.(VirtualEnv); !ok {
		t.Fatalf("detected %T, want VirtualEnv", env)
	}

	// With neither, the fallback is always bare.
	getenv = func(string) string { return "" }
	env, err = Detect()
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	bare, ok := env.(Bare)
	if !ok {
		t.Fatalf("detected %T, want Bare", env)
	}
	if bare.Version != version.Minor() {
		t.Fatalf("Version = %q, want %q", bare.Version, version.Minor())
	}
}

func TestDetectCondaToleratesExportError(t *testing.T) {
	swapSeams(t)
	commandOutput = func(name string, args ...string) ([]byte, error) {
		return []byte(`{"error": "EnvironmentLocationNotFound"}`), nil
	}

	env, err := DetectConda(DefaultCondaExecutable)
	if err != nil {
		t.Fatalf("DetectConda: %v", err)
	}
	if env != nil {
		t.Fatalf("env = %+v, want nil", env)
	}
}

func TestDetectCondaRejectsMalformedExport(t *testing.T) {
	swapSeams(t)

	var toolErr *ToolError
	commandOutput = func(name string, args ...string) ([]byte, error) {
		return []byte(`not json at all`), nil
	}
	if _, err := DetectConda(DefaultCondaExecutable); !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want ToolError for invalid JSON", err)
	}

	commandOutput = func(name string, args ...string) ([]byte, error) {
		return []byte(`{"name": "x"}`), nil
	}
	if _, err := DetectConda(DefaultCondaExecutable); !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want ToolError for missing prefix", err)
	}
}

func TestDetectVirtualEnvReadsManifest(t *testing.T) {
	swapSeams(t)

	dir := t.TempDir()
	if err := WriteManifest(dir, Manifest{Version: "1.4", Requirements: []string{"widgets>=2"}}); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	getenv = func(key string) string {
		if key == MarkerVar {
			return dir
		}
		return ""
	}
	currentExecutable = func() (string, error) {
		return filepath.Join(resolvePath(dir), "bin", RunnerName), nil
	}

	env := DetectVirtualEnv()
	if env == nil {
		t.Fatal("expected a venv detection")
	}
	if len(env.Requirements) != 1 || env.Requirements[0] != "widgets>=2" {
		t.Fatalf("Requirements = %v", env.Requirements)
	}
}

func TestParseCondaDependencies(t *testing.T) {
	conda, pip := ParseCondaDependencies([]any{
		"runner=1.2.3",
		"sqlite=3.45",
		map[string]any{"pip": []any{"widgets==2.0", "gadgets"}},
	})
	if len(conda) != 2 || conda[0] != "runner=1.2.3" || conda[1] != "sqlite=3.45" {
		t.Fatalf("conda = %v", conda)
	}
	if len(pip) != 2 || pip[0] != "widgets==2.0" || pip[1] != "gadgets" {
		t.Fatalf("pip = %v", pip)
	}
}

func TestCreateVirtualEnvDerivedPathIsStable(t *testing.T) {
	swapSeams(t)

	envDir := t.TempDir()
	lookPath = func(name string) (string, error) { return name, nil }

	var created []string
	runCommand = func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		if len(args) >= 2 && args[0] == "env" && args[1] == "init" {
			created = append(created, args[2])
			if err := os.MkdirAll(filepath.Join(args[2], "bin"), 0o755); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	opts := VenvOptions{
		Requirements:   []string{"widgets==2.0"},
		BaseExecutable: "/usr/local/bin/parcel",
		EnvDir:         envDir,
	}
	first, err := CreateVirtualEnv(context.Background(), opts)
	if err != nil {
		t.Fatalf("CreateVirtualEnv: %v", err)
	}
	second, err := CreateVirtualEnv(context.Background(), opts)
	if err != nil {
		t.Fatalf("CreateVirtualEnv: %v", err)
	}
	if first.Path != second.Path {
		t.Fatalf("identical specs diverged: %q vs %q", first.Path, second.Path)
	}
	if len(created) != 2 || created[0] != first.Path {
		t.Fatalf("created = %v", created)
	}

	manifest, err := readManifest(first.Path)
	if err != nil {
		t.Fatalf("readManifest: %v", err)
	}
	if len(manifest.Requirements) != 1 || manifest.Requirements[0] != "widgets==2.0" {
		t.Fatalf("manifest requirements = %v", manifest.Requirements)
	}

	other, err := CreateVirtualEnv(context.Background(), VenvOptions{
		Requirements:   []string{"gadgets==1.0"},
		BaseExecutable: "/usr/local/bin/parcel",
		EnvDir:         envDir,
	})
	if err != nil {
		t.Fatalf("CreateVirtualEnv: %v", err)
	}
	if other.Path == first.Path {
		t.Fatal("different specs should derive different paths")
	}
}

func TestCreateVirtualEnvSurfacesInitFailure(t *testing.T) {
	swapSeams(t)
	lookPath = func(name string) (string, error) { return name, nil }
	runCommand = func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		return []byte("disk full"), errors.New("exit status 1")
	}

	var toolErr *ToolError
	_, err := CreateVirtualEnv(context.Background(), VenvOptions{
		BaseExecutable: "/usr/local/bin/parcel",
		EnvDir:         t.TempDir(),
	})
	if !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want ToolError", err)
	}
	if !strings.Contains(toolErr.Error(), "disk full") {
		t.Fatalf("tool output missing from error: %v", toolErr)
	}
}

func TestCreateCondaEnvRejectsNameWithBasePath(t *testing.T) {
	swapSeams(t)
	lookPath = func(name string) (string, error) { return name, nil }

	var stateErr *StateError
	_, err := CreateCondaEnv(context.Background(), CondaOptions{
		Name:     "analytics",
		BasePath: "/tmp/envs",
	})
	if !errors.As(err, &stateErr) {
		t.Fatalf("err = %v, want StateError", err)
	}
}

func TestCreateCondaEnvDerivedPrefix(t *testing.T) {
	swapSeams(t)

	basePath := t.TempDir()
	runnerSource := filepath.Join(t.TempDir(), "parcel")
	if err := os.WriteFile(runnerSource, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	lookPath = func(name string) (string, error) { return name, nil }
	currentExecutable = func() (string, error) { return runnerSource, nil }

	var commands [][]string
	runCommand = func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		commands = append(commands, append([]string{name}, args...))
		if len(args) > 0 && args[0] == "create" {
			var prefix string
			for i, arg := range args {
				if arg == "--prefix" {
					prefix = args[i+1]
				}
			}
			return []byte(fmt.Sprintf(`{"success": true, "prefix": %q}`, prefix)), nil
		}
		return nil, nil
	}

	env, err := CreateCondaEnv(context.Background(), CondaOptions{
		Requirements:      []string{"widgets==2.0"},
		CondaRequirements: []string{"sqlite=3.45"},
		BasePath:          basePath,
	})
	if err != nil {
		t.Fatalf("CreateCondaEnv: %v", err)
	}
	if env.Name != "" {
		t.Fatalf("Name = %q, want empty for a prefix install", env.Name)
	}
	if filepath.Dir(env.Path) != basePath {
		t.Fatalf("Path = %q, want a child of %q", env.Path, basePath)
	}

	// The runner must have been copied into the environment's bin.
	installed := filepath.Join(env.Path, "bin", RunnerName)
	if _, err := os.Stat(installed); err != nil {
		t.Fatalf("runner not installed into environment: %v", err)
	}

	// Requirement installation goes through `conda run`.
	last := commands[len(commands)-1]
	if last[0] != "conda" || last[1] != "run" {
		t.Fatalf("last command = %v, want conda run ...", last)
	}
	joined := strings.Join(last, " ")
	if !strings.Contains(joined, "install widgets==2.0") {
		t.Fatalf("install command missing requirement: %v", last)
	}
}

func TestCreateCondaEnvRejectsDivergentPrefix(t *testing.T) {
	swapSeams(t)
	lookPath = func(name string) (string, error) { return name, nil }
	runCommand = func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		return []byte(`{"success": true, "prefix": "/somewhere/else"}`), nil
	}

	var toolErr *ToolError
	_, err := CreateCondaEnv(context.Background(), CondaOptions{
		Requirements: []string{"widgets==2.0"},
		BasePath:     t.TempDir(),
	})
	if !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want ToolError", err)
	}
	if !strings.Contains(toolErr.Error(), "/somewhere/else") {
		t.Fatalf("error does not name the divergent prefix: %v", toolErr)
	}
}

func TestCreateCondaEnvReportedFailureIsLoud(t *testing.T) {
	swapSeams(t)
	lookPath = func(name string) (string, error) { return name, nil }
	runCommand = func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		return []byte(`{"success": false, "message": "solver could not find a solution"}`), nil
	}

	var toolErr *ToolError
	_, err := CreateCondaEnv(context.Background(), CondaOptions{BasePath: t.TempDir()})
	if !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want ToolError", err)
	}
}

func TestInitLayout(t *testing.T) {
	swapSeams(t)

	runnerSource := filepath.Join(t.TempDir(), "parcel")
	if err := os.WriteFile(runnerSource, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	currentExecutable = func() (string, error) { return runnerSource, nil }

	envPath := filepath.Join(t.TempDir(), "env")
	if err := InitLayout(envPath); err != nil {
		t.Fatalf("InitLayout: %v", err)
	}
	if _, err := os.Stat(filepath.Join(envPath, "bin", RunnerName)); err != nil {
		t.Fatalf("runner not installed: %v", err)
	}
	if _, err := readManifest(envPath); err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
}

func TestRecordRequirements(t *testing.T) {
	swapSeams(t)

	envPath := t.TempDir()
	if err := os.MkdirAll(filepath.Join(envPath, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	currentExecutable = func() (string, error) {
		return filepath.Join(envPath, "bin", RunnerName), nil
	}

	if err := RecordRequirements([]string{"widgets==2.0"}); err != nil {
		t.Fatalf("RecordRequirements: %v", err)
	}
	if err := RecordRequirements([]string{"widgets==2.0", "gadgets"}); err != nil {
		t.Fatalf("RecordRequirements: %v", err)
	}

	manifest, err := readManifest(envPath)
	if err != nil {
		t.Fatalf("readManifest: %v", err)
	}
	if len(manifest.Requirements) != 2 {
		t.Fatalf("Requirements = %v, want deduplicated pair", manifest.Requirements)
	}
}

func TestRecordRequirementsOutsideEnvironment(t *testing.T) {
	swapSeams(t)
	currentExecutable = func() (string, error) { return "/usr/local/bin/parcel", nil }

	var stateErr *StateError
	if err := RecordRequirements([]string{"widgets"}); !errors.As(err, &stateErr) {
		t.Fatalf("err = %v, want StateError", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	envs := []Env{
		Bare{Version: "1.2", Requirements: []string{"widgets"}},
		VirtualEnv{Version: "1.2", Requirements: []string{"widgets"}, Path: "/opt/envs/a"},
		CondaEnv{Version: "1.2", Name: "analytics", CondaRequirements: []string{"sqlite=3"}, CondaExecutable: "mamba"},
		&CondaEnv{Version: "1.2", Path: "/opt/envs/b"},
	}
	for _, env := range envs {
		data, err := Marshal(env)
		if err != nil {
			t.Fatalf("Marshal(%+v): %v", env, err)
		}
		restored, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if restored.Describe() != deref(env).Describe() {
			t.Fatalf("round trip changed identity: %q vs %q", restored.Describe(), env.Describe())
		}
	}
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	data, err := json.Marshal(map[string]any{"typename": "docker", "version": "1.0"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data); err == nil {
		t.Fatal("expected an error for an unknown environment type")
	}
	if _, err := Unmarshal([]byte(`{"version": "1.0"}`)); err == nil {
		t.Fatal("expected an error for a missing typename")
	}
}
