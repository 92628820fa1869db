package environment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCondaExecutable is used when a descriptor does not pin a specific
// conda-compatible tool (mamba, micromamba).
const DefaultCondaExecutable = "conda"

// CondaEnv describes a conda-managed environment expected to provide the
// runner in its bin directory. Exactly one of Name and Path identifies the
// environment; every predicate that must locate it checks this invariant.
type CondaEnv struct {
	Version           string
	Requirements      []string
	Name              string
	Path              string
	CondaRequirements []string
	CondaExecutable   string
}

func (c CondaEnv) IsActive() (bool, error) {
	current, err := currentExecutable()
	if err != nil {
		return false, fmt.Errorf("resolve current executable: %w", err)
	}
	switch {
	case c.Name != "" && c.Path != "":
		return false, &StateError{Reason: "conda environment has both name and path set; exactly one is required"}
	case c.Name != "":
		suffix := string(os.PathSeparator) + c.Name +
			string(os.PathSeparator) + "bin" + string(os.PathSeparator) + RunnerName
		return strings.HasSuffix(current, suffix), nil
	case c.Path != "":
		return current == filepath.Join(resolvePath(c.Path), "bin", RunnerName), nil
	default:
		return false, &StateError{Reason: "conda environment needs either name or path set"}
	}
}

func (c CondaEnv) IsAvailable() (bool, error) {
	if err := c.checkIdentity(); err != nil {
		return false, err
	}

	output, err := commandOutput(c.executable(), "env", "list", "--json")
	if err != nil {
		return false, &ToolError{
			Tool:   c.executable(),
			Reason: "failed to list environments on machine",
			Output: output,
			Err:    err,
		}
	}

	var listing struct {
		Envs *[]string `json:"envs"`
	}
	if err := json.Unmarshal(output, &listing); err != nil || listing.Envs == nil {
		return false, &ToolError{
			Tool:   c.executable(),
			Reason: "environment listing missing 'envs' key",
			Output: output,
			Err:    err,
		}
	}

	if c.Name != "" {
		for _, envPath := range *listing.Envs {
			if filepath.Base(envPath) == c.Name {
				return true, nil
			}
		}
		return false, nil
	}
	resolved := resolvePath(c.Path)
	for _, envPath := range *listing.Envs {
		if envPath == resolved {
			return true, nil
		}
	}
	return false, nil
}

func (c CondaEnv) ManagerAvailable() bool {
	_, err := lookPath(c.executable())
	return err == nil
}

func (c CondaEnv) RunnerCommand() ([]string, error) {
	if err := c.checkIdentity(); err != nil {
		return nil, err
	}
	command := []string{c.executable(), "run"}
	if c.Path != "" {
		command = append(command, "--prefix", resolvePath(c.Path))
	} else {
		command = append(command, "--name", c.Name)
	}
	return append(command, RunnerName), nil
}

func (c CondaEnv) RunnerVariables() (map[string]string, error) {
	return environMap(), nil
}

func (c CondaEnv) Describe() string {
	if c.Name != "" {
		return fmt.Sprintf("conda env %s", c.Name)
	}
	return fmt.Sprintf("conda env at %s", c.Path)
}

func (c CondaEnv) executable() string {
	if c.CondaExecutable == "" {
		return DefaultCondaExecutable
	}
	return c.CondaExecutable
}

func (c CondaEnv) checkIdentity() error {
	if c.Name != "" && c.Path != "" {
		return &StateError{Reason: "conda environment has both name and path set; exactly one is required"}
	}
	if c.Name == "" && c.Path == "" {
		return &StateError{Reason: "conda environment needs either name or path set"}
	}
	return nil
}
