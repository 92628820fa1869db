// Package doctor validates parcel configuration and machine setup.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parcelhq/parcel/internal/config"
	"github.com/parcelhq/parcel/internal/environment"
	"github.com/parcelhq/parcel/internal/serializer"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the machine it runs on.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateEnvironmentDir(r)
	d.validateStorePath(r)
	d.validateRegisterPaths(r)
	d.checkDetection(r)
	d.warnMissingConda(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.Service.Name == "" {
		d.addWarning(r, "service", "service.name", "service name is empty")
	}
}

// validateEnvironmentDir checks that the environment cache directory either
// exists or can be created.
func (d *Doctor) validateEnvironmentDir(r *Result) {
	dir := d.cfg.Environments.Dir
	if dir == "" {
		d.addError(r, "environments", "environments.dir", "environments.dir is required")
		return
	}
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			d.addError(r, "environments", "environments.dir",
				fmt.Sprintf("%s exists but is not a directory", dir))
		}
		return
	}
	if parent := filepath.Dir(dir); parent != "" {
		if _, err := os.Stat(parent); err != nil {
			d.addWarning(r, "environments", "environments.dir",
				fmt.Sprintf("neither %s nor its parent exists; it will be created on first use", dir))
		}
	}
}

func (d *Doctor) validateStorePath(r *Result) {
	if d.cfg.Store.Path == "" {
		d.addError(r, "store", "store.path", "store.path is required")
	}
}

// validateRegisterPaths checks that every pre-registration document file is
// readable. A worker with a partial registry fails in confusing ways, so
// missing files are errors, not warnings.
func (d *Doctor) validateRegisterPaths(r *Result) {
	for i, path := range d.cfg.Worker.RegisterPaths {
		if _, err := os.Stat(path); err != nil {
			d.addError(r, "worker", fmt.Sprintf("worker.register_paths[%d]", i),
				fmt.Sprintf("document file %s is not readable: %v", path, err))
		}
	}
}

// checkDetection runs environment detection and reports what this process
// would be packaged as.
func (d *Doctor) checkDetection(r *Result) {
	env, err := environment.Detect()
	if err != nil {
		d.addError(r, "environments", "", fmt.Sprintf("environment detection failed: %v", err))
		return
	}
	if _, ok := env.(environment.Bare); ok {
		d.addWarning(r, "environments", "",
			"running as a bare install; packaged documents will not carry an isolated environment")
	}
}

func (d *Doctor) warnMissingConda(r *Result) {
	probe := environment.CondaEnv{CondaExecutable: d.cfg.Environments.CondaExecutable}
	if !probe.ManagerAvailable() {
		d.addWarning(r, "environments", "environments.conda_executable",
			fmt.Sprintf("%s not found on PATH; conda environments cannot be created or entered",
				d.cfg.Environments.CondaExecutable))
	}
}

// Strategies returns the strategy tags this build supports, for reporting.
func Strategies() []string {
	return serializer.Tags()
}

// FormatHuman renders a result for terminal output.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}
	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}
	return b.String()
}

// FormatJSON renders a result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
