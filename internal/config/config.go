// Package config loads the runner's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Duration parses "90s", "2m", etc. from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete parcel configuration.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Environments EnvironmentsConfig `yaml:"environments"`
	Store        StoreConfig        `yaml:"store"`
	Worker       WorkerConfig       `yaml:"worker"`
}

// ServiceConfig defines core settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// EnvironmentsConfig defines where derived environments are created and
// which conda-compatible tool manages conda environments.
type EnvironmentsConfig struct {
	Dir             string `yaml:"dir"`
	CondaExecutable string `yaml:"conda_executable"`
}

// StoreConfig defines document store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WorkerConfig defines worker execution settings.
type WorkerConfig struct {
	// Timeout bounds a worker subprocess. Zero means no bound.
	Timeout Duration `yaml:"timeout"`

	// RegisterPaths lists document files registered before a worker
	// decodes its request.
	RegisterPaths []string `yaml:"register_paths"`
}

// Load reads, interpolates, and validates configuration from a file.
// ${VAR} references anywhere in the file are replaced from the process
// environment before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s", absPath)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the configuration file by checking standard locations.
// Priority order: $PARCEL_CONFIG, ~/.config/parcel/config.yaml,
// /etc/parcel/config.yaml, ./parcel.yaml.
func Discover() (string, error) {
	if path := os.Getenv("PARCEL_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".config", "parcel", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath, nil
		}
	}
	systemPath := "/etc/parcel/config.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath, nil
	}
	legacyPath := "./parcel.yaml"
	if _, err := os.Stat(legacyPath); err == nil {
		return legacyPath, nil
	}
	return "", fmt.Errorf("no config found (checked: $PARCEL_CONFIG, ~/.config/parcel, /etc/parcel, ./parcel.yaml)")
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "parcel",
			LogLevel: "INFO",
		},
		Environments: EnvironmentsConfig{
			Dir:             filepath.Join(".", "parcel-env"),
			CondaExecutable: "conda",
		},
		Store: StoreConfig{
			Path: filepath.Join(".", "parcel.db"),
		},
		Worker: WorkerConfig{
			Timeout: 0,
		},
	}
}

func validate(cfg *Config) error {
	switch strings.ToUpper(cfg.Service.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("service.log_level %q is not one of DEBUG, INFO, WARN, ERROR", cfg.Service.LogLevel)
	}
	if cfg.Worker.Timeout < 0 {
		return fmt.Errorf("worker.timeout must not be negative")
	}
	if cfg.Environments.Dir == "" {
		return fmt.Errorf("environments.dir must not be empty")
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	for i, path := range cfg.Worker.RegisterPaths {
		if path == "" {
			return fmt.Errorf("worker.register_paths[%d] is empty", i)
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables become empty strings.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		return os.Getenv(name)
	})
}
