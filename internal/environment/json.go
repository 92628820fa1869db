package environment

import (
	"encoding/json"
	"fmt"
)

// Type names discriminate serialized environments.
const (
	TypeBare  = "bare"
	TypeVenv  = "venv"
	TypeConda = "conda"
)

type envelope struct {
	TypeName          string   `json:"typename"`
	Version           string   `json:"version"`
	Requirements      []string `json:"requirements"`
	Path              string   `json:"path,omitempty"`
	Name              string   `json:"name,omitempty"`
	CondaRequirements []string `json:"conda_requirements,omitempty"`
	CondaExecutable   string   `json:"conda_executable,omitempty"`
}

// Marshal serializes an environment with a type discriminator so it can
// be restored by Unmarshal without knowing the concrete type up front.
func Marshal(env Env) ([]byte, error) {
	var e envelope
	switch v := deref(env).(type) {
	case Bare:
		e = envelope{TypeName: TypeBare, Version: v.Version, Requirements: v.Requirements}
	case VirtualEnv:
		e = envelope{TypeName: TypeVenv, Version: v.Version, Requirements: v.Requirements, Path: v.Path}
	case CondaEnv:
		e = envelope{
			TypeName:          TypeConda,
			Version:           v.Version,
			Requirements:      v.Requirements,
			Path:              v.Path,
			Name:              v.Name,
			CondaRequirements: v.CondaRequirements,
			CondaExecutable:   v.CondaExecutable,
		}
	default:
		return nil, fmt.Errorf("cannot serialize environment type %T", env)
	}
	return json.Marshal(e)
}

func deref(env Env) Env {
	switch v := env.(type) {
	case *Bare:
		return *v
	case *VirtualEnv:
		return *v
	case *CondaEnv:
		return *v
	}
	return env
}

// Unmarshal restores an environment serialized by Marshal.
func Unmarshal(data []byte) (Env, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	switch e.TypeName {
	case TypeBare:
		return Bare{Version: e.Version, Requirements: e.Requirements}, nil
	case TypeVenv:
		return VirtualEnv{Version: e.Version, Requirements: e.Requirements, Path: e.Path}, nil
	case TypeConda:
		return CondaEnv{
			Version:           e.Version,
			Requirements:      e.Requirements,
			Path:              e.Path,
			Name:              e.Name,
			CondaRequirements: e.CondaRequirements,
			CondaExecutable:   e.CondaExecutable,
		}, nil
	case "":
		return nil, fmt.Errorf("decode environment: missing typename")
	default:
		return nil, fmt.Errorf("decode environment: unknown typename %q", e.TypeName)
	}
}
