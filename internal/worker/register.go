package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parcelhq/parcel/internal/callable"
	"github.com/parcelhq/parcel/internal/document"
	"github.com/parcelhq/parcel/internal/log"
)

// RegisterDocuments loads document files from a path-list string and
// registers their callables, so reference-encoded requests arriving later
// in the same process can resolve them. A path that fails to load aborts
// registration; a worker running with a partial registry would fail in
// stranger ways downstream.
func RegisterDocuments(paths string) error {
	logger := log.WithComponent("worker")
	for _, path := range filepath.SplitList(paths) {
		if path == "" {
			continue
		}
		if err := registerDocument(path); err != nil {
			return fmt.Errorf("register %s: %w", path, err)
		}
		logger.Debug("registered document", "path", path)
	}
	return nil
}

func registerDocument(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc document.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	value, err := doc.Callable()
	if err != nil {
		return err
	}
	name, err := registryName(value)
	if err != nil {
		return err
	}
	callable.Register(name, value)
	return nil
}

func registryName(value any) (string, error) {
	switch v := value.(type) {
	case callable.ScriptFunc:
		return v.Symbol, nil
	case *callable.ScriptFunc:
		return v.Symbol, nil
	case callable.QualifiedNamer:
		return v.QualifiedName(), nil
	default:
		return "", fmt.Errorf("cannot derive a registry name for %T", value)
	}
}
