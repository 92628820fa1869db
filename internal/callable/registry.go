package callable

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Module is a named group of symbols. Resolving the module name alone
// returns the Module itself, mirroring how an import path may point at
// either a module or one of its attributes.
type Module map[string]any

var (
	registryMu sync.RWMutex
	regSymbols = make(map[string]any)
	regModules = make(map[string]Module)
)

// Register binds a value to a qualified name in the process-wide registry.
// Later registrations under the same name replace earlier ones.
func Register(name string, v any) {
	registryMu.Lock()
	defer registryMu.Unlock()
	regSymbols[name] = v
}

// RegisterModule binds a group of symbols under a module name.
func RegisterModule(name string, symbols Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	regModules[name] = symbols
}

// ErrNotRegistered reports a qualified name with no registration.
type ErrNotRegistered struct {
	Name string
}

func (e *ErrNotRegistered) Error() string {
	return fmt.Sprintf("no module or symbol registered under %q", e.Name)
}

// ErrNoAttribute reports a resolvable module without the requested symbol.
type ErrNoAttribute struct {
	Module    string
	Attribute string
}

func (e *ErrNoAttribute) Error() string {
	return fmt.Sprintf("module %q has no attribute %q", e.Module, e.Attribute)
}

// Resolve looks up a qualified name. The name is tried as a module first to
// support both "module" and "module.attribute" forms; only when no module
// matches is the final dot-segment treated as an attribute.
func Resolve(name string) (any, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if mod, ok := regModules[name]; ok {
		return mod, nil
	}
	if v, ok := regSymbols[name]; ok {
		return v, nil
	}

	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return nil, &ErrNotRegistered{Name: name}
	}
	modName, attr := name[:idx], name[idx+1:]
	mod, ok := regModules[modName]
	if !ok {
		return nil, &ErrNotRegistered{Name: name}
	}
	v, ok := mod[attr]
	if !ok {
		return nil, &ErrNoAttribute{Module: modName, Attribute: attr}
	}
	return v, nil
}

// NameFor reports the qualified name a value was registered under, checking
// direct registrations first and then module members. Function values are
// compared by code pointer; other values by equality when comparable.
func NameFor(v any) (string, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range sortedKeys(regSymbols) {
		if sameValue(regSymbols[name], v) {
			return name, true
		}
	}
	for _, modName := range sortedModuleKeys(regModules) {
		mod := regModules[modName]
		for _, attr := range sortedKeys(mod) {
			if sameValue(mod[attr], v) {
				return modName + "." + attr, true
			}
		}
	}
	return "", false
}

func sameValue(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !ra.IsValid() || !rb.IsValid() {
		return !ra.IsValid() && !rb.IsValid()
	}
	if ra.Kind() == reflect.Func && rb.Kind() == reflect.Func {
		return ra.Pointer() == rb.Pointer()
	}
	if ra.Type() != rb.Type() {
		return false
	}
	if !ra.Comparable() {
		return false
	}
	return a == b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedModuleKeys(m map[string]Module) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
