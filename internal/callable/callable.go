// Package callable defines the executable unit packaged by this subsystem:
// a function-like value taking positional and keyword arguments and
// producing a single result or an error.
//
// The package also owns the process-wide symbol registry used by the
// reference encoding strategy. Symbols are registered under qualified names
// ("module" or "module.symbol") and resolved by the decoding side, which
// must therefore carry equivalent registrations.
package callable

import (
	"context"
	"encoding/gob"
	"fmt"
	"reflect"
)

// Callable is a unit of executable logic.
type Callable interface {
	Call(ctx context.Context, args []any, kwargs map[string]any) (any, error)
}

// QualifiedNamer is implemented by values that know their own registry name.
// The reference strategy consults it when a value was not registered
// explicitly.
type QualifiedNamer interface {
	QualifiedName() string
}

// RegisterType makes a concrete type encodable through interface-typed
// fields by the binary strategy. It must be called on both the encoding and
// the decoding side, mirroring gob's registration contract.
func RegisterType(v any) {
	gob.Register(v)
}

// Func adapts an ordinary Go function to the Callable interface using
// reflection. The wrapped function may optionally take a leading
// context.Context; it may return nothing, a value, an error, or a value and
// an error. Keyword arguments are not supported by this adapter.
//
// Func holds a live function reference and is deliberately not encodable by
// the binary strategy; callables that must cross a process boundary should
// be concrete types with exported state instead.
type Func struct {
	fn reflect.Value
}

// NewFunc wraps fn, which must be a function value.
func NewFunc(fn any) (*Func, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("expected a function, got %T", fn)
	}
	t := v.Type()
	if t.NumOut() > 2 {
		return nil, fmt.Errorf("function returns %d values, at most 2 supported", t.NumOut())
	}
	if t.NumOut() == 2 && !t.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("second return value must be error, got %s", t.Out(1))
	}
	return &Func{fn: v}, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Call invokes the wrapped function with the given positional arguments.
func (f *Func) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("keyword arguments are not supported by func adapters")
	}

	t := f.fn.Type()
	in := make([]reflect.Value, 0, t.NumIn())
	offset := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		offset = 1
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("variadic functions are not supported by func adapters")
	}
	if len(args) != t.NumIn()-offset {
		return nil, fmt.Errorf("expected %d arguments, got %d", t.NumIn()-offset, len(args))
	}
	for i, arg := range args {
		want := t.In(i + offset)
		av := reflect.ValueOf(arg)
		if !av.IsValid() {
			av = reflect.Zero(want)
		} else if av.Type() != want {
			if !av.Type().ConvertibleTo(want) {
				return nil, fmt.Errorf("argument %d: cannot use %T as %s", i, arg, want)
			}
			av = av.Convert(want)
		}
		in = append(in, av)
	}

	out := f.fn.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if t.Out(0).Implements(errorType) {
			if out[0].IsNil() {
				return nil, nil
			}
			return nil, out[0].Interface().(error)
		}
		return out[0].Interface(), nil
	default:
		var err error
		if !out[1].IsNil() {
			err = out[1].Interface().(error)
		}
		return out[0].Interface(), err
	}
}
