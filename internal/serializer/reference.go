package serializer

import (
	"fmt"

	"github.com/parcelhq/parcel/internal/callable"
)

// Reference serializes a value by storing only its qualified registry name.
// No code or data travels: the decoding side must already carry an
// equivalent registration for the same name.
type Reference struct{}

func (Reference) Encode(v any) ([]byte, error) {
	if name, ok := callable.NameFor(v); ok {
		return []byte(name), nil
	}
	if n, ok := v.(callable.QualifiedNamer); ok {
		return []byte(n.QualifiedName()), nil
	}
	return nil, &EncodeError{
		Strategy: StrategyReference,
		TypeName: fmt.Sprintf("%T", v),
		Err:      fmt.Errorf("value is not registered under a qualified name"),
	}
}

// Decode resolves the stored name, supporting both plain module paths and
// "module.attribute" paths. Resolution failures propagate; a resolvable
// module without the requested attribute is an attribute-kind decode error.
func (Reference) Decode(blob []byte) (any, error) {
	v, err := callable.Resolve(string(blob))
	if err != nil {
		return nil, &DecodeError{Strategy: StrategyReference, Err: err}
	}
	return v, nil
}
