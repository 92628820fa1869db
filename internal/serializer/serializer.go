// Package serializer implements the encoding strategies used to turn a
// callable into an opaque byte blob and back.
//
// Each strategy is registered under a stable tag that travels with the
// encoded content, so a document can self-describe which strategy decodes
// it. Unknown tags are a hard error, never a default branch.
package serializer

// Strategy tags. A document's encode and decode must always use the same
// strategy, so the tag is fixed at encode time and stored alongside the
// blob.
const (
	StrategyBinary    = "binary"
	StrategySource    = "source"
	StrategyReference = "reference"
	StrategyFile      = "composed-file"
)

// Serializer encodes a single value to an opaque blob and back. The
// round-trip law holds per strategy: Decode(Encode(f)) behaves as f given
// equivalent capability on the decoding side (same registered types, same
// re-executable source, same resolvable names).
type Serializer interface {
	Encode(v any) ([]byte, error)
	Decode(blob []byte) (any, error)
}

// ByTag returns the default-configured serializer for a strategy tag.
// Composed-file parameters (base directory, filesystem, inner strategy) are
// decode-side configuration; documents only carry the tag.
func ByTag(tag string) (Serializer, error) {
	switch tag {
	case StrategyBinary:
		return Binary{}, nil
	case StrategySource:
		return Source{}, nil
	case StrategyReference:
		return Reference{}, nil
	case StrategyFile:
		return NewFile("", nil, nil), nil
	default:
		return nil, &UnknownStrategyError{Tag: tag}
	}
}

// Tags lists every registered strategy tag.
func Tags() []string {
	return []string{StrategyBinary, StrategySource, StrategyReference, StrategyFile}
}
