package serializer

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"time"
)

// Binary serializes a value's full object graph with gob and wraps the raw
// blob in base64 so it can transit channels that are not byte-clean
// (command-line arguments, JSON string fields).
//
// Interface-typed members require their concrete types to be registered on
// both sides via callable.RegisterType; a missing registration or an
// unencodable member (live handles, function values) surfaces as
// *EncodeError carrying the offending type name.
type Binary struct{}

// envelope fixes the top-level gob type so arbitrary interface values can
// be transported and decoded without the caller knowing the concrete type.
type envelope struct {
	Value any
}

func init() {
	// Concrete types commonly carried through the envelope's interface
	// field. Anything else is the caller's registration burden.
	gob.Register([]any{})
	gob.Register(map[string]any{})
	gob.Register(map[string]string{})
	gob.Register([]string{})
	gob.Register(time.Time{})
}

func (Binary) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Value: v}); err != nil {
		return nil, &EncodeError{Strategy: StrategyBinary, TypeName: fmt.Sprintf("%T", v), Err: err}
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
	base64.StdEncoding.Encode(out, buf.Bytes())
	return out, nil
}

func (Binary) Decode(blob []byte) (any, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(blob)))
	n, err := base64.StdEncoding.Decode(raw, blob)
	if err != nil {
		return nil, &DecodeError{Strategy: StrategyBinary, Reason: "invalid base64 wrapping", Err: err}
	}

	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(raw[:n])).Decode(&env); err != nil {
		return nil, &DecodeError{Strategy: StrategyBinary, Err: err}
	}
	return env.Value, nil
}
