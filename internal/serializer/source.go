package serializer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parcelhq/parcel/internal/callable"
)

// Source serializes callables by capturing their literal source text.
//
// The blob is a JSON envelope with exactly the keys "source" and
// "symbol_name". Decoding re-executes the captured source in a fresh,
// isolated interpreter namespace and looks the symbol up by name, which is
// equivalent to arbitrary code execution: decode only trusted documents.
type Source struct{}

type sourceEnvelope struct {
	Source     string `json:"source"`
	SymbolName string `json:"symbol_name"`
}

func (Source) Encode(v any) ([]byte, error) {
	var script callable.ScriptFunc
	switch c := v.(type) {
	case callable.ScriptFunc:
		script = c
	case *callable.ScriptFunc:
		script = *c
	default:
		return nil, &EncodeError{
			Strategy: StrategySource,
			TypeName: fmt.Sprintf("%T", v),
			Err:      fmt.Errorf("value does not expose source text"),
		}
	}

	blob, err := json.Marshal(sourceEnvelope{Source: script.Source, SymbolName: script.Symbol})
	if err != nil {
		return nil, &EncodeError{Strategy: StrategySource, TypeName: fmt.Sprintf("%T", v), Err: err}
	}
	return blob, nil
}

func (Source) Decode(blob []byte) (any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, &DecodeError{Strategy: StrategySource, Reason: "invalid JSON envelope", Err: err}
	}
	if err := requireExactKeys(raw, "source", "symbol_name"); err != nil {
		return nil, &DecodeError{Strategy: StrategySource, Reason: err.Error()}
	}

	var env sourceEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, &DecodeError{Strategy: StrategySource, Reason: "invalid envelope fields", Err: err}
	}

	script := callable.ScriptFunc{Source: env.Source, Symbol: env.SymbolName}
	if err := script.Validate(context.Background()); err != nil {
		return nil, &DecodeError{Strategy: StrategySource, Err: err}
	}
	return script, nil
}

func requireExactKeys(raw map[string]json.RawMessage, keys ...string) error {
	for _, k := range keys {
		if _, ok := raw[k]; !ok {
			return fmt.Errorf("envelope missing key %q", k)
		}
	}
	if len(raw) != len(keys) {
		for k := range raw {
			known := false
			for _, want := range keys {
				if k == want {
					known = true
					break
				}
			}
			if !known {
				return fmt.Errorf("envelope has unexpected key %q", k)
			}
		}
	}
	return nil
}
