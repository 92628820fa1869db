// Package document defines the portable unit this system ships around: an
// encoded callable, the tag of the strategy that encoded it, and the
// environment it expects to run in.
package document

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parcelhq/parcel/internal/callable"
	"github.com/parcelhq/parcel/internal/environment"
	"github.com/parcelhq/parcel/internal/serializer"
)

// Document pairs an encoded callable with everything a consumer needs to
// decode and execute it. Every strategy emits text-safe content, so the
// JSON form is readable end to end.
type Document struct {
	Content     string          `json:"content"`
	Strategy    string          `json:"strategy"`
	Environment environment.Env `json:"-"`
}

type wireDocument struct {
	Content     string          `json:"content"`
	Strategy    string          `json:"strategy"`
	Environment json.RawMessage `json:"environment"`
}

// Pack encodes a callable under the named strategy and records the
// environment it should execute in.
func Pack(value any, strategy string, env environment.Env) (*Document, error) {
	s, err := serializer.ByTag(strategy)
	if err != nil {
		return nil, err
	}
	content, err := s.Encode(value)
	if err != nil {
		return nil, err
	}
	return &Document{
		Content:     string(content),
		Strategy:    strategy,
		Environment: env,
	}, nil
}

// Callable decodes the document's content with the strategy it names.
func (d *Document) Callable() (any, error) {
	s, err := serializer.ByTag(d.Strategy)
	if err != nil {
		return nil, err
	}
	return s.Decode([]byte(d.Content))
}

// Call decodes the document and invokes the result in-process.
func (d *Document) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	value, err := d.Callable()
	if err != nil {
		return nil, err
	}
	c, ok := value.(callable.Callable)
	if !ok {
		return nil, fmt.Errorf("document content is %T, which is not callable", value)
	}
	return c.Call(ctx, args, kwargs)
}

func (d *Document) MarshalJSON() ([]byte, error) {
	wire := wireDocument{Content: d.Content, Strategy: d.Strategy}
	if d.Environment != nil {
		env, err := environment.Marshal(d.Environment)
		if err != nil {
			return nil, err
		}
		wire.Environment = env
	}
	return json.Marshal(wire)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var wire wireDocument
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	d.Content = wire.Content
	d.Strategy = wire.Strategy
	d.Environment = nil
	if len(wire.Environment) > 0 && string(wire.Environment) != "null" {
		env, err := environment.Unmarshal(wire.Environment)
		if err != nil {
			return err
		}
		d.Environment = env
	}
	return nil
}
