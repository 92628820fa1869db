package document

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/parcelhq/parcel/internal/callable"
	"github.com/parcelhq/parcel/internal/environment"
	"github.com/parcelhq/parcel/internal/log"
	"github.com/parcelhq/parcel/internal/serializer"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type adder struct {
	Offset int
}

func (a adder) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	total := a.Offset
	for _, arg := range args {
		total += arg.(int)
	}
	return total, nil
}

func init() {
	callable.RegisterType(adder{})
	callable.Register("doctest.adder", adder{Offset: 10})
}

func TestPackAndCallBinary(t *testing.T) {
	doc, err := Pack(adder{Offset: 1}, serializer.StrategyBinary, nil)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	result, err := doc.Call(context.Background(), []any{2}, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != 3 {
		t.Fatalf("result = %v, want 3", result)
	}
}

func TestPackUnknownStrategy(t *testing.T) {
	var unknown *serializer.UnknownStrategyError
	_, err := Pack(adder{}, "carrier-pigeon", nil)
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownStrategyError", err)
	}
}

func TestJSONRoundTripCarriesEnvironment(t *testing.T) {
	env := environment.CondaEnv{
		Version:         "1.2",
		Name:            "analytics",
		CondaExecutable: "conda",
	}
	// Reference encoding stores the registered name, so only the
	// registered value itself is encodable.
	doc, err := Pack(adder{Offset: 10}, serializer.StrategyReference, env)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var restored Document
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if restored.Strategy != serializer.StrategyReference {
		t.Fatalf("Strategy = %q", restored.Strategy)
	}
	conda, ok := restored.Environment.(environment.CondaEnv)
	if !ok {
		t.Fatalf("Environment is %T, want CondaEnv", restored.Environment)
	}
	if conda.Name != "analytics" {
		t.Fatalf("Name = %q, want analytics", conda.Name)
	}

	result, err := restored.Call(context.Background(), []any{1}, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != 11 {
		t.Fatalf("result = %v, want 11", result)
	}
}

func TestJSONWireFieldNames(t *testing.T) {
	doc, err := Pack(adder{}, serializer.StrategyBinary, environment.Bare{Version: "1.0"})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"content", "strategy", "environment"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("wire form missing %q: %s", key, data)
		}
	}
}

func TestDocumentWithoutEnvironment(t *testing.T) {
	doc, err := Pack(adder{Offset: 2}, serializer.StrategyBinary, nil)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var restored Document
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if restored.Environment != nil {
		t.Fatalf("Environment = %+v, want nil", restored.Environment)
	}
}

func TestCallRejectsNonCallableContent(t *testing.T) {
	doc, err := Pack([]any{1, 2, 3}, serializer.StrategyBinary, nil)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := doc.Call(context.Background(), nil, nil); err == nil {
		t.Fatal("expected an error calling non-callable content")
	}
}
