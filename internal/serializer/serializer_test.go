package serializer

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelhq/parcel/internal/callable"
)

// adder is a callable with exported state so the binary strategy can carry
// its full graph across a process boundary.
type adder struct {
	Offset int
}

func (a adder) Call(_ context.Context, args []any, _ map[string]any) (any, error) {
	return args[0].(int) + args[1].(int) + a.Offset, nil
}

func init() {
	callable.RegisterType(adder{})
	callable.Register("sertest.math.Add", adder{})
	callable.RegisterModule("sertest.mod", callable.Module{"Sub": "subtract"})
}

func TestBinaryRoundTrip(t *testing.T) {
	blob, err := Binary{}.Encode(adder{Offset: 0})
	require.NoError(t, err)

	v, err := Binary{}.Decode(blob)
	require.NoError(t, err)

	fn, ok := v.(callable.Callable)
	require.True(t, ok, "decoded value should be callable, got %T", v)

	got, err := fn.Call(context.Background(), []any{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestBinaryPreservesClosureState(t *testing.T) {
	blob, err := Binary{}.Encode(adder{Offset: 10})
	require.NoError(t, err)

	v, err := Binary{}.Decode(blob)
	require.NoError(t, err)

	got, err := v.(callable.Callable).Call(context.Background(), []any{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 13, got)
}

func TestBinaryEncodeErrorNamesOffendingType(t *testing.T) {
	_, err := Binary{}.Encode(make(chan int))

	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "chan int", encErr.TypeName)
	assert.Error(t, encErr.Err)
}

func TestBinaryDecodeRejectsGarbage(t *testing.T) {
	_, err := Binary{}.Decode([]byte("!!not base64!!"))

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestSourceRoundTrip(t *testing.T) {
	f := callable.ScriptFunc{
		Source: "add() {\n  echo $(( $1 + $2 ))\n}\n",
		Symbol: "add",
	}

	blob, err := Source{}.Encode(f)
	require.NoError(t, err)

	v, err := Source{}.Decode(blob)
	require.NoError(t, err)

	got, err := v.(callable.Callable).Call(context.Background(), []any{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestSourceDecodeMissingSymbolNameKey(t *testing.T) {
	_, err := Source{}.Decode([]byte(`{"source": "add() { echo hi; }"}`))

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Contains(t, decErr.Error(), "symbol_name")
}

func TestSourceDecodeUnexpectedKey(t *testing.T) {
	_, err := Source{}.Decode([]byte(`{"source": "x", "symbol_name": "x", "extra": 1}`))

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestSourceDecodeAbsentSymbol(t *testing.T) {
	_, err := Source{}.Decode([]byte(`{"source": "x=1", "symbol_name": "missing"}`))

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestSourceEncodeRejectsOpaqueValues(t *testing.T) {
	_, err := Source{}.Encode(42)

	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
}

func TestReferenceRoundTrip(t *testing.T) {
	blob, err := Reference{}.Encode(adder{})
	require.NoError(t, err)
	assert.Equal(t, "sertest.math.Add", string(blob))

	v, err := Reference{}.Decode(blob)
	require.NoError(t, err)

	got, err := v.(callable.Callable).Call(context.Background(), []any{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestReferenceDecodeModulePath(t *testing.T) {
	v, err := Reference{}.Decode([]byte("sertest.mod"))
	require.NoError(t, err)
	_, ok := v.(callable.Module)
	assert.True(t, ok)
}

func TestReferenceDecodeMissingAttribute(t *testing.T) {
	_, err := Reference{}.Decode([]byte("sertest.mod.Absent"))

	var noAttr *callable.ErrNoAttribute
	require.ErrorAs(t, err, &noAttr)
}

func TestReferenceEncodeUnregistered(t *testing.T) {
	_, err := Reference{}.Encode(struct{ X int }{1})

	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
}

func TestFileRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFile("/blobs", fs, Binary{})

	blob, err := s.Encode(adder{Offset: 1})
	require.NoError(t, err)

	// The document content is a path, not the payload.
	assert.Contains(t, string(blob), "/blobs/")

	v, err := s.Decode(blob)
	require.NoError(t, err)

	got, err := v.(callable.Callable).Call(context.Background(), []any{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
}

func TestFilePathIsContentAddressed(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFile("/blobs", fs, Binary{})

	first, err := s.Encode(adder{Offset: 2})
	require.NoError(t, err)
	second, err := s.Encode(adder{Offset: 2})
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestFileDecodeMissingPath(t *testing.T) {
	s := NewFile("/blobs", afero.NewMemMapFs(), Binary{})

	_, err := s.Decode([]byte("/blobs/doesnotexist"))

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestByTagUnknownStrategy(t *testing.T) {
	_, err := ByTag("carrier-pigeon")

	var unknown *UnknownStrategyError
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, unknown.Error(), "carrier-pigeon")
}

func TestByTagCoversAllStrategies(t *testing.T) {
	for _, tag := range Tags() {
		s, err := ByTag(tag)
		require.NoError(t, err, "tag %s", tag)
		require.NotNil(t, s)
	}
}

func TestRoundTripLawAcrossStrategies(t *testing.T) {
	script := callable.ScriptFunc{
		Source: "add() {\n  echo $(( $1 + $2 ))\n}\n",
		Symbol: "add",
	}

	cases := []struct {
		tag   string
		value any
		want  any
	}{
		{StrategyBinary, adder{}, 3},
		{StrategySource, script, "3"},
		{StrategyReference, adder{}, 3},
	}

	for _, tc := range cases {
		s, err := ByTag(tc.tag)
		require.NoError(t, err, tc.tag)

		blob, err := s.Encode(tc.value)
		require.NoError(t, err, tc.tag)

		v, err := s.Decode(blob)
		require.NoError(t, err, tc.tag)

		got, err := v.(callable.Callable).Call(context.Background(), []any{1, 2}, nil)
		require.NoError(t, err, tc.tag)
		assert.Equal(t, tc.want, got, tc.tag)
	}
}

func TestErrorsAreNotSilent(t *testing.T) {
	// Decode errors must surface as typed failures, never as nil values.
	_, err := Source{}.Decode([]byte(`null`))
	assert.Error(t, err)

	_, err = Reference{}.Decode([]byte("never.registered"))
	assert.Error(t, err)
}