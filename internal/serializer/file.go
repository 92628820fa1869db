package serializer

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// File composes an inner serializer with file-backed storage: the inner
// blob is written to a content-addressed path under a base directory, and
// the encoded content is just that path. This decouples transport-channel
// size limits from payload size.
//
// The filesystem is pluggable so tests and alternative backends can
// substitute an in-memory implementation.
type File struct {
	Base  string
	FS    afero.Fs
	Inner Serializer
}

// NewFile builds a file serializer, applying defaults for any zero
// argument: current directory, the OS filesystem, and the binary strategy.
func NewFile(base string, fs afero.Fs, inner Serializer) File {
	if base == "" {
		base = "."
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if inner == nil {
		inner = Binary{}
	}
	return File{Base: base, FS: fs, Inner: inner}
}

func (f File) Encode(v any) ([]byte, error) {
	content, err := f.Inner.Encode(v)
	if err != nil {
		return nil, err
	}

	sum := blake3.Sum256(content)
	key := hex.EncodeToString(sum[:])
	path := filepath.Join(f.Base, key)

	if err := f.FS.MkdirAll(f.Base, 0o755); err != nil {
		return nil, &EncodeError{Strategy: StrategyFile, TypeName: fmt.Sprintf("%T", v), Err: err}
	}
	if err := afero.WriteFile(f.FS, path, content, 0o644); err != nil {
		return nil, &EncodeError{Strategy: StrategyFile, TypeName: fmt.Sprintf("%T", v), Err: err}
	}
	return []byte(path), nil
}

func (f File) Decode(blob []byte) (any, error) {
	path := string(blob)
	content, err := afero.ReadFile(f.FS, path)
	if err != nil {
		return nil, &DecodeError{Strategy: StrategyFile, Reason: fmt.Sprintf("read %s", path), Err: err}
	}
	return f.Inner.Decode(content)
}
