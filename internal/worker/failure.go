package worker

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/parcelhq/parcel/internal/callable"
	"github.com/parcelhq/parcel/internal/serializer"
)

func init() {
	callable.RegisterType(Failure{})
}

// Failure is the transportable form of an error raised inside a worker.
// Concrete error types rarely survive an encode across processes, so the
// worker flattens them into type name, message, and stack frames before
// shipping them back.
type Failure struct {
	TypeName string
	Message  string
	Frames   []string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.TypeName, f.Message)
}

// NewFailure flattens an error for transport. The unwrap chain is kept as
// frames so the parent can show how the failure was built up.
func NewFailure(err error) *Failure {
	var frames []string
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		frames = append(frames, fmt.Sprintf("caused by %T: %s", cause, cause.Error()))
	}
	return &Failure{
		TypeName: fmt.Sprintf("%T", err),
		Message:  err.Error(),
		Frames:   frames,
	}
}

// newPanicFailure flattens a recovered panic value, capturing the stack at
// the recovery point.
func newPanicFailure(recovered any) *Failure {
	buf := make([]byte, 64*1024)
	buf = buf[:runtime.Stack(buf, false)]
	return &Failure{
		TypeName: fmt.Sprintf("panic(%T)", recovered),
		Message:  fmt.Sprint(recovered),
		Frames:   strings.Split(strings.TrimRight(string(buf), "\n"), "\n"),
	}
}

// encodeFailure produces an EXCEPTION payload. A failure is always
// flat strings, so this encode cannot fail for value reasons; a failure to
// encode the failure falls back to a generic one.
func encodeFailure(f *Failure) []byte {
	payload, err := serializer.Binary{}.Encode(*f)
	if err == nil {
		return payload
	}
	fallback := Failure{TypeName: "worker.Failure", Message: f.Message}
	payload, err = serializer.Binary{}.Encode(fallback)
	if err != nil {
		// Unreachable with a registered flat struct, but the protocol
		// must never emit a half response.
		panic(fmt.Sprintf("encode failure payload: %v", err))
	}
	return payload
}
