// Package worker implements the subprocess execution protocol: a parent
// hands an encoded call to a runner subprocess and reads a two-line
// response from its stdout.
//
// The response contract is strict. Line one is a status word, line two is a
// base64 payload, and nothing else may be written to stdout by the worker.
// Diagnostics go to stderr.
package worker

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parcelhq/parcel/internal/document"
	"github.com/parcelhq/parcel/internal/serializer"
)

// Response status words. Exactly one heads every worker response.
const (
	StatusReturn    = "RETURN"
	StatusException = "EXCEPTION"
)

// WorkerVar is set in a worker subprocess. Workers must not spawn further
// workers.
const WorkerVar = "PARCEL_WORKER"

// RegisterPathsVar lists document files (path-list separated) whose
// callables are registered before a worker decodes its request.
const RegisterPathsVar = "PARCEL_REGISTER_PATHS"

// Call is the unit of work shipped to a worker: a packaged callable plus
// the arguments to invoke it with.
type Call struct {
	Document *document.Document `json:"document"`
	Args     []any              `json:"args"`
	Kwargs   map[string]any     `json:"kwargs"`
}

// EncodeRequest serializes a call into the argument string passed to the
// worker subcommand. Base64 keeps the request safe to place in an argv.
func EncodeRequest(call *Call) (string, error) {
	data, err := json.Marshal(call)
	if err != nil {
		return "", fmt.Errorf("encode worker request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeRequest restores a call from a worker request string.
func DecodeRequest(request string) (*Call, error) {
	data, err := base64.StdEncoding.DecodeString(request)
	if err != nil {
		return nil, fmt.Errorf("decode worker request: %w", err)
	}
	var call Call
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("decode worker request: %w", err)
	}
	if call.Document == nil {
		return nil, fmt.Errorf("decode worker request: missing document")
	}
	return &call, nil
}

// MalformedResponseError reports worker stdout that does not follow the
// two-line protocol. The raw output is kept for diagnosis.
type MalformedResponseError struct {
	Reason string
	Output []byte
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed worker response: %s (output: %.200s)", e.Reason, e.Output)
}

// ParseResponse reads a worker's stdout and returns the decoded result
// payload. An EXCEPTION status decodes into the failure it carries, which
// is returned as the error. Anything outside the protocol is a
// MalformedResponseError.
func ParseResponse(output []byte) (any, error) {
	if len(bytes.TrimSpace(output)) == 0 {
		return nil, &MalformedResponseError{Reason: "empty output", Output: output}
	}

	// Split on the first newline only. The payload line has no size bound,
	// so a line scanner is the wrong tool here.
	sep := bytes.IndexByte(output, '\n')
	if sep < 0 {
		return nil, &MalformedResponseError{Reason: "missing payload line", Output: output}
	}
	status := strings.TrimSpace(string(output[:sep]))
	payload := strings.TrimSpace(string(output[sep+1:]))
	if payload == "" {
		return nil, &MalformedResponseError{Reason: "missing payload line", Output: output}
	}

	value, err := serializer.Binary{}.Decode([]byte(payload))
	if err != nil {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("undecodable payload: %v", err), Output: output}
	}

	switch status {
	case StatusReturn:
		return value, nil
	case StatusException:
		failure, ok := value.(Failure)
		if !ok {
			return nil, &MalformedResponseError{
				Reason: fmt.Sprintf("exception payload is %T, not a failure", value),
				Output: output,
			}
		}
		return nil, &failure
	default:
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("unknown status %q", status), Output: output}
	}
}

func formatResponse(status string, payload []byte) []byte {
	out := make([]byte, 0, len(status)+len(payload)+2)
	out = append(out, status...)
	out = append(out, '\n')
	out = append(out, payload...)
	out = append(out, '\n')
	return out
}
