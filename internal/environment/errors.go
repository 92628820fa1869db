package environment

import "fmt"

// StateError reports a descriptor that cannot satisfy a predicate without a
// more specific identifier.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string { return e.Reason }

// ToolError reports absent or misbehaving external tooling: a missing
// executable, a non-zero exit, or structurally unexpected output.
type ToolError struct {
	Tool   string
	Reason string
	Output []byte
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Tool, e.Reason)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if len(e.Output) > 0 {
		msg += fmt.Sprintf(" (output: %s)", truncate(e.Output, 200))
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
