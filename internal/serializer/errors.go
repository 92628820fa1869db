package serializer

import "fmt"

// EncodeError reports a value the chosen strategy could not turn into
// bytes. TypeName describes the offending value for diagnostics; Err is the
// underlying failure.
type EncodeError struct {
	Strategy string
	TypeName string
	Err      error
}

func (e *EncodeError) Error() string {
	if e.TypeName == "" {
		return fmt.Sprintf("%s encode failed: %v", e.Strategy, e.Err)
	}
	return fmt.Sprintf("%s encode of %s failed: %v", e.Strategy, e.TypeName, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError reports bytes that do not conform to the expected envelope
// for the declared strategy.
type DecodeError struct {
	Strategy string
	Reason   string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s decode failed: %s", e.Strategy, e.Reason)
	}
	if e.Reason == "" {
		return fmt.Sprintf("%s decode failed: %v", e.Strategy, e.Err)
	}
	return fmt.Sprintf("%s decode failed: %s: %v", e.Strategy, e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownStrategyError reports a strategy tag with no registered
// implementation.
type UnknownStrategyError struct {
	Tag string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown serialization strategy %q", e.Tag)
}
