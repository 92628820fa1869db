package worker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/parcelhq/parcel/internal/log"
	"github.com/parcelhq/parcel/internal/serializer"
)

// Run executes one worker request and writes the two-line response to out.
// Diagnostics, including failure stacks, go to errOut.
//
// Run never returns an error for anything the call itself did: failures
// travel back in-band as EXCEPTION responses, and the response is always
// well-formed. Only an unwritable out surfaces as a returned error.
func Run(ctx context.Context, request string, out, errOut io.Writer) error {
	logger := log.WithComponent("worker")

	if paths := os.Getenv(RegisterPathsVar); paths != "" {
		if err := RegisterDocuments(paths); err != nil {
			logger.Warn("failed to register documents", "error", err)
		}
	}

	result, failure := execute(ctx, request)

	if failure != nil {
		// Surface the failure on stderr before responding, so an operator
		// tailing the worker sees the stack even if the parent discards
		// the response.
		fmt.Fprintf(errOut, "%s: %s\n", failure.TypeName, failure.Message)
		for _, frame := range failure.Frames {
			fmt.Fprintln(errOut, frame)
		}
		return write(out, formatResponse(StatusException, encodeFailure(failure)))
	}

	payload, err := serializer.Binary{}.Encode(result)
	if err != nil {
		// The call succeeded but its result cannot travel. That is still
		// an exception from the parent's point of view.
		failure := NewFailure(err)
		fmt.Fprintf(errOut, "%s: %s\n", failure.TypeName, failure.Message)
		return write(out, formatResponse(StatusException, encodeFailure(failure)))
	}
	return write(out, formatResponse(StatusReturn, payload))
}

// execute decodes and invokes the request with stdout silenced, converting
// every kind of trouble into a Failure.
func execute(ctx context.Context, request string) (result any, failure *Failure) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result, failure = nil, newPanicFailure(recovered)
		}
	}()

	call, err := DecodeRequest(request)
	if err != nil {
		return nil, NewFailure(err)
	}

	// The call's own prints must not land in the response channel.
	restore, err := silenceStdout()
	if err != nil {
		return nil, NewFailure(err)
	}
	defer restore()

	value, err := call.Document.Call(ctx, call.Args, call.Kwargs)
	if err != nil {
		return nil, NewFailure(err)
	}
	return value, nil
}

// silenceStdout points os.Stdout at the null device and returns a restore
// function.
func silenceStdout() (func(), error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	original := os.Stdout
	os.Stdout = devNull
	return func() {
		os.Stdout = original
		devNull.Close()
	}, nil
}

func write(out io.Writer, response []byte) error {
	if _, err := out.Write(response); err != nil {
		return fmt.Errorf("write worker response: %w", err)
	}
	return nil
}
