// Package execute decides where a packaged call runs: in this process, in
// a worker subprocess of an existing environment, or nowhere until the
// environment is created.
package execute

import (
	"context"
	"errors"
	"os"

	"github.com/parcelhq/parcel/internal/document"
	"github.com/parcelhq/parcel/internal/environment"
	"github.com/parcelhq/parcel/internal/log"
	"github.com/parcelhq/parcel/internal/worker"
)

// State is the execution disposition for an environment, resolved from its
// predicates in order.
type State int

const (
	// StateLocal means the current process already runs inside the
	// environment and the call executes in-process.
	StateLocal State = iota

	// StateRemote means the environment exists on this machine and the
	// call executes in a worker subprocess.
	StateRemote

	// StateNeedsCreate means the environment does not exist but the
	// tooling to create it does.
	StateNeedsCreate

	// StateUnsupported means the environment neither exists nor can be
	// created here.
	StateUnsupported
)

func (s State) String() string {
	switch s {
	case StateLocal:
		return "local"
	case StateRemote:
		return "remote"
	case StateNeedsCreate:
		return "needs-create"
	default:
		return "unsupported"
	}
}

// ErrNestedWorker is returned when a worker process tries to spawn further
// execution. Workers run calls, they do not orchestrate them.
var ErrNestedWorker = errors.New("already running inside a worker; nested execution is not allowed")

// NotReadyError reports an environment that must be created before the
// call can run.
type NotReadyError struct {
	Env environment.Env
}

func (e *NotReadyError) Error() string {
	return "environment " + e.Env.Describe() + " is not available and must be created first"
}

// UnsupportedError reports an environment this machine can neither enter
// nor create.
type UnsupportedError struct {
	Env environment.Env
}

func (e *UnsupportedError) Error() string {
	return "environment " + e.Env.Describe() + " is not available and cannot be created on this machine"
}

// Hooks for tests.
var (
	invoke = worker.Invoke
	getenv = os.Getenv
)

// Resolve queries an environment's predicates in precedence order and
// returns its execution disposition.
func Resolve(env environment.Env) (State, error) {
	active, err := env.IsActive()
	if err != nil {
		return StateUnsupported, err
	}
	if active {
		return StateLocal, nil
	}

	available, err := env.IsAvailable()
	if err != nil {
		return StateUnsupported, err
	}
	if available {
		return StateRemote, nil
	}

	if env.ManagerAvailable() {
		return StateNeedsCreate, nil
	}
	return StateUnsupported, nil
}

// Run executes a packaged call in the document's environment, in-process
// when this process is already inside it and via a worker subprocess
// otherwise.
func Run(ctx context.Context, doc *document.Document, args []any, kwargs map[string]any) (any, error) {
	env := doc.Environment
	if env == nil {
		env = environment.DetectBare()
	}

	state, err := Resolve(env)
	if err != nil {
		return nil, err
	}
	log.WithComponent("execute").Debug("resolved execution state",
		"environment", env.Describe(), "state", state.String())

	switch state {
	case StateLocal:
		return doc.Call(ctx, args, kwargs)
	case StateRemote:
		// A worker must not spawn further workers. Local dispatch inside a
		// worker is fine; only a second subprocess hop is refused.
		if getenv(worker.WorkerVar) != "" {
			return nil, ErrNestedWorker
		}
		return invoke(ctx, env, &worker.Call{Document: doc, Args: args, Kwargs: kwargs})
	case StateNeedsCreate:
		return nil, &NotReadyError{Env: env}
	default:
		return nil, &UnsupportedError{Env: env}
	}
}
