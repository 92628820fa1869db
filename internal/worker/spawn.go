package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/parcelhq/parcel/internal/environment"
	"github.com/parcelhq/parcel/internal/log"
)

// terminationGracePeriod is the time between SIGTERM and SIGKILL when a
// worker outlives its context.
const terminationGracePeriod = 5 * time.Second

// Spawning goes through this seam so the state machine above it can be
// tested without real subprocesses.
var startWorker = func(ctx context.Context, argv []string, env []string, request string) ([]byte, error) {
	return runWorkerProcess(ctx, argv, env, request)
}

// Invoke runs a call in the given environment's runner as a worker
// subprocess and returns the call's result. A failure inside the worker
// comes back as a *Failure error; stdout that breaks the protocol comes
// back as a *MalformedResponseError.
//
// Cancelling ctx terminates the worker: SIGTERM first, SIGKILL after a
// grace period.
func Invoke(ctx context.Context, env environment.Env, call *Call) (any, error) {
	request, err := EncodeRequest(call)
	if err != nil {
		return nil, err
	}

	argv, err := env.RunnerCommand()
	if err != nil {
		return nil, err
	}
	variables, err := env.RunnerVariables()
	if err != nil {
		return nil, err
	}
	variables[WorkerVar] = "1"

	output, err := startWorker(ctx, argv, flattenEnv(variables), request)
	if err != nil {
		return nil, err
	}
	return ParseResponse(output)
}

func runWorkerProcess(ctx context.Context, argv []string, env []string, request string) ([]byte, error) {
	invocation := uuid.New().String()
	logger := log.WithComponent("worker").With("invocation", invocation)

	args := append(argv[1:], "worker", request)
	// Termination is managed below, so plain Command instead of
	// CommandContext.
	cmd := exec.Command(argv[0], args...)
	cmd.Env = env

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// The worker's stderr carries its diagnostics and failure stacks;
	// pass it straight through.
	cmd.Stderr = os.Stderr

	logger.Debug("spawning worker", "argv", argv)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.Warn("worker cancelled, sending SIGTERM")
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed to send SIGTERM", "error", err)
			}
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()
		select {
		case <-waitErr:
			logger.Info("worker exited after SIGTERM")
		case <-grace.C:
			logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
			if cmd.Process != nil {
				if err := cmd.Process.Kill(); err != nil {
					logger.Error("failed to send SIGKILL", "error", err)
				}
			}
			<-waitErr
		}
		return nil, ctx.Err()

	case err := <-waitErr:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				// A non-zero exit still usually carries a well-formed
				// EXCEPTION response; let the parser decide.
				logger.Warn("worker exited with non-zero status", "exit_code", exitErr.ExitCode())
			} else {
				return nil, fmt.Errorf("wait for worker: %w", err)
			}
		}
		return stdout.Bytes(), nil
	}
}

func flattenEnv(variables map[string]string) []string {
	keys := make([]string, 0, len(variables))
	for k := range variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+variables[k])
	}
	return env
}
