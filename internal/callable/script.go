package callable

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

var symbolPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ScriptFunc is a callable captured as shell source text plus the name of a
// function the source declares. Each invocation re-executes the source in a
// fresh embedded interpreter namespace, then calls the named function.
//
// Positional arguments become the function's positional parameters; keyword
// arguments become environment variables visible to the script. The value
// is the function's standard output with the trailing newline removed; a
// non-zero exit status is an error.
type ScriptFunc struct {
	Source string
	Symbol string
}

func init() {
	RegisterType(ScriptFunc{})
}

// Validate parses the source and confirms it declares the named symbol by
// executing it in a throwaway namespace. Running captured source is
// equivalent to arbitrary code execution: only call this on trusted input.
func (s ScriptFunc) Validate(ctx context.Context) error {
	if !symbolPattern.MatchString(s.Symbol) {
		return fmt.Errorf("invalid symbol name %q", s.Symbol)
	}
	file, err := parseScript(s.Source)
	if err != nil {
		return err
	}

	runner, err := newRunner(io.Discard, io.Discard, nil, nil)
	if err != nil {
		return err
	}
	if err := runner.Run(ctx, file); err != nil {
		if _, ok := interp.IsExitStatus(err); !ok {
			return fmt.Errorf("execute source: %w", err)
		}
	}

	// The runner keeps declared functions across Run calls, so a `type`
	// probe against the same runner sees everything the source defined.
	probe, err := parseScript("type " + s.Symbol + " >/dev/null 2>&1")
	if err != nil {
		return err
	}
	if err := runner.Run(ctx, probe); err != nil {
		return fmt.Errorf("symbol %q not found after executing source", s.Symbol)
	}
	return nil
}

// Call executes the source and invokes the named function.
func (s ScriptFunc) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if !symbolPattern.MatchString(s.Symbol) {
		return nil, fmt.Errorf("invalid symbol name %q", s.Symbol)
	}
	script := s.Source + "\n" + s.Symbol + " \"$@\"\n"
	file, err := parseScript(script)
	if err != nil {
		return nil, err
	}

	params := make([]string, 0, len(args)+1)
	params = append(params, "--")
	for _, arg := range args {
		params = append(params, fmt.Sprint(arg))
	}

	var stdout, stderr bytes.Buffer
	runner, err := newRunner(&stdout, &stderr, params, kwargs)
	if err != nil {
		return nil, err
	}
	if err := runner.Run(ctx, file); err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			return nil, fmt.Errorf("%s exited with status %d: %s", s.Symbol, status, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("execute %s: %w", s.Symbol, err)
	}
	return strings.TrimSuffix(stdout.String(), "\n"), nil
}

func parseScript(src string) (*syntax.File, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(src), "source")
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	return file, nil
}

func newRunner(stdout, stderr io.Writer, params []string, kwargs map[string]any) (*interp.Runner, error) {
	environ := os.Environ()
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		environ = append(environ, fmt.Sprintf("%s=%v", k, kwargs[k]))
	}

	opts := []interp.RunnerOption{
		interp.StdIO(nil, stdout, stderr),
		interp.Env(expand.ListEnviron(environ...)),
	}
	if len(params) > 0 {
		opts = append(opts, interp.Params(params...))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create interpreter: %w", err)
	}
	return runner, nil
}
