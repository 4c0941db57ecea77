package provisioning

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Runner executes backend CLI commands. Providers depend on this interface so
// tests can script command outcomes instead of shelling out.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	RunInput(ctx context.Context, stdin string, name string, args ...string) (string, error)
}

// ShellRunner executes commands on the host.
type ShellRunner struct{}

var _ Runner = (*ShellRunner)(nil)

func (ShellRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return runCommand(ctx, "", name, args...)
}

func (ShellRunner) RunInput(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	return runCommand(ctx, stdin, name, args...)
}

// runCommand folds stderr into the returned error so callers can match on
// backend messages such as "already exists".
func runCommand(ctx context.Context, stdin, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(stdout.String()),
			fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunnerCall records one command handed to a FakeRunner.
type RunnerCall struct {
	Name  string
	Args  []string
	Stdin string
}

// FakeRunner is a scriptable Runner for tests. Unset functions succeed with
// empty output.
type FakeRunner struct {
	mu    sync.Mutex
	calls []RunnerCall

	RunFn      func(ctx context.Context, name string, args ...string) (string, error)
	RunInputFn func(ctx context.Context, stdin string, name string, args ...string) (string, error)
}

var _ Runner = (*FakeRunner)(nil)

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.record(RunnerCall{Name: name, Args: args})
	if f.RunFn != nil {
		return f.RunFn(ctx, name, args...)
	}
	return "", nil
}

func (f *FakeRunner) RunInput(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	f.record(RunnerCall{Name: name, Args: args, Stdin: stdin})
	if f.RunInputFn != nil {
		return f.RunInputFn(ctx, stdin, name, args...)
	}
	return "", nil
}

func (f *FakeRunner) record(call RunnerCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

// Calls returns a copy of the recorded commands in order.
func (f *FakeRunner) Calls() []RunnerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RunnerCall, len(f.calls))
	copy(out, f.calls)
	return out
}
