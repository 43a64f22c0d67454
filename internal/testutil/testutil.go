// Package testutil provides testing utilities for macroexpand tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/runner"
)

// SetupCrate creates a temporary crate named name with a Cargo.toml and an
// empty src/lib.rs. Extra files are given as relative path to content.
// Returns the crate directory, which is removed when the test completes.
func SetupCrate(t *testing.T, name string, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	manifest := fmt.Sprintf("[package]\nname = %q\nversion = \"0.1.0\"\nedition = \"2021\"\n", name)
	WriteFile(t, dir, "Cargo.toml", manifest)
	WriteFile(t, dir, "src/lib.rs", "")

	for path, content := range files {
		WriteFile(t, dir, path, content)
	}
	return dir
}

// WriteFile writes content to dir/rel, creating parent directories.
func WriteFile(t *testing.T, dir, rel, content string) string {
	t.Helper()

	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", rel, err)
	}
	return full
}

// Call is one invocation seen by a ScriptedRunner.
type Call struct {
	Command string
	Dir     string
}

// Step is the scripted result of one run. A nil Err returns Output.
type Step struct {
	Output runner.Output
	Err    error
	// Block, when non-nil, is waited on before the step returns (or until
	// the run's context is done).
	Block <-chan struct{}
}

// ScriptedRunner is a runner.Runner that replays Steps in order and then
// repeats the last one. It records every call.
type ScriptedRunner struct {
	mu    sync.Mutex
	steps []Step
	calls []Call
}

// NewScriptedRunner creates a runner that replays steps.
func NewScriptedRunner(steps ...Step) *ScriptedRunner {
	return &ScriptedRunner{steps: steps}
}

// Succeed is a Step that prints stdout.
func Succeed(stdout string) Step {
	return Step{Output: runner.Output{Stdout: stdout}}
}

// Fail is a Step that exits with code and stderr.
func Fail(command string, code int, stderr string) Step {
	return Step{Err: errors.NewExecutionError(command, errors.ErrToolFailed).WithExitCode(code).WithStderr(stderr)}
}

// Run implements runner.Runner.
func (r *ScriptedRunner) Run(ctx context.Context, command, dir string) (runner.Output, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Command: command, Dir: dir})
	var step Step
	switch {
	case len(r.steps) > 1:
		step = r.steps[0]
		r.steps = r.steps[1:]
	case len(r.steps) == 1:
		step = r.steps[0]
	default:
		step = Succeed("")
	}
	r.mu.Unlock()

	if step.Block != nil {
		select {
		case <-step.Block:
		case <-ctx.Done():
			return runner.Output{}, errors.NewExecutionError(command, fmt.Errorf("%w: %w", errors.ErrCanceled, ctx.Err())).WithDir(dir)
		}
	}
	if step.Err != nil {
		return runner.Output{}, step.Err
	}
	return step.Output, nil
}

// Calls returns a copy of the recorded calls.
func (r *ScriptedRunner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}
