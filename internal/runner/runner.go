// Package runner executes the external expansion tool.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/logging"
)

// ProgressTitle is shown by the progress indicator while the tool runs.
const ProgressTitle = "Expanding macros"

// Output is the captured output of a successful run.
type Output struct {
	Stdout string
	// Stderr holds diagnostics printed by a successful run, usually warnings.
	Stderr string
}

// Runner runs a command line in a working directory.
type Runner interface {
	Run(ctx context.Context, command, dir string) (Output, error)
}

// Progress is a busy indicator shown for the duration of a run. It cannot
// cancel the run; cancellation belongs to the caller's context.
type Progress interface {
	Begin(title string)
	End()
}

type nopProgress struct{}

func (nopProgress) Begin(string) {}
func (nopProgress) End()         {}

// Exec runs commands as child processes. The command line is split with
// shell quoting rules and executed directly, without a shell.
type Exec struct {
	progress  Progress
	logger    *logging.Logger
	waitDelay time.Duration
}

// New creates an Exec runner. progress and logger may be nil.
func New(progress Progress, logger *logging.Logger) *Exec {
	if progress == nil {
		progress = nopProgress{}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Exec{
		progress:  progress,
		logger:    logger.WithComponent("runner"),
		waitDelay: 2 * time.Second,
	}
}

// Run executes command in dir. On any failure it returns an
// *errors.ExecutionError and no output.
func (r *Exec) Run(ctx context.Context, command, dir string) (Output, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return Output{}, errors.NewExecutionError(command, fmt.Errorf("%w: %w", errors.ErrToolNotStarted, err)).WithDir(dir)
	}
	if len(args) == 0 {
		return Output{}, errors.NewExecutionError(command, fmt.Errorf("%w: empty command", errors.ErrToolNotStarted)).WithDir(dir)
	}

	r.progress.Begin(ProgressTitle)
	defer r.progress.End()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.waitDelay

	start := time.Now()
	r.logger.Debug("running tool", "command", command, "dir", dir)
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr == nil {
		r.logger.Debug("tool finished", "command", command, "duration_ms", duration.Milliseconds())
		return Output{Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}

	execErr := classify(ctx, command, runErr).WithDir(dir).WithStderr(stderr.String())
	r.logger.Warn("tool failed",
		"command", command,
		"dir", dir,
		"status", execErr.Status(),
		"duration_ms", duration.Milliseconds())
	return Output{}, execErr
}

func classify(ctx context.Context, command string, runErr error) *errors.ExecutionError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return errors.NewExecutionError(command, ctxErr).WithTimedOut(true)
		}
		return errors.NewExecutionError(command, fmt.Errorf("%w: %w", errors.ErrCanceled, ctxErr))
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return errors.NewExecutionError(command, fmt.Errorf("%w: %w", errors.ErrToolNotStarted, runErr))
	}

	execErr := errors.NewExecutionError(command, fmt.Errorf("%w: %w", errors.ErrToolFailed, runErr))
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return execErr.WithSignal(status.Signal().String())
	}
	return execErr.WithExitCode(exitErr.ExitCode())
}
