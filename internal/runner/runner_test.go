package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Iron-Ham/macroexpand/internal/errors"
)

type recordingProgress struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingProgress) Begin(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "begin:"+title)
}

func (p *recordingProgress) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "end")
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExec_Success(t *testing.T) {
	requireShell(t)
	progress := &recordingProgress{}
	r := New(progress, nil)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), []byte("expanded\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := r.Run(context.Background(), `sh -c 'cat marker; echo "warning: unused" >&2'`, dir)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Stdout != "expanded\n" {
		t.Errorf("Stdout = %q, want output produced in the working directory", out.Stdout)
	}
	if strings.TrimSpace(out.Stderr) != "warning: unused" {
		t.Errorf("Stderr = %q", out.Stderr)
	}
	if got := strings.Join(progress.events, ","); got != "begin:"+ProgressTitle+",end" {
		t.Errorf("progress events = %s", got)
	}
}

func TestExec_NonZeroExit(t *testing.T) {
	requireShell(t)
	progress := &recordingProgress{}
	r := New(progress, nil)

	out, err := r.Run(context.Background(), `sh -c 'echo partial; echo "error: macro not found" >&2; exit 1'`, t.TempDir())
	if out.Stdout != "" {
		t.Errorf("no partial output should be returned, got %q", out.Stdout)
	}

	var execErr *apperrors.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %T %v, want ExecutionError", err, err)
	}
	if execErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", execErr.ExitCode)
	}
	if !strings.Contains(execErr.Stderr, "error: macro not found") {
		t.Errorf("Stderr = %q", execErr.Stderr)
	}
	if !errors.Is(err, apperrors.ErrToolFailed) {
		t.Error("error should match ErrToolFailed")
	}
	if len(progress.events) != 2 {
		t.Errorf("progress should end after a failure, got %v", progress.events)
	}
}

func TestExec_SpawnFailure(t *testing.T) {
	r := New(nil, nil)

	_, err := r.Run(context.Background(), "definitely-not-a-real-binary-4242 expand", t.TempDir())
	var execErr *apperrors.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %T %v, want ExecutionError", err, err)
	}
	if execErr.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", execErr.ExitCode)
	}
	if !errors.Is(err, apperrors.ErrToolNotStarted) {
		t.Error("error should match ErrToolNotStarted")
	}
}

func TestExec_InvalidCommandLine(t *testing.T) {
	r := New(nil, nil)

	tests := []string{"", "   ", `cargo "expand`}
	for _, command := range tests {
		t.Run(command, func(t *testing.T) {
			_, err := r.Run(context.Background(), command, t.TempDir())
			if !errors.Is(err, apperrors.ErrToolNotStarted) {
				t.Errorf("Run(%q) error = %v, want ErrToolNotStarted", command, err)
			}
		})
	}
}

func TestExec_Deadline(t *testing.T) {
	requireShell(t)
	r := New(nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, "sleep 5", t.TempDir())
	if time.Since(start) > 4*time.Second {
		t.Error("Run should return shortly after the deadline")
	}
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
	if !apperrors.IsRetryable(err) {
		t.Error("timeouts should be retryable")
	}
}

func TestExec_Canceled(t *testing.T) {
	requireShell(t)
	r := New(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, "sleep 5", t.TempDir())
	if !errors.Is(err, apperrors.ErrCanceled) {
		t.Errorf("error = %v, want ErrCanceled", err)
	}
	if errors.Is(err, apperrors.ErrTimeout) {
		t.Error("cancellation is not a timeout")
	}
}
