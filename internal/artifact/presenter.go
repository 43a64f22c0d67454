package artifact

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/kballard/go-shellquote"

	"github.com/Iron-Ham/macroexpand/internal/runner"
)

// Presenter brings artifacts into view and closes them again.
type Presenter interface {
	// Show presents path. focus brings it to front; otherwise an existing
	// view is only refreshed.
	Show(ctx context.Context, path string, focus bool) error
	// Close closes a view of path that Show opened. Unknown paths are ignored.
	Close(ctx context.Context, path string) error
}

// openSet tracks the artifacts a presenter has shown.
type openSet struct {
	mu    sync.Mutex
	paths map[string]bool
}

func (s *openSet) add(path string) (added bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paths == nil {
		s.paths = make(map[string]bool)
	}
	if s.paths[path] {
		return false
	}
	s.paths[path] = true
	return true
}

func (s *openSet) remove(path string) (removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paths[path] {
		return false
	}
	delete(s.paths, path)
	return true
}

func (s *openSet) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[path]
}

// WriterPresenter reports artifacts on a writer, printing either the path
// or, with ShowContent, the artifact text.
type WriterPresenter struct {
	mu          sync.Mutex
	w           io.Writer
	showContent bool
	read        func(path string) ([]byte, error)
	open        openSet
}

// NewWriterPresenter creates a presenter that prints to w. When read is
// non-nil the artifact content is printed on focus instead of its path.
func NewWriterPresenter(w io.Writer, read func(path string) ([]byte, error)) *WriterPresenter {
	return &WriterPresenter{w: w, read: read, showContent: read != nil}
}

// Show implements Presenter.
func (p *WriterPresenter) Show(_ context.Context, path string, focus bool) error {
	first := p.open.add(path)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !focus && !first {
		_, err := fmt.Fprintf(p.w, "updated %s\n", path)
		return err
	}
	if p.showContent {
		content, err := p.read(path)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.w, "==> %s <==\n%s\n", path, content)
		return err
	}
	_, err := fmt.Fprintf(p.w, "expanded %s\n", path)
	return err
}

// Close implements Presenter.
func (p *WriterPresenter) Close(_ context.Context, path string) error {
	if !p.open.remove(path) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "closed %s\n", path)
	return err
}

// IsOpen reports whether path is currently shown.
func (p *WriterPresenter) IsOpen(path string) bool {
	return p.open.has(path)
}

// CommandPresenter opens artifacts with an external viewer command, run
// with the artifact path appended. Refreshes without focus rely on the
// viewer reloading the file and run nothing.
type CommandPresenter struct {
	command string
	runner  runner.Runner
	open    openSet
}

// NewCommandPresenter creates a presenter that runs command through r.
func NewCommandPresenter(command string, r runner.Runner) *CommandPresenter {
	return &CommandPresenter{command: command, runner: r}
}

// Show implements Presenter.
func (p *CommandPresenter) Show(ctx context.Context, path string, focus bool) error {
	first := p.open.add(path)
	if !focus && !first {
		return nil
	}
	_, err := p.runner.Run(ctx, p.command+" "+shellquote.Join(path), "")
	return err
}

// Close implements Presenter. External viewers own their windows, so
// closing only forgets the artifact.
func (p *CommandPresenter) Close(_ context.Context, path string) error {
	p.open.remove(path)
	return nil
}
