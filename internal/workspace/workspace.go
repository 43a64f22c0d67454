// Package workspace manages the disposable directories that mirror a crate
// for one expansion session.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/macroexpand/internal/errors"
)

// DefaultPrefix starts every workspace directory name.
const DefaultPrefix = "rust-macro-expand-"

// ErrDisposed is returned by writes to a workspace that has been disposed.
var ErrDisposed = errors.New("workspace has been disposed")

// Workspace is a uniquely named temporary directory. All writes stay inside
// it and Dispose removes the whole tree exactly once.
type Workspace struct {
	fs   afero.Fs
	root string

	mu       sync.RWMutex
	disposed bool

	disposeOnce sync.Once
	disposeErr  error
}

// New creates a directory named <prefix><name>-<random> under parentDir
// (os.TempDir() when empty). name is usually the source file's base name.
func New(fs afero.Fs, parentDir, prefix, name string) (*Workspace, error) {
	if parentDir == "" {
		parentDir = os.TempDir()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := fs.MkdirAll(parentDir, 0755); err != nil {
		return nil, errors.NewResourceError("create workspace parent", err).WithPath(parentDir)
	}
	root, err := afero.TempDir(fs, parentDir, prefix+sanitize(name)+"-")
	if err != nil {
		return nil, errors.NewResourceError("create workspace", err).WithPath(parentDir)
	}
	return &Workspace{fs: fs, root: root}, nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
}

// Path returns the absolute root directory.
func (w *Workspace) Path() string {
	return w.root
}

// Join returns the absolute path of rel inside the workspace without
// touching the filesystem.
func (w *Workspace) Join(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", errors.NewResourceError("resolve workspace path", errors.ErrInvalidInput).WithPath(rel)
	}
	full := filepath.Join(w.root, rel)
	inside, err := filepath.Rel(w.root, full)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", errors.NewResourceError("path escapes workspace", errors.ErrInvalidInput).WithPath(rel)
	}
	return full, nil
}

// MkdirAll creates rel and any missing parents.
func (w *Workspace) MkdirAll(rel string) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.disposed {
		return "", errors.NewResourceError("create directory", ErrDisposed).WithPath(rel)
	}

	full, err := w.Join(rel)
	if err != nil {
		return "", err
	}
	if err := w.fs.MkdirAll(full, 0755); err != nil {
		return "", errors.NewResourceError("create directory", err).WithPath(full)
	}
	return full, nil
}

// CreateFile writes content to rel, creating missing intermediate
// directories, and returns the absolute path of the file.
func (w *Workspace) CreateFile(rel string, content []byte) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.disposed {
		return "", errors.NewResourceError("write file", ErrDisposed).WithPath(rel)
	}

	full, err := w.Join(rel)
	if err != nil {
		return "", err
	}
	if err := w.fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", errors.NewResourceError("create directory", err).WithPath(filepath.Dir(full))
	}
	if err := afero.WriteFile(w.fs, full, content, 0644); err != nil {
		return "", errors.NewResourceError("write file", err).WithPath(full)
	}
	return full, nil
}

// Disposed reports whether Dispose has been called.
func (w *Workspace) Disposed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.disposed
}

// Dispose removes the workspace tree. Only the first call removes anything;
// later calls return the first call's result. It never panics.
func (w *Workspace) Dispose() error {
	w.disposeOnce.Do(func() {
		w.mu.Lock()
		w.disposed = true
		w.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				w.disposeErr = errors.NewResourceError("delete workspace", errors.New("panic during removal")).WithPath(w.root)
			}
		}()
		if err := w.fs.RemoveAll(w.root); err != nil {
			w.disposeErr = errors.NewResourceError("delete workspace", err).WithPath(w.root)
		}
	})
	return w.disposeErr
}
