package cleanup

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/logging"
	"github.com/Iron-Ham/macroexpand/internal/registry"
)

// Results is the outcome of a Remove.
type Results struct {
	Removed      int      `json:"removed"`
	Unregistered int      `json:"unregistered"`
	Errors       []string `json:"errors,omitempty"`
}

// Remover deletes stale workspaces and their registry entries.
type Remover struct {
	fs       afero.Fs
	registry registry.Registry
	logger   *logging.Logger
}

// NewRemover creates a Remover. reg and logger may be nil.
func NewRemover(fs afero.Fs, reg registry.Registry, logger *logging.Logger) *Remover {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Remover{fs: fs, registry: reg, logger: logger.WithComponent("cleanup")}
}

// Remove deletes every workspace in stale and unregisters its manifest.
// Failures are collected and do not stop the remaining removals.
func (r *Remover) Remove(ctx context.Context, stale []StaleWorkspace) (*Results, error) {
	results := &Results{}

	var linked map[string]bool
	if r.registry != nil {
		entries, err := r.registry.List()
		if err != nil {
			return nil, errors.NewResourceError("list registry", err)
		}
		linked = make(map[string]bool, len(entries))
		for _, e := range entries {
			linked[filepath.Clean(e)] = true
		}
	}

	for _, s := range stale {
		if err := ctx.Err(); err != nil {
			return results, errors.Wrap(errors.ErrCanceled, err.Error())
		}

		if linked[s.ManifestPath()] {
			if err := r.registry.Remove(s.ManifestPath()); err != nil {
				results.Errors = append(results.Errors, fmt.Sprintf("failed to unregister %s: %v", s.ManifestPath(), err))
			} else {
				results.Unregistered++
			}
		}

		if err := r.fs.RemoveAll(s.Path); err != nil {
			results.Errors = append(results.Errors, fmt.Sprintf("failed to remove %s: %v", filepath.Base(s.Path), err))
			continue
		}
		results.Removed++
		r.logger.Info("stale workspace removed", "path", s.Path, "reason", string(s.Reason))
	}

	return results, nil
}
