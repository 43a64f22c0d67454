// Package cleanup finds and removes workspaces left behind by processes that
// exited without disposing their sessions.
package cleanup

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/workspace"
)

// Reason explains why a workspace is considered stale.
type Reason string

const (
	ReasonNoOwner     Reason = "no owner record"
	ReasonBadOwner    Reason = "unreadable owner record"
	ReasonOwnerExited Reason = "owner process exited"
)

// StaleWorkspace is a workspace whose owner is gone.
type StaleWorkspace struct {
	Path   string           `json:"path"`
	Reason Reason           `json:"reason"`
	Owner  *workspace.Owner `json:"owner,omitempty"`
}

// ManifestPath is the registry entry the workspace may have left behind.
func (s StaleWorkspace) ManifestPath() string {
	return filepath.Join(s.Path, "Cargo.toml")
}

// processAlive is replaced in tests.
var processAlive = isProcessAlive

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 checks existence without affecting the process.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Scan lists the directories in dir whose names start with prefix and
// returns those that are stale. Workspaces owned by a live process, or by a
// process on another host, are never reported.
func Scan(fs afero.Fs, dir, prefix string) ([]StaleWorkspace, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.NewResourceError("scan workspaces", err).WithPath(dir)
	}

	hostname, _ := os.Hostname()
	var stale []StaleWorkspace
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		owner, err := workspace.ReadOwner(fs, path)
		switch {
		case os.IsNotExist(err):
			stale = append(stale, StaleWorkspace{Path: path, Reason: ReasonNoOwner})
		case err != nil:
			stale = append(stale, StaleWorkspace{Path: path, Reason: ReasonBadOwner})
		case owner.Hostname != "" && hostname != "" && owner.Hostname != hostname:
			continue
		case !processAlive(owner.PID):
			stale = append(stale, StaleWorkspace{Path: path, Reason: ReasonOwnerExited, Owner: &owner})
		}
	}

	slices.SortFunc(stale, func(a, b StaleWorkspace) int { return strings.Compare(a.Path, b.Path) })
	return stale, nil
}
