package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/macroexpand/internal/errors"
)

// OwnerFileName is the record identifying the process that owns a workspace.
const OwnerFileName = ".macroexpand-owner.json"

// Owner identifies the process that created a workspace, so workspaces left
// behind by a crashed process can be recognised and removed.
type Owner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	StartedAt  time.Time `json:"started_at"`
	SourcePath string    `json:"source_path"`
}

// CurrentOwner describes this process as the owner of a workspace for sourcePath.
func CurrentOwner(sourcePath string) Owner {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return Owner{
		PID:        os.Getpid(),
		Hostname:   hostname,
		StartedAt:  time.Now(),
		SourcePath: sourcePath,
	}
}

// WriteOwner records owner in the workspace.
func (w *Workspace) WriteOwner(owner Owner) error {
	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		return errors.NewResourceError("encode owner record", err)
	}
	_, err = w.CreateFile(OwnerFileName, data)
	return err
}

// ReadOwner reads the owner record of the workspace at dir.
func ReadOwner(fs afero.Fs, dir string) (Owner, error) {
	var owner Owner
	data, err := afero.ReadFile(fs, filepath.Join(dir, OwnerFileName))
	if err != nil {
		return owner, err
	}
	if err := json.Unmarshal(data, &owner); err != nil {
		return owner, errors.Wrap(err, "invalid owner record")
	}
	return owner, nil
}
