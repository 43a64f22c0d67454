package session

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/macroexpand/internal/artifact"
	"github.com/Iron-Ham/macroexpand/internal/config"
	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/event"
	"github.com/Iron-Ham/macroexpand/internal/registry"
	"github.com/Iron-Ham/macroexpand/internal/workspace"
)

// Info is a snapshot of one session.
type Info struct {
	ID           string    `json:"id"`
	SourcePath   string    `json:"source_path"`
	CrateDir     string    `json:"crate_dir"`
	Command      string    `json:"command"`
	WorkspaceDir string    `json:"workspace_dir"`
	ArtifactPath string    `json:"artifact_path"`
	ManifestPath string    `json:"manifest_path"`
	CreatedAt    time.Time `json:"created_at"`
	Renders      int       `json:"renders"`
	LastOK       bool      `json:"last_ok"`
	LastRenderAt time.Time `json:"last_render_at,omitzero"`
}

// Handle binds one source document to its workspace, its command and its
// artifact. The command is fixed when the handle is created. The handle
// exclusively owns its workspace.
type Handle struct {
	id           string
	sourcePath   string
	crateDir     string
	command      string
	ws           *workspace.Workspace
	artifactPath string
	manifestPath string
	createdAt    time.Time

	// ctx is cancelled on dispose, aborting an in-flight render.
	ctx    context.Context
	cancel context.CancelFunc

	// renderMu serializes renders of this handle.
	renderMu sync.Mutex

	mu           sync.Mutex
	disposed     bool
	registered   bool
	renders      int
	lastOK       bool
	lastRenderAt time.Time

	disposeOnce sync.Once
	disposeErr  error
}

func newHandle(id, sourcePath, crateDir, command string, ws *workspace.Workspace, artifactPath, manifestPath string) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		id:           id,
		sourcePath:   sourcePath,
		crateDir:     crateDir,
		command:      command,
		ws:           ws,
		artifactPath: artifactPath,
		manifestPath: manifestPath,
		createdAt:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// ID returns the session ID.
func (h *Handle) ID() string { return h.id }

// SourcePath returns the tracked document path.
func (h *Handle) SourcePath() string { return h.sourcePath }

// Command returns the command bound at creation.
func (h *Handle) Command() string { return h.command }

// ArtifactPath returns the generated artifact location.
func (h *Handle) ArtifactPath() string { return h.artifactPath }

// ManifestPath returns the workspace Cargo.toml location.
func (h *Handle) ManifestPath() string { return h.manifestPath }

// Info returns a snapshot of the handle.
func (h *Handle) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{
		ID:           h.id,
		SourcePath:   h.sourcePath,
		CrateDir:     h.crateDir,
		Command:      h.command,
		WorkspaceDir: h.ws.Path(),
		ArtifactPath: h.artifactPath,
		ManifestPath: h.manifestPath,
		CreatedAt:    h.createdAt,
		Renders:      h.renders,
		LastOK:       h.lastOK,
		LastRenderAt: h.lastRenderAt,
	}
}

func (h *Handle) isDisposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

// render runs one render while holding the render lock. The run is bound to
// both ctx and the handle's lifetime, and to timeout when non-zero.
func (h *Handle) render(ctx context.Context, r *artifact.Renderer, settings config.Settings, focus bool, trigger event.Trigger, timeout time.Duration) (artifact.Result, error) {
	h.renderMu.Lock()
	defer h.renderMu.Unlock()

	if h.isDisposed() {
		return artifact.Result{}, errors.ErrSessionDisposed
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	result, err := r.Render(runCtx, artifact.Job{
		SessionID:    h.id,
		SourcePath:   h.sourcePath,
		CrateDir:     h.crateDir,
		Command:      h.command,
		ArtifactPath: h.artifactPath,
		Trigger:      trigger,
	}, settings, focus)

	h.mu.Lock()
	h.renders++
	h.lastOK = result.OK && err == nil
	h.lastRenderAt = result.StartedAt
	h.mu.Unlock()

	return result, err
}

// dispose cancels any in-flight render, waits for it to finish, then
// releases the registry entry, the artifact view and the workspace. Only
// the first call does anything.
func (h *Handle) dispose(ctx context.Context, reg registry.Registry, presenter artifact.Presenter) error {
	h.disposeOnce.Do(func() {
		h.cancel()

		h.renderMu.Lock()
		h.mu.Lock()
		h.disposed = true
		registered := h.registered
		h.mu.Unlock()
		h.renderMu.Unlock()

		var errs []error
		if registered && reg != nil {
			if err := reg.Remove(h.manifestPath); err != nil {
				errs = append(errs, errors.NewResourceError("unregister manifest", err).WithPath(h.manifestPath))
			}
		}
		if presenter != nil {
			if err := presenter.Close(ctx, h.artifactPath); err != nil {
				errs = append(errs, errors.NewResourceError("close artifact", err).WithPath(h.artifactPath))
			}
		}
		if err := h.ws.Dispose(); err != nil {
			errs = append(errs, err)
		}
		h.disposeErr = errors.Join(errs...)
	})
	return h.disposeErr
}
