// Package session tracks one expansion session per source document and ties
// each session's workspace, registry entry and artifact to the document's
// lifecycle.
package session

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/Iron-Ham/macroexpand/internal/artifact"
	"github.com/Iron-Ham/macroexpand/internal/config"
	"github.com/Iron-Ham/macroexpand/internal/crate"
	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/event"
	"github.com/Iron-Ham/macroexpand/internal/logging"
	"github.com/Iron-Ham/macroexpand/internal/manifest"
	"github.com/Iron-Ham/macroexpand/internal/notify"
	"github.com/Iron-Ham/macroexpand/internal/registry"
	"github.com/Iron-Ham/macroexpand/internal/workspace"
)

// Config holds the collaborators of a Store. Renderer is required; it
// should present through the same Presenter given here.
type Config struct {
	Renderer  *artifact.Renderer
	Presenter artifact.Presenter
	Registry  registry.Registry
	Notifier  notify.Notifier
	Bus       *event.Bus
	Fs        afero.Fs
	Logger    *logging.Logger

	// Tool and Flags build commands for ExpandFile.
	Tool  string
	Flags string

	// TempDir is the parent of all workspaces ("" uses os.TempDir()).
	TempDir string
	// Prefix starts every workspace name.
	Prefix string
	// Timeout bounds each render; 0 disables it.
	Timeout time.Duration

	Settings config.Settings
}

// Store is the table of live sessions keyed by source path. It creates
// sessions on demand, re-renders them on save and disposes them on close.
type Store struct {
	renderer  *artifact.Renderer
	presenter artifact.Presenter
	registry  registry.Registry
	notifier  notify.Notifier
	bus       *event.Bus
	fs        afero.Fs
	logger    *logging.Logger
	tool      string
	flags     string
	tempDir   string
	prefix    string
	timeout   time.Duration

	settings atomic.Pointer[config.Settings]
	creating singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Handle
	// pending holds keys being bootstrapped; true once a close arrived for one.
	pending map[string]bool
	closed  bool

	subMu      sync.Mutex
	subscribed *event.Bus
	subIDs     []string

	handlers sync.WaitGroup
}

// NewStore creates an empty Store.
func NewStore(cfg Config) *Store {
	s := &Store{
		renderer:  cfg.Renderer,
		presenter: cfg.Presenter,
		registry:  cfg.Registry,
		notifier:  cfg.Notifier,
		bus:       cfg.Bus,
		fs:        cfg.Fs,
		logger:    cfg.Logger,
		tool:      cfg.Tool,
		flags:     cfg.Flags,
		tempDir:   cfg.TempDir,
		prefix:    cfg.Prefix,
		timeout:   cfg.Timeout,
		sessions:  make(map[string]*Handle),
		pending:   make(map[string]bool),
	}
	if s.registry == nil {
		s.registry = registry.NewMemory()
	}
	if s.notifier == nil {
		s.notifier = notify.Discard{}
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.logger == nil {
		s.logger = logging.NopLogger()
	}
	if s.tool == "" {
		s.tool = "cargo expand"
	}
	s.logger = s.logger.WithComponent("session")
	s.ApplySettings(cfg.Settings)
	return s
}

// Settings returns the current settings snapshot.
func (s *Store) Settings() config.Settings {
	return *s.settings.Load()
}

// ApplySettings replaces the settings snapshot. Renders already running keep
// the snapshot they started with.
func (s *Store) ApplySettings(settings config.Settings) {
	s.settings.Store(&settings)
}

// key makes path absolute so every spelling of a document maps to one session.
func key(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

func (s *Store) lookup(path string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[key(path)]
}

// Get returns the session tracking path.
func (s *Store) Get(path string) (Info, error) {
	h := s.lookup(path)
	if h == nil {
		return Info{}, errors.NewNotFoundError("session", path)
	}
	return h.Info(), nil
}

// Sessions returns a snapshot of all live sessions ordered by source path.
func (s *Store) Sessions() []Info {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.sessions))
	for _, h := range s.sessions {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	infos := make([]Info, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	slices.SortFunc(infos, func(a, b Info) int { return strings.Compare(a.SourcePath, b.SourcePath) })
	return infos
}

// ExpandFile resolves sourcePath to its crate and command, announces the
// expansion and calls Expand.
func (s *Store) ExpandFile(ctx context.Context, sourcePath string) (Info, error) {
	target, err := crate.Resolve(sourcePath, s.tool, s.flags)
	if err != nil {
		s.notifier.Error(errors.UserMessage(err))
		return Info{}, err
	}
	s.notifier.Info("Running expand on: " + target.PackageName)
	return s.Expand(ctx, target.CrateDir, target.Command, target.SourcePath)
}

// Expand finds or creates the session for sourcePath and renders it with
// focus. An existing session keeps the command it was created with. If the
// document is closed while its session is being created, the session is
// disposed and ErrSessionDisposed is returned.
func (s *Store) Expand(ctx context.Context, crateDir, command, sourcePath string) (Info, error) {
	h, err := s.findOrCreate(ctx, key(crateDir), command, sourcePath)
	if err != nil {
		return Info{}, err
	}
	if _, err := h.render(ctx, s.renderer, s.Settings(), true, event.TriggerExpand, s.timeout); err != nil {
		return h.Info(), err
	}
	return h.Info(), nil
}

// findOrCreate returns the live session for sourcePath, creating it when
// absent. Concurrent calls for the same path share a single creation.
func (s *Store) findOrCreate(ctx context.Context, crateDir, command, sourcePath string) (*Handle, error) {
	k := key(sourcePath)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.ErrStoreClosed
	}
	if h, ok := s.sessions[k]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	v, err, _ := s.creating.Do(k, func() (any, error) {
		s.mu.Lock()
		if h, ok := s.sessions[k]; ok {
			s.mu.Unlock()
			return h, nil
		}
		s.pending[k] = false
		s.mu.Unlock()

		h, err := s.create(ctx, crateDir, command, k)

		s.mu.Lock()
		closedEarly := s.pending[k]
		delete(s.pending, k)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		if s.closed {
			s.mu.Unlock()
			_ = h.dispose(ctx, s.registry, nil)
			return nil, errors.ErrStoreClosed
		}
		if !closedEarly {
			s.sessions[k] = h
		}
		s.mu.Unlock()

		s.logger.WithSession(h.id).Info("session created",
			"source_path", h.sourcePath,
			"workspace", h.ws.Path(),
			"command", h.command)
		s.publish(event.NewSessionCreatedEvent(h.id, h.sourcePath, h.ws.Path(), h.artifactPath))
		if closedEarly {
			s.logger.WithSession(h.id).Info("document closed during creation", "source_path", h.sourcePath)
			_ = s.dispose(ctx, h)
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// create bootstraps a workspace for sourcePath. On any failure everything it
// acquired is released and no handle is returned.
func (s *Store) create(ctx context.Context, crateDir, command, sourcePath string) (_ *Handle, err error) {
	ws, err := workspace.New(s.fs, s.tempDir, s.prefix, filepath.Base(sourcePath))
	if err != nil {
		return nil, err
	}

	artifactRel := mirrorPath(crateDir, sourcePath)
	h := newHandle(uuid.NewString(), sourcePath, crateDir, command, ws,
		filepath.Join(ws.Path(), artifactRel),
		filepath.Join(ws.Path(), manifest.FileName))

	defer func() {
		if err != nil {
			if releaseErr := h.dispose(ctx, s.registry, nil); releaseErr != nil {
				s.logger.Error("failed to release partial session", "source_path", sourcePath, "error", releaseErr.Error())
			}
		}
	}()

	if err := ws.WriteOwner(workspace.CurrentOwner(sourcePath)); err != nil {
		return nil, err
	}
	if _, err := ws.MkdirAll(filepath.Dir(artifactRel)); err != nil {
		return nil, err
	}

	source := filepath.Join(crateDir, manifest.FileName)
	data, err := afero.ReadFile(s.fs, source)
	if err != nil {
		return nil, errors.NewResourceError("read manifest", err).WithPath(source)
	}
	rewritten, err := manifest.RewriteLocalPaths(data, crateDir)
	if err != nil {
		return nil, err
	}
	if _, err := ws.CreateFile(manifest.FileName, rewritten); err != nil {
		return nil, err
	}
	if _, err := ws.CreateFile(artifactRel, nil); err != nil {
		return nil, err
	}

	if err := s.registry.Add(h.manifestPath); err != nil {
		return nil, errors.NewResourceError("register manifest", err).WithPath(h.manifestPath)
	}
	h.mu.Lock()
	h.registered = true
	h.mu.Unlock()

	return h, nil
}

// mirrorPath places the artifact at the source's location relative to
// <crate>/src. Sources outside src land directly in the workspace src.
func mirrorPath(crateDir, sourcePath string) string {
	rel, err := filepath.Rel(filepath.Join(crateDir, "src"), sourcePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		rel = filepath.Base(sourcePath)
	}
	return filepath.Join("src", rel)
}

// DocumentSaved re-renders the session for path without focus when
// expand-on-save is enabled. Untracked paths are ignored.
func (s *Store) DocumentSaved(ctx context.Context, path string) error {
	settings := s.Settings()
	if !settings.ExpandOnSave {
		return nil
	}
	h := s.lookup(path)
	if h == nil {
		return nil
	}
	_, err := h.render(ctx, s.renderer, settings, false, event.TriggerSave, s.timeout)
	if errors.Is(err, errors.ErrSessionDisposed) {
		return nil
	}
	return err
}

// DocumentClosed disposes the session for path, if any: the in-flight render
// is cancelled, the session leaves the table, its manifest is unregistered,
// its artifact view is closed and its workspace is deleted. A close for a
// session still being created disposes it as soon as creation finishes.
func (s *Store) DocumentClosed(ctx context.Context, path string) error {
	k := key(path)
	s.mu.Lock()
	h, ok := s.sessions[k]
	if ok {
		delete(s.sessions, k)
	} else if _, creating := s.pending[k]; creating {
		s.pending[k] = true
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.dispose(ctx, h)
}

func (s *Store) dispose(ctx context.Context, h *Handle) error {
	err := h.dispose(ctx, s.registry, s.presenter)
	logger := s.logger.WithSession(h.id)
	if err != nil {
		logger.Error("session disposed with errors", "source_path", h.sourcePath, "error", err.Error())
	} else {
		logger.Info("session disposed", "source_path", h.sourcePath)
	}
	s.publish(event.NewSessionDisposedEvent(h.id, h.sourcePath, err))
	return err
}

func (s *Store) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// Subscribe wires document and settings notifications from bus into the
// store. Document notifications are handled on tracked goroutines so
// publishers are never blocked by a render; Wait blocks until they finish.
func (s *Store) Subscribe(bus *event.Bus) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.subscribed = bus
	s.subIDs = append(s.subIDs,
		bus.Subscribe(event.TypeDocumentSaved, func(e event.Event) {
			saved, ok := e.(event.DocumentSavedEvent)
			if !ok {
				return
			}
			s.track(func() {
				if err := s.DocumentSaved(context.Background(), saved.Path); err != nil {
					s.logger.Error("save render failed", "source_path", saved.Path, "error", err.Error())
				}
			})
		}),
		bus.Subscribe(event.TypeDocumentClosed, func(e event.Event) {
			closed, ok := e.(event.DocumentClosedEvent)
			if !ok {
				return
			}
			s.track(func() {
				_ = s.DocumentClosed(context.Background(), closed.Path)
			})
		}),
		bus.Subscribe(event.TypeSettingsChanged, func(e event.Event) {
			if changed, ok := e.(event.SettingsChangedEvent); ok {
				s.ApplySettings(changed.Settings)
				s.logger.Debug("settings applied")
			}
		}),
	)
}

// track runs fn on a goroutine counted by Wait, unless the store is closed.
func (s *Store) track(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.handlers.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.handlers.Done()
		fn()
	}()
}

// Wait blocks until all notification handlers started so far have returned.
func (s *Store) Wait() {
	s.handlers.Wait()
}

// Close disposes every session and stops handling notifications. It is
// safe to call more than once.
func (s *Store) Close(ctx context.Context) error {
	s.subMu.Lock()
	if s.subscribed != nil {
		for _, id := range s.subIDs {
			s.subscribed.Unsubscribe(id)
		}
		s.subscribed, s.subIDs = nil, nil
	}
	s.subMu.Unlock()

	s.mu.Lock()
	s.closed = true
	handles := make([]*Handle, 0, len(s.sessions))
	for k, h := range s.sessions {
		handles = append(handles, h)
		delete(s.sessions, k)
	}
	s.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := s.dispose(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	s.handlers.Wait()
	return errors.Join(errs...)
}
