// Package watch turns filesystem writes to tracked source files into
// document-saved events.
package watch

import (
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/macroexpand/internal/event"
	"github.com/Iron-Ham/macroexpand/internal/logging"
)

// DefaultDebounce coalesces the burst of events editors emit for one save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher watches the parent directories of tracked files and publishes a
// DocumentSavedEvent when a tracked file is written or replaced.
type Watcher struct {
	watcher  *fsnotify.Watcher
	bus      *event.Bus
	logger   *logging.Logger
	debounce time.Duration

	mu      sync.Mutex
	tracked map[string]struct{}
	// dirs counts tracked files per watched directory.
	dirs map[string]int

	subIDs   []string
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a watcher publishing to bus. A debounce of zero uses
// DefaultDebounce.
func New(bus *event.Bus, debounce time.Duration, logger *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		watcher:  fw,
		bus:      bus,
		logger:   logger.WithComponent("watch"),
		debounce: debounce,
		tracked:  make(map[string]struct{}),
		dirs:     make(map[string]int),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Track starts reporting saves of path.
func (w *Watcher) Track(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tracked[path]; ok {
		return nil
	}
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.tracked[path] = struct{}{}
	w.logger.Debug("tracking", "source_path", path)
	return nil
}

// Untrack stops reporting saves of path. The directory watch is dropped
// with its last tracked file.
func (w *Watcher) Untrack(path string) {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tracked[path]; !ok {
		return
	}
	delete(w.tracked, path)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		_ = w.watcher.Remove(dir)
	}
}

// Tracked returns the tracked paths in sorted order.
func (w *Watcher) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.tracked))
	for p := range w.tracked {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

func (w *Watcher) isTracked(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.tracked[filepath.Clean(path)]
	return ok
}

// Start follows session lifecycle events on the bus and begins watching.
// Calling Start more than once has no effect.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.subIDs = append(w.subIDs,
		w.bus.Subscribe(event.TypeSessionCreated, func(e event.Event) {
			created, ok := e.(event.SessionCreatedEvent)
			if !ok {
				return
			}
			if err := w.Track(created.SourcePath); err != nil {
				w.logger.Warn("failed to watch source", "source_path", created.SourcePath, "error", err.Error())
			}
		}),
		w.bus.Subscribe(event.TypeSessionDisposed, func(e event.Event) {
			if disposed, ok := e.(event.SessionDisposedEvent); ok {
				w.Untrack(disposed.SourcePath)
			}
		}),
	)

	go w.watchLoop()
}

// Stop stops watching and releases the underlying watcher. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		for _, id := range w.subIDs {
			w.bus.Unsubscribe(id)
		}
		close(w.stopCh)

		w.mu.Lock()
		started := w.started
		w.mu.Unlock()
		if started {
			<-w.done
		}
		_ = w.watcher.Close()
	})
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	timer := time.NewTimer(0)
	<-timer.C
	pending := make(map[string]struct{})

	for {
		select {
		case <-w.stopCh:
			timer.Stop()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Editors that save atomically replace the file, which shows up
			// as a create of the tracked name.
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !w.isTracked(ev.Name) {
				continue
			}
			pending[filepath.Clean(ev.Name)] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)

			for _, p := range paths {
				if !w.isTracked(p) {
					continue
				}
				w.logger.Debug("save detected", "source_path", p)
				w.bus.Publish(event.NewDocumentSavedEvent(p))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err.Error())
		}
	}
}
