// Package internal contains tests that exercise several packages together:
// the event bus, the session store, the file watcher and the render history.
package internal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/macroexpand/internal/artifact"
	"github.com/Iron-Ham/macroexpand/internal/config"
	"github.com/Iron-Ham/macroexpand/internal/event"
	"github.com/Iron-Ham/macroexpand/internal/history"
	"github.com/Iron-Ham/macroexpand/internal/notify"
	"github.com/Iron-Ham/macroexpand/internal/registry"
	"github.com/Iron-Ham/macroexpand/internal/session"
	"github.com/Iron-Ham/macroexpand/internal/testutil"
	"github.com/Iron-Ham/macroexpand/internal/watch"
)

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) record(e event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestSessionLifecycle drives one source file through expand, an on-disk
// save picked up by the watcher, and close, checking that every component
// sees the same lifecycle.
func TestSessionLifecycle(t *testing.T) {
	crateDir := testutil.SetupCrate(t, "demo", map[string]string{
		"src/lib.rs":    "pub mod parser;",
		"src/parser.rs": "#[derive(Debug)] pub struct Token;",
		"Cargo.toml":    "[package]\nname = \"demo\"\nversion = \"0.1.0\"\n",
	})
	source := filepath.Join(crateDir, "src", "parser.rs")
	tempDir := t.TempDir()

	bus := event.NewBus(nil)
	log := &eventLog{}
	bus.SubscribeAll(log.record)

	hist, err := history.Open(filepath.Join(t.TempDir(), "history.sqlite"), nil)
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	defer func() { _ = hist.Close() }()
	hist.Subscribe(bus)

	run := testutil.NewScriptedRunner(
		testutil.Succeed("pub struct Token;\n"),
		testutil.Succeed("pub struct Token;\nimpl Debug for Token {}\n"),
	)
	var out bytes.Buffer
	presenter := artifact.NewWriterPresenter(&out, nil)
	reg := registry.NewMemory()
	notifier := &notify.Recorder{}

	store := session.NewStore(session.Config{
		Renderer:  artifact.NewRenderer(run, presenter, artifact.WithBus(bus)),
		Presenter: presenter,
		Registry:  reg,
		Notifier:  notifier,
		Bus:       bus,
		Fs:        afero.NewOsFs(),
		Tool:      "cargo expand",
		TempDir:   tempDir,
		Prefix:    "rust-macro-expand-",
		Settings:  config.DefaultSettings(),
	})
	store.Subscribe(bus)

	watcher, err := watch.New(bus, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("watch.New() error = %v", err)
	}
	watcher.Start()
	defer watcher.Stop()

	ctx := context.Background()
	info, err := store.ExpandFile(ctx, source)
	if err != nil {
		t.Fatalf("ExpandFile() error = %v", err)
	}
	if !info.LastOK {
		t.Fatal("first render should succeed")
	}
	if got := watcher.Tracked(); len(got) != 1 || got[0] != source {
		t.Fatalf("Tracked() = %v, want [%s]", got, source)
	}
	if names, _ := reg.List(); len(names) != 1 {
		t.Errorf("registry has %d manifests, want 1", len(names))
	}

	if err := os.WriteFile(source, []byte("#[derive(Debug, Clone)] pub struct Token;"), 0644); err != nil {
		t.Fatal(err)
	}
	eventually(t, "save render", func() bool { return log.count(event.TypeArtifactRendered) >= 2 })
	store.Wait()

	artifactBody, err := os.ReadFile(info.ArtifactPath)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if !strings.Contains(string(artifactBody), "impl Debug for Token") {
		t.Errorf("artifact was not re-rendered:\n%s", artifactBody)
	}

	entries, err := hist.ForSource(ctx, source, 10)
	if err != nil {
		t.Fatalf("ForSource() error = %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("history has %d entries, want at least 2", len(entries))
	}
	triggers := map[event.Trigger]bool{}
	for _, e := range entries {
		triggers[e.Trigger] = e.OK
	}
	if !triggers[event.TriggerExpand] || !triggers[event.TriggerSave] {
		t.Errorf("history triggers = %v, want successful expand and save", triggers)
	}

	bus.Publish(event.NewDocumentClosedEvent(source))
	eventually(t, "dispose", func() bool { return log.count(event.TypeSessionDisposed) == 1 })
	store.Wait()

	if _, err := os.Stat(info.WorkspaceDir); !os.IsNotExist(err) {
		t.Errorf("workspace %s still exists (stat err = %v)", info.WorkspaceDir, err)
	}
	if got := watcher.Tracked(); len(got) != 0 {
		t.Errorf("Tracked() after close = %v, want none", got)
	}
	if names, _ := reg.List(); len(names) != 0 {
		t.Errorf("registry still lists %v", names)
	}
	if len(store.Sessions()) != 0 {
		t.Error("store should be empty after close")
	}
	if err := store.Close(ctx); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// TestSettingsChangeStopsSaveRenders checks that a settings event published
// on the bus takes effect before the next save is handled.
func TestSettingsChangeStopsSaveRenders(t *testing.T) {
	crateDir := testutil.SetupCrate(t, "demo", map[string]string{
		"src/lib.rs": "",
		"Cargo.toml": "[package]\nname = \"demo\"\nversion = \"0.1.0\"\n",
	})
	source := filepath.Join(crateDir, "src", "lib.rs")

	bus := event.NewBus(nil)
	run := testutil.NewScriptedRunner()
	presenter := artifact.NewWriterPresenter(&bytes.Buffer{}, nil)
	store := session.NewStore(session.Config{
		Renderer:  artifact.NewRenderer(run, presenter),
		Presenter: presenter,
		Bus:       bus,
		TempDir:   t.TempDir(),
		Prefix:    "rust-macro-expand-",
		Settings:  config.DefaultSettings(),
	})
	store.Subscribe(bus)
	defer func() { _ = store.Close(context.Background()) }()

	if _, err := store.ExpandFile(context.Background(), source); err != nil {
		t.Fatalf("ExpandFile() error = %v", err)
	}

	settings := config.DefaultSettings()
	settings.ExpandOnSave = false
	bus.Publish(event.NewSettingsChangedEvent(settings))
	bus.Publish(event.NewDocumentSavedEvent(source))
	store.Wait()

	if got := len(run.Calls()); got != 1 {
		t.Errorf("runner called %d times, want 1", got)
	}
}
