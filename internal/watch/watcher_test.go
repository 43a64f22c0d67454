package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/macroexpand/internal/event"
)

type savedRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *savedRecorder) handle(e event.Event) {
	if saved, ok := e.(event.DocumentSavedEvent); ok {
		r.mu.Lock()
		r.paths = append(r.paths, saved.Path)
		r.mu.Unlock()
	}
}

func (r *savedRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func newTestWatcher(t *testing.T) (*Watcher, *event.Bus, *savedRecorder) {
	t.Helper()
	bus := event.NewBus(nil)
	rec := &savedRecorder{}
	bus.Subscribe(event.TypeDocumentSaved, rec.handle)

	w, err := New(bus, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w.Start()
	t.Cleanup(w.Stop)
	return w, bus, rec
}

func writeSource(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func waitForSaves(t *testing.T, rec *savedRecorder, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := rec.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d save event(s), got %v", n, rec.snapshot())
	return nil
}

func TestWatcher_PublishesSaves(t *testing.T) {
	w, _, rec := newTestWatcher(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "lib.rs")
	writeSource(t, src, "")

	if err := w.Track(src); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	writeSource(t, src, "fn a() {}")

	got := waitForSaves(t, rec, 1)
	if got[0] != src {
		t.Errorf("saved path = %q, want %q", got[0], src)
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	w, _, rec := newTestWatcher(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "lib.rs")
	writeSource(t, src, "")
	if err := w.Track(src); err != nil {
		t.Fatal(err)
	}

	for i := range 5 {
		writeSource(t, src, string(rune('a'+i)))
	}
	waitForSaves(t, rec, 1)
	time.Sleep(200 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("a burst of writes produced %d events, want 1", len(got))
	}
}

func TestWatcher_IgnoresUntrackedFiles(t *testing.T) {
	w, _, rec := newTestWatcher(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "lib.rs")
	other := filepath.Join(dir, "other.rs")
	writeSource(t, src, "")
	if err := w.Track(src); err != nil {
		t.Fatal(err)
	}

	writeSource(t, other, "fn b() {}")
	writeSource(t, src, "fn a() {}")

	waitForSaves(t, rec, 1)
	time.Sleep(150 * time.Millisecond)
	for _, p := range rec.snapshot() {
		if p != src {
			t.Errorf("unexpected save event for %q", p)
		}
	}
}

func TestWatcher_FollowsSessionEvents(t *testing.T) {
	w, bus, rec := newTestWatcher(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "main.rs")
	writeSource(t, src, "")

	bus.Publish(event.NewSessionCreatedEvent("s1", src, "/tmp/ws", "/tmp/ws/src/main.rs"))
	if tracked := w.Tracked(); len(tracked) != 1 || tracked[0] != src {
		t.Fatalf("Tracked() = %v after session.created", tracked)
	}

	writeSource(t, src, "fn main() {}")
	waitForSaves(t, rec, 1)

	bus.Publish(event.NewSessionDisposedEvent("s1", src, nil))
	if tracked := w.Tracked(); len(tracked) != 0 {
		t.Fatalf("Tracked() = %v after session.disposed", tracked)
	}

	before := len(rec.snapshot())
	writeSource(t, src, "fn main() { 1 }")
	time.Sleep(200 * time.Millisecond)
	if len(rec.snapshot()) != before {
		t.Error("untracked file should not produce save events")
	}
}

func TestWatcher_SharedDirectory(t *testing.T) {
	w, _, _ := newTestWatcher(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.rs")
	b := filepath.Join(dir, "b.rs")

	for _, p := range []string{a, b, a} {
		if err := w.Track(p); err != nil {
			t.Fatal(err)
		}
	}
	if got := w.dirs[dir]; got != 2 {
		t.Errorf("directory refcount = %d, want 2", got)
	}
	w.Untrack(a)
	if got := w.dirs[dir]; got != 1 {
		t.Errorf("directory refcount = %d, want 1", got)
	}
	w.Untrack(b)
	if _, ok := w.dirs[dir]; ok {
		t.Error("directory should no longer be watched")
	}
	w.Untrack(b)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	bus := event.NewBus(nil)
	w, err := New(bus, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if w.debounce != DefaultDebounce {
		t.Errorf("debounce = %v, want default", w.debounce)
	}
	w.Start()
	w.Stop()
	w.Stop()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("Stop should unsubscribe, %d subscriptions remain", bus.SubscriptionCount())
	}
}

func TestWatcher_TrackMissingDirectory(t *testing.T) {
	w, _, _ := newTestWatcher(t)
	if err := w.Track(filepath.Join(t.TempDir(), "missing", "lib.rs")); err == nil {
		t.Error("Track() of a file in a missing directory should fail")
	}
	if len(w.Tracked()) != 0 {
		t.Error("failed Track must not record the path")
	}
}
