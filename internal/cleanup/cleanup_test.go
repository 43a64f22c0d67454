package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/macroexpand/internal/registry"
	"github.com/Iron-Ham/macroexpand/internal/workspace"
)

const prefix = "rust-macro-expand-"

func stubLiveness(t *testing.T, alive map[int]bool) {
	t.Helper()
	orig := processAlive
	processAlive = func(pid int) bool { return alive[pid] }
	t.Cleanup(func() { processAlive = orig })
}

func makeWorkspace(t *testing.T, fs afero.Fs, dir, name string, owner *workspace.Owner) string {
	t.Helper()
	ws, err := workspace.New(fs, dir, prefix, name)
	if err != nil {
		t.Fatal(err)
	}
	if owner != nil {
		if err := ws.WriteOwner(*owner); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := ws.CreateFile("Cargo.toml", []byte("[package]\nname = \"x\"\n")); err != nil {
		t.Fatal(err)
	}
	return ws.Path()
}

func localOwner(pid int) *workspace.Owner {
	owner := workspace.CurrentOwner("/src/lib.rs")
	owner.PID = pid
	return &owner
}

func TestScan(t *testing.T) {
	stubLiveness(t, map[int]bool{100: true})
	fs := afero.NewMemMapFs()
	dir := "/tmp"

	live := makeWorkspace(t, fs, dir, "live.rs", localOwner(100))
	dead := makeWorkspace(t, fs, dir, "dead.rs", localOwner(200))
	orphan := makeWorkspace(t, fs, dir, "orphan.rs", nil)

	foreign := localOwner(300)
	foreign.Hostname = "some-other-host"
	makeWorkspace(t, fs, dir, "foreign.rs", foreign)

	corrupt := makeWorkspace(t, fs, dir, "corrupt.rs", nil)
	if err := afero.WriteFile(fs, filepath.Join(corrupt, workspace.OwnerFileName), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := fs.MkdirAll(filepath.Join(dir, "unrelated"), 0755); err != nil {
		t.Fatal(err)
	}

	stale, err := Scan(fs, dir, prefix)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	want := map[string]Reason{
		dead:    ReasonOwnerExited,
		orphan:  ReasonNoOwner,
		corrupt: ReasonBadOwner,
	}
	if len(stale) != len(want) {
		t.Fatalf("Scan() = %+v, want %d entries", stale, len(want))
	}
	for _, s := range stale {
		reason, ok := want[s.Path]
		if !ok {
			t.Errorf("unexpected stale workspace %s", s.Path)
			continue
		}
		if s.Reason != reason {
			t.Errorf("%s: Reason = %q, want %q", filepath.Base(s.Path), s.Reason, reason)
		}
		if s.Path == live {
			t.Error("a workspace with a live owner must not be stale")
		}
	}
	for i := 1; i < len(stale); i++ {
		if stale[i-1].Path > stale[i].Path {
			t.Error("Scan() results should be sorted by path")
		}
	}
}

func TestScan_MissingDir(t *testing.T) {
	if _, err := Scan(afero.NewMemMapFs(), "/nope", prefix); err == nil {
		t.Error("Scan() of a missing directory should fail")
	}
}

func TestRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := makeWorkspace(t, fs, "/tmp", "a.rs", nil)
	b := makeWorkspace(t, fs, "/tmp", "b.rs", nil)
	reg := registry.NewMemory("/home/me/crate/Cargo.toml", filepath.Join(a, "Cargo.toml"))

	stale := []StaleWorkspace{{Path: a, Reason: ReasonNoOwner}, {Path: b, Reason: ReasonNoOwner}}
	results, err := NewRemover(fs, reg, nil).Remove(context.Background(), stale)
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if results.Removed != 2 || results.Unregistered != 1 || len(results.Errors) != 0 {
		t.Errorf("Results = %+v", results)
	}
	for _, dir := range []string{a, b} {
		if exists, _ := afero.DirExists(fs, dir); exists {
			t.Errorf("%s should be removed", dir)
		}
	}
	entries, _ := reg.List()
	if len(entries) != 1 || entries[0] != "/home/me/crate/Cargo.toml" {
		t.Errorf("registry = %v, want only the user's entry", entries)
	}
}

func TestRemove_Canceled(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := makeWorkspace(t, fs, "/tmp", "a.rs", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := NewRemover(fs, nil, nil).Remove(ctx, []StaleWorkspace{{Path: a}})
	if err == nil {
		t.Fatal("Remove() with a cancelled context should fail")
	}
	if results.Removed != 0 {
		t.Error("nothing should be removed after cancellation")
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !isProcessAlive(os.Getpid()) {
		t.Error("the current process should be alive")
	}
	if isProcessAlive(0) || isProcessAlive(-1) {
		t.Error("non-positive PIDs are never alive")
	}
}

func TestScan_RealOwner(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	makeWorkspace(t, fs, dir, "mine.rs", localOwner(os.Getpid()))

	stale, err := Scan(fs, dir, prefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("workspace owned by this process reported stale: %+v", stale)
	}
}
