package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func registries(t *testing.T) map[string]Registry {
	t.Helper()
	return map[string]Registry{
		"memory":        NewMemory(),
		"settings file": NewSettingsFile(filepath.Join(t.TempDir(), ".vscode", "settings.json"), ""),
	}
}

func TestRegistry_AddRemove(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			for _, p := range []string{"/a/Cargo.toml", "/b/Cargo.toml", "/a/Cargo.toml"} {
				if err := reg.Add(p); err != nil {
					t.Fatalf("Add(%q) error = %v", p, err)
				}
			}
			got, err := reg.List()
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(got, ",") != "/a/Cargo.toml,/b/Cargo.toml" {
				t.Errorf("List() = %v, want no duplicates in insertion order", got)
			}

			if err := reg.Remove("/a/Cargo.toml"); err != nil {
				t.Fatal(err)
			}
			if err := reg.Remove("/never/added"); err != nil {
				t.Fatal(err)
			}
			got, _ = reg.List()
			if strings.Join(got, ",") != "/b/Cargo.toml" {
				t.Errorf("List() after Remove = %v", got)
			}
		})
	}
}

func TestRegistry_ConcurrentAdds(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := range 20 {
				wg.Go(func() {
					_ = reg.Add(filepath.Join("/ws", string(rune('a'+i)), "Cargo.toml"))
				})
			}
			wg.Wait()

			got, err := reg.List()
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 20 {
				t.Errorf("List() has %d entries, want 20", len(got))
			}
		})
	}
}

func TestMemory_ListIsSnapshot(t *testing.T) {
	m := NewMemory("/x/Cargo.toml")
	list, _ := m.List()
	list[0] = "mutated"
	again, _ := m.List()
	if again[0] != "/x/Cargo.toml" {
		t.Error("List() must return a copy")
	}
}

func TestSettingsFile_PreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	initial := `{
  "editor.formatOnSave": true,
  "rust-analyzer.linkedProjects": ["/user/own/Cargo.toml"],
  "nested": {"a": [1, 2, 3]}
}`
	if err := os.WriteFile(path, []byte(initial), 0644); err != nil {
		t.Fatal(err)
	}

	reg := NewSettingsFile(path, DefaultKey)
	if err := reg.Add("/tmp/ws/Cargo.toml"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Remove("/tmp/ws/Cargo.toml"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("settings file is not valid JSON: %v", err)
	}
	if doc["editor.formatOnSave"] != true {
		t.Errorf("editor.formatOnSave lost: %v", doc)
	}
	if _, ok := doc["nested"].(map[string]any); !ok {
		t.Errorf("nested lost: %v", doc)
	}
	linked, _ := doc[DefaultKey].([]any)
	if len(linked) != 1 || linked[0] != "/user/own/Cargo.toml" {
		t.Errorf("user's own entry should survive, got %v", linked)
	}
}

func TestSettingsFile_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none", "settings.json")
	reg := NewSettingsFile(path, "")

	got, err := reg.List()
	if err != nil || len(got) != 0 {
		t.Errorf("List() = %v, %v; want empty", got, err)
	}
	if err := reg.Remove("/x"); err != nil {
		t.Errorf("Remove on a missing file = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("a no-op Remove should not create the file")
	}
}

func TestSettingsFile_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{ // comment\n}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := NewSettingsFile(path, "").Add("/x"); err == nil {
		t.Error("Add should fail on a file that is not plain JSON")
	}
}
