package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Iron-Ham/macroexpand/internal/errors"
)

// SettingsFile is a Registry stored under one key of an editor settings
// JSON file (for example .vscode/settings.json). Other keys are preserved
// and every update replaces the file atomically. The file must be plain
// JSON; comments are not supported.
type SettingsFile struct {
	mu   sync.Mutex
	path string
	key  string
}

// NewSettingsFile creates a registry backed by path under key (DefaultKey
// when empty). The file is created on the first Add.
func NewSettingsFile(path, key string) *SettingsFile {
	if key == "" {
		key = DefaultKey
	}
	return &SettingsFile{path: path, key: key}
}

// Path returns the settings file location.
func (s *SettingsFile) Path() string {
	return s.path
}

// Add implements Registry.
func (s *SettingsFile) Add(path string) error {
	return s.update(func(entries []string) []string { return appendUnique(entries, path) })
}

// Remove implements Registry.
func (s *SettingsFile) Remove(path string) error {
	return s.update(func(entries []string) []string { return without(entries, path) })
}

// List implements Registry.
func (s *SettingsFile) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return s.entries(doc)
}

func (s *SettingsFile) update(fn func([]string) []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	entries, err := s.entries(doc)
	if err != nil {
		return err
	}
	next := fn(entries)
	if slicesEqual(entries, next) {
		return nil
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return errors.NewResourceError("encode registry", err).WithPath(s.path)
	}
	doc[s.key] = raw

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return errors.NewResourceError("encode settings", err).WithPath(s.path)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.NewResourceError("create settings directory", err).WithPath(s.path)
	}
	if err := atomicWriteFile(s.path, buf.Bytes(), 0644); err != nil {
		return errors.NewResourceError("write settings", err).WithPath(s.path)
	}
	return nil
}

// load reads the settings document, keeping every value as raw JSON so
// untouched keys round-trip unchanged.
func (s *SettingsFile) load() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, errors.NewResourceError("read settings", err).WithPath(s.path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewResourceError("parse settings", err).WithPath(s.path)
	}
	return doc, nil
}

func (s *SettingsFile) entries(doc map[string]json.RawMessage) ([]string, error) {
	raw, ok := doc[s.key]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.NewResourceError(fmt.Sprintf("parse %s", s.key), err).WithPath(s.path)
	}
	return entries, nil
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// atomicWriteFile writes data to a temp file in the same directory and
// renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}
