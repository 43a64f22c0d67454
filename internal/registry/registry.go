// Package registry maintains the shared list of build descriptors that an
// editor's language server should load, such as rust-analyzer's
// linkedProjects setting.
package registry

import (
	"slices"
	"sync"
)

// DefaultKey is the settings key holding the list of linked projects.
const DefaultKey = "rust-analyzer.linkedProjects"

// Registry is an ordered list of manifest paths. Entries are compared by
// exact string equality.
type Registry interface {
	// Add appends path unless it is already present.
	Add(path string) error
	// Remove deletes every entry equal to path and nothing else.
	Remove(path string) error
	// List returns a snapshot of the entries.
	List() ([]string, error)
}

// Memory is an in-process Registry.
type Memory struct {
	mu      sync.Mutex
	entries []string
}

// NewMemory creates an empty in-process registry.
func NewMemory(entries ...string) *Memory {
	return &Memory{entries: append([]string(nil), entries...)}
}

// Add implements Registry.
func (m *Memory) Add(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = appendUnique(m.entries, path)
	return nil
}

// Remove implements Registry.
func (m *Memory) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = without(m.entries, path)
	return nil
}

// List implements Registry.
func (m *Memory) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries), nil
}

func appendUnique(entries []string, path string) []string {
	if slices.Contains(entries, path) {
		return entries
	}
	return append(entries, path)
}

func without(entries []string, path string) []string {
	return slices.DeleteFunc(slices.Clone(entries), func(e string) bool { return e == path })
}
