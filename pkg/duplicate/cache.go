package duplicate

import (
	"sort"
	"sync"
)

// Store maps absolute file paths to content hashes learned from earlier
// upload attempts. Implementations decide where the entries live; the
// default keeps them in memory for the life of the process.
type Store interface {
	// Get returns the hash cached for path, if any
	Get(path string) (string, bool)

	// Put records the hash for path, replacing any previous value
	Put(path, sha1 string)

	// Delete forgets path; deleting an absent path is a no-op
	Delete(path string)

	// Paths lists every cached path in lexical order
	Paths() []string

	// Len reports the number of entries
	Len() int
}

// MemoryStore is the process-lifetime Store
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

// Get returns the hash cached for path
func (m *MemoryStore) Get(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum, ok := m.entries[path]
	return sum, ok
}

// Put records the hash for path
func (m *MemoryStore) Put(path, sha1 string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[path] = sha1
}

// Delete forgets path
func (m *MemoryStore) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, path)
}

// Paths lists the cached paths
func (m *MemoryStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len reports the number of entries
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
