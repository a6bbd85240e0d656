// Package fileref reference-counts open data files so that a file marked
// for deletion by compaction is only unlinked once the last reader (a racing
// get/scan that already resolved the path) has released it. This is what
// keeps mmap/read paths safe against concurrent compaction.
package fileref

import (
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

type entry struct {
	refs        int
	markDeleted bool
}

// Manager tracks reference counts per file path.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager creates an empty file reference manager.
func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Acquire increments the reference count for path and returns a release
// function the caller must invoke exactly once when done with the file.
func (m *Manager) Acquire(path string) (release func()) {
	m.mu.Lock()
	e, ok := m.entries[path]
	if !ok {
		e = &entry{}
		m.entries[path] = e
	}
	e.refs++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.release(path) })
	}
}

func (m *Manager) release(path string) {
	m.mu.Lock()
	e, ok := m.entries[path]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.refs--
	shouldDelete := e.markDeleted && e.refs <= 0
	if e.refs <= 0 {
		delete(m.entries, path)
	}
	m.mu.Unlock()

	if shouldDelete {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("fileref: deferred delete failed")
		}
	}
}

// MarkForDeletion requests that path be removed once its reference count
// drops to zero. If nothing currently holds a reference, the file is
// removed immediately.
func (m *Manager) MarkForDeletion(path string) {
	m.mu.Lock()
	e, ok := m.entries[path]
	if !ok {
		m.mu.Unlock()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("fileref: immediate delete failed")
		}
		return
	}
	e.markDeleted = true
	refs := e.refs
	m.mu.Unlock()

	if refs <= 0 {
		m.release(path)
	}
}

// RefCount returns the current reference count for path (0 if untracked).
func (m *Manager) RefCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[path]; ok {
		return e.refs
	}
	return 0
}
