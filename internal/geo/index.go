package geo

import (
	"sync"
	"time"

	"github.com/example/rickshaw-rides/internal/models"
)

// LocationIndex tracks the last-known coordinate of each rickshaw. It is the
// hot-path view of driver positions; the durable copy lives in the store.
type LocationIndex interface {
	Upsert(id string, loc models.Coord)
	Lookup(id string) (models.Coord, bool)
}

type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]indexEntry
}

type indexEntry struct {
	loc     models.Coord
	updated time.Time
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]indexEntry)}
}

func (m *MemoryIndex) Upsert(id string, loc models.Coord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = indexEntry{loc: loc, updated: time.Now()}
}

func (m *MemoryIndex) Lookup(id string) (models.Coord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e.loc, ok
}
