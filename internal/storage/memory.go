package storage

import (
	"context"
	"sync"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Memory is an in-process Backend. It is the default for tests and for a
// diamond that does not need to survive a restart.
type Memory struct {
	mu    sync.RWMutex
	cells map[util.Uint160]map[Slot][]byte
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{cells: make(map[util.Uint160]map[Slot][]byte)}
}

// Load returns a copy of the stored value, or nil.
func (m *Memory) Load(_ context.Context, owner util.Uint160, slot Slot) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.cells[owner][slot]), nil
}

// Apply writes the batch under a single lock.
func (m *Memory) Apply(_ context.Context, owner util.Uint160, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cells, ok := m.cells[owner]
	if !ok {
		cells = make(map[Slot][]byte)
		m.cells[owner] = cells
	}
	for _, w := range writes {
		if w.Delete {
			delete(cells, w.Slot)
			continue
		}
		cells[w.Slot] = clone(w.Value)
	}
	return nil
}
