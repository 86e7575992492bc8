package storage

import (
	"context"
	"sync"
)

// MemoryArchive is a simple map-backed archive used for testing.
type MemoryArchive struct {
	mu   sync.RWMutex
	data map[string]map[int64][]byte // tree -> push id -> payload
}

// NewMemoryArchive constructs an in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{data: make(map[string]map[int64][]byte)}
}

func (m *MemoryArchive) Store(ctx context.Context, tree string, pushID int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[tree]; !ok {
		m.data[tree] = make(map[int64][]byte)
	}
	m.data[tree][pushID] = append([]byte{}, data...)
	return nil
}

func (m *MemoryArchive) Fetch(ctx context.Context, tree string, pushID int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.data[tree][pushID]
	if !ok {
		return nil, &NotFoundError{Resource: "archive", Key: pushRowKey(tree, pushID)}
	}
	return append([]byte{}, payload...), nil
}

func (m *MemoryArchive) Remove(ctx context.Context, tree string, pushID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if treeData, ok := m.data[tree]; ok {
		delete(treeData, pushID)
	}
	return nil
}

func (m *MemoryArchive) Close() error { return nil }
