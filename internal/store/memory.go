package store

import (
	"bidwatch/internal/registry"
	"context"
	"sync"
)

// Memory keeps everything in process, it is meant for tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	keys     map[string]struct{}
	snapshot *registry.Snapshot
}

func NewMemory() *Memory {
	return &Memory{keys: map[string]struct{}{}}
}

func (m *Memory) LoadSession(ctx context.Context) (registry.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return registry.Snapshot{}, false, nil
	}
	return *m.snapshot, true, nil
}

func (m *Memory) SaveSession(ctx context.Context, snapshot registry.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = &snapshot
	return nil
}

func (m *Memory) HasKey(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *Memory) PutKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
	return nil
}

func (m *Memory) DeleteKeys(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.keys))
	for key := range m.keys {
		keys = append(keys, key)
	}
	return keys, nil
}

func (m *Memory) Close() error {
	return nil
}
