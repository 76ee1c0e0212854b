package queue

import (
	"context"
	"sync"
)

// MemoryBackend keeps collections in process memory. Used in tests and when
// no database path is configured.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[name]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), d...), nil
}

func (m *MemoryBackend) Save(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = append([]byte(nil), data...)
	return nil
}
