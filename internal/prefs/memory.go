package prefs

import (
	"strings"
	"sync"
)

// Memory is an in-process Store. Values are stored encoded so that reads
// behave exactly like the persistent store.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(key string) (any, bool, error) {
	m.mu.RLock()
	data, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	v, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (m *Memory) Set(key string, value any) error {
	if value == nil {
		return m.Delete(key)
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[key] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(prefix string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]any)
	for k, data := range m.values {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		v, err := decode(data)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
