package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Memory is an in-process Registry.
type Memory struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{names: make(map[string]struct{})}
}

// Claim implements Registry.
func (m *Memory) Claim(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[name]; ok {
		return ErrNameTaken
	}
	m.names[name] = struct{}{}
	return nil
}

// Release implements Registry. Releasing an unknown name is a no-op.
func (m *Memory) Release(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.names, name)
	return nil
}

// Names implements Registry. The result is sorted.
func (m *Memory) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	names := lo.Keys(m.names)
	m.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}
