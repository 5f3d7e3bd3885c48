package presence

import (
	"context"
	"sort"
	"sync"
)

// Memory is the single-process SetStore. It is the default backend and the
// degraded fallback when the shared store is unreachable.
type Memory struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{sets: make(map[string]map[string]struct{})}
}

func (m *Memory) Add(_ context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[set] == nil {
		m.sets[set] = make(map[string]struct{})
	}
	m.sets[set][member] = struct{}{}
	return nil
}

func (m *Memory) Remove(_ context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if members, ok := m.sets[set]; ok {
		delete(members, member)
		if len(members) == 0 {
			delete(m.sets, set)
		}
	}
	return nil
}

func (m *Memory) Members(_ context.Context, set string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.sets[set]
	if len(members) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(members))
	for member := range members {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}
