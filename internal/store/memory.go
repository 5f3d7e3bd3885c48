package store

import (
	"context"
	"sort"
	"sync"
)

const memoryMessageCap = 1000

// Memory is the degraded fallback used when the durable store cannot be
// opened. Same contract, bounded history, nothing survives a restart.
type Memory struct {
	mu       sync.RWMutex
	messages []Message
	contacts map[string][]Contact
}

func NewMemory() *Memory {
	return &Memory{contacts: make(map[string][]Contact)}
}

func (s *Memory) AppendMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	if len(s.messages) > memoryMessageCap {
		s.messages = s.messages[len(s.messages)-memoryMessageCap:]
	}
	return nil
}

func (s *Memory) QueryMessages(_ context.Context, room string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].Room == room {
			out = append(out, s.messages[i])
		}
	}
	// Collected newest first; contract is oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Memory) UpsertContact(_ context.Context, c Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.contacts[c.OwnerID]
	for i, existing := range list {
		if existing.Name == c.Name && existing.ContactID == c.ContactID {
			list[i] = c
			return nil
		}
	}
	s.contacts[c.OwnerID] = append(list, c)
	return nil
}

func (s *Memory) ListContacts(_ context.Context, ownerID string) ([]Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.contacts[ownerID]
	out := make([]Contact, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ContactID < out[j].ContactID
	})
	return out, nil
}

func (s *Memory) DeleteContact(_ context.Context, ownerID, nameOrID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.contacts[ownerID]
	kept := list[:0]
	removed := false
	for _, c := range list {
		if (c.Name != "" && c.Name == nameOrID) || (c.ContactID != "" && c.ContactID == nameOrID) {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	if !removed {
		return ErrNotFound
	}
	s.contacts[ownerID] = kept
	return nil
}

func (s *Memory) Close() error { return nil }
