package registry

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore provides an in-memory Store implementation for tests and
// single-process deployments without Redis. It mirrors RedisStore behavior
// for validation and not-found handling.
type MemoryStore struct {
	mu   sync.RWMutex
	atts map[string]Attachment
}

func NewMemory() *MemoryStore {
	return &MemoryStore{atts: make(map[string]Attachment)}
}

func (m *MemoryStore) Put(_ context.Context, att Attachment) error {
	if att.ConnID == "" || att.UserID == "" {
		return fmt.Errorf("registry: missing conn_id or user_id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.atts[att.ConnID] = att
	return nil
}

func (m *MemoryStore) Get(_ context.Context, connID string) (*Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	att, ok := m.atts[connID]
	if !ok {
		return nil, nil
	}
	return &att, nil
}

func (m *MemoryStore) SetActive(_ context.Context, connID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	att, ok := m.atts[connID]
	if !ok {
		return nil
	}
	att.IsActive = active
	m.atts[connID] = att
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, _ string) error {
	return nil // no expiry in memory
}

func (m *MemoryStore) Delete(_ context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.atts, connID)
	return nil
}
