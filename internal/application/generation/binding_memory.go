package generation

import (
	"context"
	"sync"
)

// MemoryBindingStore 进程内绑定存储
type MemoryBindingStore struct {
	mu       sync.RWMutex
	bindings map[string]string
}

// NewMemoryBindingStore 创建进程内绑定存储
func NewMemoryBindingStore() *MemoryBindingStore {
	return &MemoryBindingStore{bindings: make(map[string]string)}
}

func (s *MemoryBindingStore) Get(_ context.Context, targetID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bindings[targetID]
	return id, ok, nil
}

func (s *MemoryBindingStore) Set(_ context.Context, targetID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[targetID] = documentID
	return nil
}

func (s *MemoryBindingStore) Delete(_ context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, targetID)
	return nil
}
