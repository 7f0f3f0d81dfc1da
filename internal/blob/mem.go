package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-process Store for tests and dry runs.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// PutHook, when set, runs before every Put; a non-nil error fails the Put
	// without storing anything.
	PutHook func(key string) error
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (s *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemStore) Put(ctx context.Context, key string, data []byte) error {
	if !validKey(key) {
		return fmt.Errorf("invalid blob key %q", key)
	}
	s.mu.RLock()
	hook := s.PutHook
	s.mu.RUnlock()
	if hook != nil {
		if err := hook(key); err != nil {
			return err
		}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	s.mu.Lock()
	s.objects[key] = buf
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// SetPutHook swaps the put hook under the store lock.
func (s *MemStore) SetPutHook(fn func(key string) error) {
	s.mu.Lock()
	s.PutHook = fn
	s.mu.Unlock()
}
