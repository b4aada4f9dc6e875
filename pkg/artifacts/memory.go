package artifacts

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process blob store for tests and single-node setups.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[addr]; !ok {
		s.blobs[addr] = append([]byte(nil), data...)
	}
	return addr, nil
}

func (s *MemoryStore) Get(ctx context.Context, addr string) ([]byte, error) {
	if _, err := parseAddress(addr); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Exists(ctx context.Context, addr string) (bool, error) {
	if _, err := parseAddress(addr); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[addr]
	return ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, addr string) error {
	if _, err := parseAddress(addr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, addr)
	return nil
}
