package memory

import (
	"context"
	"sync"

	"driftcanvas/errdefs"
)

type memStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewStore creates a new in-memory blob store.
func NewStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.blobs[key] = stored
	return nil
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[key]
	if !ok {
		return nil, errdefs.NotFound("blob not found")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, key)
	return nil
}
