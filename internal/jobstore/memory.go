package jobstore

import (
	"context"
	"sync"

	"github.com/smi-gateway/smi/internal/protocol"
)

// MemoryStore is an in-process Store implementation for tests and
// single-process development, mirroring the shape of RedisStore
// without a network dependency.
type MemoryStore struct {
	mu      sync.Mutex
	status  map[string]protocol.StatusRecord
	results map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		status:  make(map[string]protocol.StatusRecord),
		results: make(map[string][]byte),
	}
}

func (s *MemoryStore) SetStatus(ctx context.Context, id string, rec protocol.StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = rec
	return nil
}

func (s *MemoryStore) GetStatus(ctx context.Context, id string) (protocol.StatusRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.status[id]
	return rec, ok, nil
}

func (s *MemoryStore) SetResult(ctx context.Context, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.results[id] = cp
	return nil
}

func (s *MemoryStore) GetResult(ctx context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.results[id]
	if !ok {
		return nil, false, nil
	}
	delete(s.results, id)
	delete(s.status, id)
	return payload, true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.status, id)
	delete(s.results, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
