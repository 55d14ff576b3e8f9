// Package blob keeps uploaded documents between submission and processing.
// Work items carry only the key, never the bytes.
package blob

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("document not found or expired")

// Store holds document bytes by key with a per-key TTL.
type Store interface {
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// DocumentKey is the blob key used for a job's uploaded document.
func DocumentKey(processingID string) string {
	return "document:" + processingID
}

type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryItem{
		data:      append([]byte(nil), data...),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(item.expiresAt) {
		delete(s.items, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.data...), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len reports how many documents are held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
