package history

import (
	"context"
	"sync"

	"github.com/rhernandezbas/Betelgeus-Backend/internal/cache"
)

// CacheSlot stores the history under a single cache key with no expiry.
type CacheSlot struct {
	cache cache.Cache
	key   string
}

// NewCacheSlot returns a slot persisted at cache.HistoryKey(namespace).
func NewCacheSlot(c cache.Cache, namespace string) *CacheSlot {
	return &CacheSlot{cache: c, key: cache.HistoryKey(namespace)}
}

func (s *CacheSlot) Load(ctx context.Context) ([]byte, bool, error) {
	return s.cache.Get(ctx, s.key)
}

func (s *CacheSlot) Store(ctx context.Context, data []byte) error {
	return s.cache.Set(ctx, s.key, data, 0)
}

// MemorySlot is a process-local slot.
type MemorySlot struct {
	mu   sync.Mutex
	data []byte
}

func (s *MemorySlot) Load(_ context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, false, nil
	}
	return append([]byte(nil), s.data...), true, nil
}

func (s *MemorySlot) Store(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

var (
	_ Slot = (*CacheSlot)(nil)
	_ Slot = (*MemorySlot)(nil)
)
