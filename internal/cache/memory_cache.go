package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache локальный кеш процесса (первый уровень перед Redis).
// Записи с истёкшим TTL удаляются при чтении.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time

	requests int64
	hits     int64
	misses   int64
}

type memoryEntry struct {
	value   []byte
	expires time.Time // нулевое значение: без истечения
}

// NewMemoryCache создаёт пустой локальный кеш
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt64(&m.requests, 1)

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if ok && !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, still := m.entries[key]; still && cur.expires.Equal(e.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		ok = false
	}
	if !ok {
		atomic.AddInt64(&m.misses, 1)
		return nil, ErrCacheMiss
	}
	atomic.AddInt64(&m.hits, 1)
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) GetMetrics() *CacheMetrics {
	hits := atomic.LoadInt64(&m.hits)
	misses := atomic.LoadInt64(&m.misses)
	metrics := &CacheMetrics{
		TotalRequests: atomic.LoadInt64(&m.requests),
		CacheHits:     hits,
		CacheMisses:   misses,
		LastUpdate:    m.now(),
	}
	if hits+misses > 0 {
		metrics.HitRatio = float64(hits) / float64(hits+misses)
	}
	m.mu.RLock()
	metrics.TotalKeys = int64(len(m.entries))
	m.mu.RUnlock()
	return metrics
}
