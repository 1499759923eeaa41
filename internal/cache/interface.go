package cache

import (
	"context"
	"errors"
	"time"
)

// CacheRepo определяет интерфейс для кеширования данных.
// Шаблоны комнат неизменяемы, поэтому кеш держит их до удаления или истечения TTL.
//
// Использование:
//
//	cache, err := NewRedisCache(&CacheConfig{RedisURL: "localhost:6379"})
//	data, err := cache.Get(ctx, "key")
//	err = cache.Set(ctx, "key", data, 30*time.Second)
//	err = cache.Delete(ctx, "key")
type CacheRepo interface {
	// Get получает значение по ключу из кеша.
	// Возвращает ErrCacheMiss если ключ не найден.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кеше с указанным TTL.
	// TTL = 0 означает отсутствие истечения.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кеша.
	Delete(ctx context.Context, key string) error

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// CacheInvalidator рассылает инвалидации между узлами через Pub/Sub.
type CacheInvalidator interface {
	// PublishInvalidation отправляет уведомление об инвалидации.
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations подписывается на уведомления об инвалидации.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// Close закрывает соединение.
	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации кеша.
type InvalidationHandler func(key string) error

// CacheMetrics содержит метрики кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	TotalKeys int64 `json:"total_keys"`

	LastUpdate time.Time `json:"last_update"`
}

// InvalidatorMetrics счётчики рассылки инвалидаций между узлами.
type InvalidatorMetrics struct {
	Published int64 `json:"published"`
	Received  int64 `json:"received"`
	Errors    int64 `json:"errors"`
	Connected bool  `json:"connected"`
}

// CacheConfig содержит конфигурацию Redis-кеша.
type CacheConfig struct {
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`

	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

// Ошибки кеша
var (
	ErrCacheMiss  = errors.New("cache miss")
	ErrInvalidKey = errors.New("invalid key")
)

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
