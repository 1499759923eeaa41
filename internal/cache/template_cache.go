package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/logging"
	"github.com/annel0/grid-dungeon/internal/storage"
)

const (
	templateKeyPrefix = "dungeon:tpl:"
	nameKeyPrefix     = "dungeon:tplname:"
)

// TemplateCache read-through кеш шаблонов поверх storage.TemplateRepo.
// Первый уровень локальный (MemoryCache), второй общий (обычно RedisCache).
// Списки шаблонов не кешируются: они меняются при каждом создании и удалении.
type TemplateCache struct {
	backing     storage.TemplateRepo
	local       CacheRepo
	shared      CacheRepo
	invalidator CacheInvalidator
	ttl         time.Duration
	logger      *logging.Logger
}

// TemplateCacheOptions параметры кеша; shared и Invalidator необязательны.
type TemplateCacheOptions struct {
	Local       CacheRepo
	Shared      CacheRepo
	Invalidator CacheInvalidator
	TTL         time.Duration
}

var _ storage.TemplateRepo = (*TemplateCache)(nil)

// NewTemplateCache оборачивает хранилище шаблонов кешем
func NewTemplateCache(backing storage.TemplateRepo, opts TemplateCacheOptions) *TemplateCache {
	if opts.Local == nil {
		opts.Local = NewMemoryCache()
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	return &TemplateCache{
		backing:     backing,
		local:       opts.Local,
		shared:      opts.Shared,
		invalidator: opts.Invalidator,
		ttl:         opts.TTL,
		logger:      logging.GetCacheLogger(),
	}
}

// Start подписывается на инвалидации других узлов до отмены ctx
func (c *TemplateCache) Start(ctx context.Context) error {
	if c.invalidator == nil {
		return nil
	}
	return c.invalidator.SubscribeInvalidations(ctx, func(key string) error {
		if !strings.HasPrefix(key, templateKeyPrefix) && !strings.HasPrefix(key, nameKeyPrefix) {
			return ErrInvalidKey
		}
		return c.local.Delete(context.Background(), key)
	})
}

func (c *TemplateCache) CreateTemplate(ctx context.Context, t *dungeon.BaseMapTemplate) error {
	if err := c.backing.CreateTemplate(ctx, t); err != nil {
		return err
	}
	c.store(ctx, t)
	return nil
}

func (c *TemplateCache) GetTemplate(ctx context.Context, id string) (*dungeon.BaseMapTemplate, error) {
	if data, ok := c.lookup(ctx, templateKeyPrefix+id); ok {
		var t dungeon.BaseMapTemplate
		if err := json.Unmarshal(data, &t); err == nil {
			return &t, nil
		}
		c.logger.Warn("corrupted cache entry for template %s, reloading", id)
	}

	t, err := c.backing.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, t)
	return t, nil
}

func (c *TemplateCache) GetTemplateByName(ctx context.Context, name string) (*dungeon.BaseMapTemplate, error) {
	if id, ok := c.lookup(ctx, nameKeyPrefix+name); ok {
		t, err := c.GetTemplate(ctx, string(id))
		if err == nil && t.Name == name {
			return t, nil
		}
	}

	t, err := c.backing.GetTemplateByName(ctx, name)
	if err != nil {
		return nil, err
	}
	c.store(ctx, t)
	return t, nil
}

func (c *TemplateCache) ListTemplates(ctx context.Context) ([]*dungeon.BaseMapTemplate, error) {
	return c.backing.ListTemplates(ctx)
}

func (c *TemplateCache) ListTemplatesWithExit(ctx context.Context, d dungeon.Direction) ([]*dungeon.BaseMapTemplate, error) {
	return c.backing.ListTemplatesWithExit(ctx, d)
}

// DeleteTemplate удаляет шаблон из хранилища, обоих уровней кеша и рассылает инвалидацию
func (c *TemplateCache) DeleteTemplate(ctx context.Context, id string) error {
	t, err := c.backing.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if err := c.backing.DeleteTemplate(ctx, id); err != nil {
		return err
	}

	for _, key := range []string{templateKeyPrefix + id, nameKeyPrefix + t.Name} {
		_ = c.local.Delete(ctx, key)
		if c.shared != nil {
			if err := c.shared.Delete(ctx, key); err != nil {
				c.logger.Warn("shared cache delete %s: %v", key, err)
			}
		}
		if c.invalidator != nil {
			if err := c.invalidator.PublishInvalidation(ctx, key); err != nil {
				c.logger.Warn("invalidation %s not published: %v", key, err)
			}
		}
	}
	return nil
}

// TemplateCacheStats состояние уровней кеша
type TemplateCacheStats struct {
	Local         *CacheMetrics       `json:"local"`
	Shared        bool                `json:"shared"`
	Invalidations *InvalidatorMetrics `json:"invalidations,omitempty"`
}

type invalidatorMetrics interface {
	GetMetrics() *InvalidatorMetrics
}

// Stats метрики локального уровня и, если invalidator их ведёт, счётчики рассылки
func (c *TemplateCache) Stats() TemplateCacheStats {
	stats := TemplateCacheStats{Local: c.local.GetMetrics(), Shared: c.shared != nil}
	if im, ok := c.invalidator.(invalidatorMetrics); ok {
		stats.Invalidations = im.GetMetrics()
	}
	return stats
}

// lookup ищет ключ сначала локально, затем в общем кеше
func (c *TemplateCache) lookup(ctx context.Context, key string) ([]byte, bool) {
	if data, err := c.local.Get(ctx, key); err == nil {
		return data, true
	}
	if c.shared == nil {
		return nil, false
	}
	data, err := c.shared.Get(ctx, key)
	if err != nil {
		if !IsCacheMiss(err) {
			c.logger.Warn("shared cache get %s: %v", key, err)
		}
		return nil, false
	}
	_ = c.local.Set(ctx, key, data, c.ttl)
	return data, true
}

// store кладёт шаблон в оба уровня; ошибки кеша не мешают чтению из хранилища
func (c *TemplateCache) store(ctx context.Context, t *dungeon.BaseMapTemplate) {
	data, err := json.Marshal(t)
	if err != nil {
		c.logger.Warn("encode template %s: %v", t.ID, err)
		return
	}
	items := map[string][]byte{
		templateKeyPrefix + t.ID: data,
		nameKeyPrefix + t.Name:   []byte(t.ID),
	}
	for key, value := range items {
		_ = c.local.Set(ctx, key, value, c.ttl)
		if c.shared != nil {
			if err := c.shared.Set(ctx, key, value, c.ttl); err != nil {
				c.logger.Warn("shared cache set %s: %v", key, err)
			}
		}
	}
}
