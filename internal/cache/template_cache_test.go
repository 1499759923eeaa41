package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/storage"
	"github.com/annel0/grid-dungeon/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepo считает обращения к хранилищу за шаблонами
type countingRepo struct {
	storage.TemplateRepo
	mu     sync.Mutex
	gets   int
	byName int
}

func (r *countingRepo) GetTemplate(ctx context.Context, id string) (*dungeon.BaseMapTemplate, error) {
	r.mu.Lock()
	r.gets++
	r.mu.Unlock()
	return r.TemplateRepo.GetTemplate(ctx, id)
}

func (r *countingRepo) GetTemplateByName(ctx context.Context, name string) (*dungeon.BaseMapTemplate, error) {
	r.mu.Lock()
	r.byName++
	r.mu.Unlock()
	return r.TemplateRepo.GetTemplateByName(ctx, name)
}

// loopInvalidator доставляет инвалидации подписчикам других узлов в том же процессе
type loopInvalidator struct {
	mu       sync.Mutex
	peers    []*loopInvalidator
	handler  InvalidationHandler
	received []string
}

func (l *loopInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	for _, p := range l.peers {
		p.mu.Lock()
		h := p.handler
		p.received = append(p.received, key)
		p.mu.Unlock()
		if h != nil {
			if err := h(key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *loopInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
	return nil
}

func (l *loopInvalidator) Close() error { return nil }

func (l *loopInvalidator) GetMetrics() *InvalidatorMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &InvalidatorMetrics{Received: int64(len(l.received)), Connected: true}
}

func testTemplate(t *testing.T, name string) *dungeon.BaseMapTemplate {
	t.Helper()
	const side = 5
	var cells []dungeon.CellSpec
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			kind := dungeon.KindFloor
			if (vec.Vec2{X: x, Y: y}).OnBorder(side, side) {
				kind = dungeon.KindUnbreakable
			}
			cells = append(cells, dungeon.CellSpec{X: x, Y: y, Kind: kind})
		}
	}
	tpl, err := dungeon.BuildTemplate(dungeon.TemplateCandidate{Name: name, Width: side, Height: side, Cells: cells},
		"tpl-"+name, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return tpl
}

func TestTemplateCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	tpl := testTemplate(t, "Cave")
	require.NoError(t, store.CreateTemplate(ctx, tpl))

	repo := &countingRepo{TemplateRepo: store}
	shared := NewMemoryCache()
	tc := NewTemplateCache(repo, TemplateCacheOptions{Shared: shared, TTL: time.Minute})

	for i := 0; i < 3; i++ {
		got, err := tc.GetTemplate(ctx, tpl.ID)
		require.NoError(t, err)
		assert.Equal(t, tpl.Name, got.Name)
		assert.Equal(t, tpl.Cells, got.Cells)
	}
	assert.Equal(t, 1, repo.gets)

	byName, err := tc.GetTemplateByName(ctx, "Cave")
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, byName.ID)
	assert.Equal(t, 0, repo.byName)

	// второй узел с пустым локальным кешем берёт шаблон из общего уровня
	other := NewTemplateCache(repo, TemplateCacheOptions{Shared: shared})
	_, err = other.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.gets)

	_, err = tc.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrTemplateNotFound)
	stats := tc.Stats()
	assert.True(t, stats.Local.CacheHits > 0)
	assert.True(t, stats.Shared)
	assert.Nil(t, stats.Invalidations)
}

func TestTemplateCacheDeleteInvalidatesPeers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	shared := NewMemoryCache()

	invA, invB := &loopInvalidator{}, &loopInvalidator{}
	invA.peers = []*loopInvalidator{invB}
	invB.peers = []*loopInvalidator{invA}

	nodeA := NewTemplateCache(store, TemplateCacheOptions{Shared: shared, Invalidator: invA})
	nodeB := NewTemplateCache(store, TemplateCacheOptions{Shared: shared, Invalidator: invB})
	require.NoError(t, nodeA.Start(ctx))
	require.NoError(t, nodeB.Start(ctx))

	tpl := testTemplate(t, "Hall")
	require.NoError(t, nodeA.CreateTemplate(ctx, tpl))
	_, err := nodeB.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)

	require.NoError(t, nodeA.DeleteTemplate(ctx, tpl.ID))
	assert.ElementsMatch(t, []string{templateKeyPrefix + tpl.ID, nameKeyPrefix + "Hall"}, invB.received)
	require.NotNil(t, nodeB.Stats().Invalidations)
	assert.Equal(t, int64(2), nodeB.Stats().Invalidations.Received)

	_, err = nodeB.GetTemplate(ctx, tpl.ID)
	assert.ErrorIs(t, err, dungeon.ErrNotFound)
	_, err = nodeB.GetTemplateByName(ctx, "Hall")
	assert.ErrorIs(t, err, dungeon.ErrNotFound)

	// имя снова свободно
	again := testTemplate(t, "Hall")
	again.ID = "tpl-Hall-2"
	require.NoError(t, nodeB.CreateTemplate(ctx, again))
	got, err := nodeA.GetTemplateByName(ctx, "Hall")
	require.NoError(t, err)
	assert.Equal(t, "tpl-Hall-2", got.ID)
}

func TestTemplateCacheListsBypassCache(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	tc := NewTemplateCache(store, TemplateCacheOptions{})

	require.NoError(t, tc.CreateTemplate(ctx, testTemplate(t, "B")))
	require.NoError(t, store.CreateTemplate(ctx, testTemplate(t, "A")))

	list, err := tc.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Name)

	withExit, err := tc.ListTemplatesWithExit(ctx, dungeon.North)
	require.NoError(t, err)
	assert.Empty(t, withExit)
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mc := NewMemoryCache()
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "k", []byte("v"), time.Second))
	require.NoError(t, mc.Set(ctx, "forever", []byte("x"), 0))
	assert.ErrorIs(t, mc.Set(ctx, "", []byte("x"), 0), ErrInvalidKey)

	v, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(2 * time.Second)
	_, err = mc.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
	_, err = mc.Get(ctx, "forever")
	assert.NoError(t, err)

	m := mc.GetMetrics()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(2), m.CacheHits)
	assert.Equal(t, int64(1), m.TotalKeys)

	require.NoError(t, mc.Delete(ctx, "forever"))
	_, err = mc.Get(ctx, "forever")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
