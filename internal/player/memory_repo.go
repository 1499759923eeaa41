package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/vec"
)

// MemoryRepo реализует Repository в памяти.
// Используется как fallback, когда MariaDB недоступна,
// или для CI/локальной разработки без БД.
type MemoryRepo struct {
	mu      sync.RWMutex
	players map[string]*Player
	now     func() time.Time
}

// NewMemoryRepo создает пустой репозиторий игроков
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		players: make(map[string]*Player),
		now:     time.Now,
	}
}

func (r *MemoryRepo) Create(ctx context.Context, p *Player) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.players[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrPlayerExists, p.ID)
	}
	r.players[p.ID] = p.Clone()
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	return p.Clone(), nil
}

func (r *MemoryRepo) Update(ctx context.Context, p *Player) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.players[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, p.ID)
	}
	cp := p.Clone()
	// положение меняет только SetLocation
	cp.CurrentRoomID = stored.CurrentRoomID
	cp.Position = stored.Position
	cp.CreatedAt = stored.CreatedAt
	r.players[p.ID] = cp
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	delete(r.players, id)
	return nil
}

func (r *MemoryRepo) AddResources(ctx context.Context, id string, res dungeon.Resources) (*Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	p.Resources = p.Resources.Add(res)
	p.UpdatedAt = r.now()
	return p.Clone(), nil
}

func (r *MemoryRepo) SetLocation(ctx context.Context, id, roomID string, pos vec.Vec2) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	p.CurrentRoomID = roomID
	p.Position = pos
	p.UpdatedAt = r.now()
	return nil
}

// Count возвращает количество игроков (для отладки).
func (r *MemoryRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}
