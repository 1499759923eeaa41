package player

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/vec"
)

var (
	ErrPlayerNotFound = fmt.Errorf("player %w", dungeon.ErrNotFound)
	ErrPlayerExists   = errors.New("player already exists")
)

// Repository определяет интерфейс хранения игроков.
type Repository interface {
	// Create сохраняет нового игрока; ErrPlayerExists, если id занят.
	Create(ctx context.Context, p *Player) error

	// Get возвращает игрока по id или ErrPlayerNotFound.
	Get(ctx context.Context, id string) (*Player, error)

	// Update перезаписывает характеристики и инвентарь игрока.
	Update(ctx context.Context, p *Player) error

	// Delete удаляет игрока. Комнаты игрока не удаляются.
	Delete(ctx context.Context, id string) error

	// AddResources атомарно добавляет добытые ресурсы в инвентарь.
	AddResources(ctx context.Context, id string, res dungeon.Resources) (*Player, error)

	// SetLocation записывает текущую комнату и позицию игрока.
	SetLocation(ctx context.Context, id, roomID string, pos vec.Vec2) error
}
