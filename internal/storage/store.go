package storage

import (
	"context"
	"fmt"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/vec"
)

// Ошибки хранилища. Каждая оборачивает класс ошибки ядра,
// поэтому вызывающий код может проверять как конкретную ошибку, так и класс.
var (
	ErrTemplateNotFound  = fmt.Errorf("template %w", dungeon.ErrNotFound)
	ErrRoomNotFound      = fmt.Errorf("room %w", dungeon.ErrNotFound)
	ErrTemplateNameTaken = fmt.Errorf("%w: template name already exists", dungeon.ErrValidation)
	ErrConnectionTaken   = fmt.Errorf("%w: connection slot already taken", dungeon.ErrConsistency)
	ErrVersionConflict   = fmt.Errorf("%w: room was modified concurrently", dungeon.ErrConsistency)
	ErrCoordsTaken       = fmt.Errorf("%w: grid position already occupied", dungeon.ErrConsistency)
	ErrClosed            = fmt.Errorf("storage is closed")
)

// TemplateRepo хранилище шаблонов комнат.
// Шаблоны неизменяемы: операции обновления нет.
type TemplateRepo interface {
	// CreateTemplate сохраняет новый шаблон.
	// Уникальность имени проверяется самим хранилищем (ErrTemplateNameTaken).
	CreateTemplate(ctx context.Context, t *dungeon.BaseMapTemplate) error

	// GetTemplate возвращает шаблон по id или ErrTemplateNotFound.
	GetTemplate(ctx context.Context, id string) (*dungeon.BaseMapTemplate, error)

	// GetTemplateByName возвращает шаблон по имени или ErrTemplateNotFound.
	GetTemplateByName(ctx context.Context, name string) (*dungeon.BaseMapTemplate, error)

	// ListTemplates возвращает все шаблоны, упорядоченные по имени.
	ListTemplates(ctx context.Context) ([]*dungeon.BaseMapTemplate, error)

	// ListTemplatesWithExit возвращает шаблоны, у которых есть выход в направлении d.
	ListTemplatesWithExit(ctx context.Context, d dungeon.Direction) ([]*dungeon.BaseMapTemplate, error)

	// DeleteTemplate удаляет шаблон. Уже созданные комнаты не затрагиваются.
	DeleteTemplate(ctx context.Context, id string) error
}

// RoomRepo хранилище комнат игроков.
type RoomRepo interface {
	// InsertRoom сохраняет новую комнату. Если у комнаты заданы координаты,
	// позиция (владелец, координаты) должна быть свободна, иначе ErrCoordsTaken.
	InsertRoom(ctx context.Context, room *dungeon.RoomInstance) error

	// GetRoom возвращает комнату по id или ErrRoomNotFound.
	GetRoom(ctx context.Context, id string) (*dungeon.RoomInstance, error)

	// ListRoomsByOwner возвращает комнаты игрока в порядке создания.
	ListRoomsByOwner(ctx context.Context, ownerID string) ([]*dungeon.RoomInstance, error)

	// ListRoomsByOwnerAndTemplate возвращает комнаты игрока, созданные из шаблона.
	ListRoomsByOwnerAndTemplate(ctx context.Context, ownerID, templateID string) ([]*dungeon.RoomInstance, error)

	// FindRoomAt возвращает комнату игрока в клетке сетки или ErrRoomNotFound.
	FindRoomAt(ctx context.Context, ownerID string, coords vec.Vec2) (*dungeon.RoomInstance, error)

	// UpdateRoomCells сохраняет клетки, журнал и время изменения комнаты,
	// если версия в хранилище равна expectedVersion. Иначе ErrVersionConflict.
	// При успехе room.Version увеличивается.
	UpdateRoomCells(ctx context.Context, room *dungeon.RoomInstance, expectedVersion int64) error

	// CreateNeighbor атомарно сохраняет новую комнату и связывает её с originID:
	// origin.connections[d] и room.connections[opposite(d)] появляются вместе или не появляются вовсе.
	// Если слот origin уже занят, возвращает ErrConnectionTaken; если координаты заняты, ErrCoordsTaken.
	CreateNeighbor(ctx context.Context, originID string, d dungeon.Direction, room *dungeon.RoomInstance) error

	// LinkRooms атомарно связывает две существующие комнаты: a.connections[d] = b,
	// b.connections[opposite(d)] = a. Оба слота должны быть свободны, иначе ErrConnectionTaken.
	LinkRooms(ctx context.Context, aID string, d dungeon.Direction, bID string) error
}

// Store полный набор операций хранилища
type Store interface {
	TemplateRepo
	RoomRepo
	Close() error
}

// neighborCoords координаты соседа в сетке; nil, если комната вне сетки
func neighborCoords(origin *dungeon.RoomInstance, d dungeon.Direction) *vec.Vec2 {
	if origin.Coords == nil {
		return nil
	}
	c := origin.Coords.Add(d.Delta())
	return &c
}

// prepareNeighbor проверяет, что комнату можно связать с origin, и записывает обратную ссылку
func prepareNeighbor(origin *dungeon.RoomInstance, d dungeon.Direction, room *dungeon.RoomInstance) error {
	if !d.Valid() {
		return fmt.Errorf("%w: unknown direction %q", dungeon.ErrValidation, d)
	}
	if room.OwnerID != origin.OwnerID {
		return fmt.Errorf("%w: room %s belongs to %s, origin %s belongs to %s",
			dungeon.ErrConsistency, room.ID, room.OwnerID, origin.ID, origin.OwnerID)
	}
	if _, taken := origin.Connections[d]; taken {
		return ErrConnectionTaken
	}
	if room.Connections == nil {
		room.Connections = map[dungeon.Direction]dungeon.Connection{}
	}
	room.Connections[d.Opposite()] = origin.Ref()
	if room.Coords == nil {
		room.Coords = neighborCoords(origin, d)
	}
	return nil
}
