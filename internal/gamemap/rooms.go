package gamemap

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/eventbus"
	"github.com/annel0/grid-dungeon/internal/storage"
	"github.com/annel0/grid-dungeon/internal/vec"
	"go.opentelemetry.io/otel/attribute"
)

// origin первая клетка сетки подземелья игрока
var origin = vec.Vec2{}

// CreateRoomForOwner создаёт комнату игрока из шаблона.
// Комната занимает (0,0), если клетка свободна, иначе создаётся вне сетки.
func (s *Service) CreateRoomForOwner(ctx context.Context, templateID, ownerID string) (room *dungeon.RoomInstance, err error) {
	ctx, end := s.startSpan(ctx, "CreateRoomForOwner",
		attribute.String("template.id", templateID), attribute.String("owner.id", ownerID))
	defer end(&err)

	t, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	room, err = dungeon.Instantiate(t, ownerID, s.now())
	if err != nil {
		return nil, err
	}

	at := origin
	room.Coords = &at
	err = s.rooms.InsertRoom(ctx, room)
	if errors.Is(err, storage.ErrCoordsTaken) {
		room.Coords = nil
		err = s.rooms.InsertRoom(ctx, room)
	}
	if err != nil {
		return nil, err
	}
	s.roomCreated(ctx, room, "owner", "", "")
	return room, nil
}

// GetRoom комната по id
func (s *Service) GetRoom(ctx context.Context, roomID string) (*dungeon.RoomInstance, error) {
	return s.rooms.GetRoom(ctx, roomID)
}

// GetRoomForOwner комната по id, если она принадлежит ownerID.
// Чужая комната неотличима от отсутствующей.
func (s *Service) GetRoomForOwner(ctx context.Context, roomID, ownerID string) (*dungeon.RoomInstance, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", storage.ErrRoomNotFound, roomID)
	}
	return room, nil
}

// ListRoomsForOwner комнаты игрока в порядке создания
func (s *Service) ListRoomsForOwner(ctx context.Context, ownerID string) ([]*dungeon.RoomInstance, error) {
	return s.rooms.ListRoomsByOwner(ctx, ownerID)
}

// ListRoomsForOwnerAndTemplate комнаты игрока, созданные из шаблона
func (s *Service) ListRoomsForOwnerAndTemplate(ctx context.Context, ownerID, templateID string) ([]*dungeon.RoomInstance, error) {
	return s.rooms.ListRoomsByOwnerAndTemplate(ctx, ownerID, templateID)
}

// EnterDungeon возвращает комнату, в которой игрок находится сейчас:
// записанную в профиле, иначе последнюю изменённую, иначе новую стартовую в (0,0).
func (s *Service) EnterDungeon(ctx context.Context, ownerID string) (room *dungeon.RoomInstance, err error) {
	ctx, end := s.startSpan(ctx, "EnterDungeon", attribute.String("owner.id", ownerID))
	defer end(&err)

	if ownerID == "" {
		return nil, &dungeon.ValidationError{Entity: "room", Field: "ownerId", Reason: "must not be empty"}
	}

	if s.players != nil {
		p, err := s.players.Get(ctx, ownerID)
		switch {
		case err == nil && p.CurrentRoomID != "":
			room, err := s.rooms.GetRoom(ctx, p.CurrentRoomID)
			if err == nil && room.OwnerID == ownerID {
				return room, nil
			}
			if err != nil && !errors.Is(err, dungeon.ErrNotFound) {
				return nil, err
			}
			s.logger.Warn("player %s points to missing room %s", ownerID, p.CurrentRoomID)
		case err != nil && !errors.Is(err, dungeon.ErrNotFound):
			return nil, err
		}
	}

	rooms, err := s.rooms.ListRoomsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(rooms) > 0 {
		room = rooms[0]
		for _, r := range rooms[1:] {
			if !r.LastModifiedAt.Before(room.LastModifiedAt) {
				room = r
			}
		}
	} else {
		room, err = s.createStartRoom(ctx, ownerID)
		if err != nil {
			return nil, err
		}
	}

	s.placePlayer(ctx, ownerID, room, vec.Vec2{X: room.Width / 2, Y: room.Height / 2})
	return room, nil
}

// createStartRoom создаёт первую комнату игрока из стартового шаблона
func (s *Service) createStartRoom(ctx context.Context, ownerID string) (*dungeon.RoomInstance, error) {
	t, err := s.templates.GetTemplateByName(ctx, s.startTemplate)
	if errors.Is(err, dungeon.ErrNotFound) {
		return nil, fmt.Errorf("%w: start template %q is missing", dungeon.ErrNoTemplateAvailable, s.startTemplate)
	}
	if err != nil {
		return nil, err
	}
	room, err := dungeon.Instantiate(t, ownerID, s.now())
	if err != nil {
		return nil, err
	}
	at := origin
	room.Coords = &at

	err = s.rooms.InsertRoom(ctx, room)
	if errors.Is(err, storage.ErrCoordsTaken) {
		// параллельный вход уже создал стартовую комнату
		return s.rooms.FindRoomAt(ctx, ownerID, origin)
	}
	if err != nil {
		return nil, err
	}
	s.roomCreated(ctx, room, "start", "", "")
	return room, nil
}

// placePlayer записывает положение игрока. Отсутствие профиля не ошибка:
// владелец комнаты может не иметь записи игрока.
func (s *Service) placePlayer(ctx context.Context, ownerID string, room *dungeon.RoomInstance, pos vec.Vec2) {
	if s.players == nil {
		return
	}
	err := s.players.SetLocation(ctx, ownerID, room.ID, pos)
	switch {
	case err == nil:
	case errors.Is(err, dungeon.ErrNotFound):
		s.logger.Debug("no player record for %s, location not stored", ownerID)
	default:
		s.logger.Warn("set location of %s: %v", ownerID, err)
	}
}

func (s *Service) roomCreated(ctx context.Context, room *dungeon.RoomInstance, reason, fromRoomID string, d dungeon.Direction) {
	s.metrics.roomsCreated.WithLabelValues(reason).Inc()
	s.logger.Debug("room %s (%s) created for %s: %s", room.ID, room.TemplateID, room.OwnerID, reason)
	s.publish(ctx, eventbus.TypeRoomCreated, room.OwnerID, eventbus.RoomCreatedEvent{
		RoomID:     room.ID,
		TemplateID: room.TemplateID,
		OwnerID:    room.OwnerID,
		FromRoomID: fromRoomID,
		Direction:  string(d),
	})
}
