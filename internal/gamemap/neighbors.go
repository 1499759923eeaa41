package gamemap

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/eventbus"
	"github.com/annel0/grid-dungeon/internal/vec"
	"go.opentelemetry.io/otel/attribute"
)

// TransitionResult комната, в которую перешёл игрок, и точка появления в ней
type TransitionResult struct {
	Room  *dungeon.RoomInstance `json:"room"`
	Spawn vec.Vec2              `json:"spawn"`
}

// GetOrCreateNeighbor возвращает соседа комнаты в направлении d, создавая его при первом проходе.
// Связь записывается атомарно с обеих сторон; при гонке проигравший перечитывает комнату
// и получает соседа, созданного победителем.
func (s *Service) GetOrCreateNeighbor(ctx context.Context, roomID string, d dungeon.Direction) (n *dungeon.RoomInstance, err error) {
	ctx, end := s.startSpan(ctx, "GetOrCreateNeighbor",
		attribute.String("room.id", roomID), attribute.String("direction", string(d)))
	defer end(&err)

	if err := checkDirection(d); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= s.linkRetries; attempt++ {
		room, err := s.rooms.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if !room.Exits.Has(d) {
			return nil, &dungeon.ValidationError{
				Entity: "room",
				Field:  "direction",
				Reason: fmt.Sprintf("room %s has no %s exit", room.ID, d),
			}
		}

		if conn, ok := room.ConnectionTo(d); ok {
			n, err := s.resolveConnection(ctx, room, d, conn)
			if err == nil {
				return n, nil
			}
			if !errors.Is(err, dungeon.ErrConsistency) {
				return nil, err
			}
			lastErr = err
			s.metrics.linkConflicts.Inc()
			s.logger.Warn("neighbor %s of room %s: %v (attempt %d)", d, room.ID, err, attempt+1)
			continue
		}

		n, err := s.linkNeighbor(ctx, room, d)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, dungeon.ErrConsistency) {
			return nil, err
		}
		lastErr = err
		s.metrics.linkConflicts.Inc()
		s.logger.Warn("link %s of room %s: %v (attempt %d)", d, room.ID, err, attempt+1)
	}
	return nil, fmt.Errorf("room %s %s: giving up after %d attempts: %w", roomID, d, s.linkRetries+1, lastErr)
}

// resolveConnection читает соседа по ссылке и проверяет обратную ссылку
func (s *Service) resolveConnection(ctx context.Context, room *dungeon.RoomInstance, d dungeon.Direction, conn dungeon.Connection) (*dungeon.RoomInstance, error) {
	n, err := s.rooms.GetRoom(ctx, conn.RoomID)
	if errors.Is(err, dungeon.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s.%s points to missing room %s", dungeon.ErrConsistency, room.ID, d, conn.RoomID)
	}
	if err != nil {
		return nil, err
	}
	back, ok := n.ConnectionTo(d.Opposite())
	if !ok || back.RoomID != room.ID {
		return nil, fmt.Errorf("%w: %s.%s -> %s has no link back", dungeon.ErrConsistency, room.ID, d, n.ID)
	}
	return n, nil
}

// linkNeighbor связывает комнату с соседом по сетке или создаёт нового соседа
func (s *Service) linkNeighbor(ctx context.Context, room *dungeon.RoomInstance, d dungeon.Direction) (*dungeon.RoomInstance, error) {
	opposite := d.Opposite()

	if room.Coords != nil {
		target := room.Coords.Add(d.Delta())
		existing, err := s.rooms.FindRoomAt(ctx, room.OwnerID, target)
		switch {
		case err == nil:
			if !existing.Exits.Has(opposite) {
				return nil, fmt.Errorf("%w: room %s at %s has no %s exit",
					dungeon.ErrNoTemplateAvailable, existing.ID, target, opposite)
			}
			if conn, taken := existing.ConnectionTo(opposite); taken {
				if conn.RoomID == room.ID {
					// связь уже записана параллельным запросом, комнату нужно перечитать
					return nil, fmt.Errorf("%w: %s.%s was linked concurrently", dungeon.ErrConsistency, room.ID, d)
				}
				return nil, fmt.Errorf("%w: room %s at %s is already linked %s to %s",
					dungeon.ErrNoTemplateAvailable, existing.ID, target, opposite, conn.RoomID)
			}
			if err := s.rooms.LinkRooms(ctx, room.ID, d, existing.ID); err != nil {
				return nil, err
			}
			s.metrics.linksWritten.Inc()
			s.logger.Debug("room %s linked %s to existing room %s at %s", room.ID, d, existing.ID, target)
			s.publish(ctx, eventbus.TypeRoomsLinked, room.OwnerID, eventbus.RoomsLinkedEvent{
				OwnerID:    room.OwnerID,
				RoomID:     room.ID,
				Direction:  string(d),
				NeighborID: existing.ID,
			})
			existing.Connections[opposite] = room.Ref()
			return existing, nil
		case !errors.Is(err, dungeon.ErrNotFound):
			return nil, err
		}
	}

	t, err := s.FindRandomWithExit(ctx, opposite)
	if err != nil {
		return nil, err
	}
	n, err := dungeon.Instantiate(t, room.OwnerID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.rooms.CreateNeighbor(ctx, room.ID, d, n); err != nil {
		return nil, err
	}
	s.metrics.linksWritten.Inc()
	s.roomCreated(ctx, n, "neighbor", room.ID, d)
	return n, nil
}

// Transition переводит игрока из комнаты roomID через выход d.
// Точка появления зависит только от направления и размеров новой комнаты.
func (s *Service) Transition(ctx context.Context, ownerID, roomID string, d dungeon.Direction) (res *TransitionResult, err error) {
	ctx, end := s.startSpan(ctx, "Transition",
		attribute.String("owner.id", ownerID), attribute.String("room.id", roomID), attribute.String("direction", string(d)))
	defer end(&err)

	if _, err := s.GetRoomForOwner(ctx, roomID, ownerID); err != nil {
		return nil, err
	}
	n, err := s.GetOrCreateNeighbor(ctx, roomID, d)
	if err != nil {
		return nil, err
	}
	spawn := dungeon.SpawnPosition(d, n.Width, n.Height)
	s.placePlayer(ctx, ownerID, n, spawn)
	return &TransitionResult{Room: n, Spawn: spawn}, nil
}
