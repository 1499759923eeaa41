package gamemap

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/eventbus"
	"github.com/annel0/grid-dungeon/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

// EditResult комната после пакета правок и отчёт по каждой правке
type EditResult struct {
	Room   *dungeon.RoomInstance `json:"room"`
	Report *dungeon.EditReport   `json:"report"`
}

// ReplayResult клетки, восстановленные из шаблона и журнала
type ReplayResult struct {
	RoomID  string         `json:"roomId"`
	Cells   []dungeon.Cell `json:"cells"`
	Matches bool           `json:"matches"`
}

// ApplyEdits применяет пакет правок к комнате.
// Отклонённые правки попадают в отчёт и не мешают остальным; сохранение идёт
// одним условным обновлением по версии комнаты, при конфликте пакет применяется заново
// к свежей копии.
func (s *Service) ApplyEdits(ctx context.Context, roomID string, edits []dungeon.Edit) (res *EditResult, err error) {
	ctx, end := s.startSpan(ctx, "ApplyEdits",
		attribute.String("room.id", roomID), attribute.Int("edits", len(edits)))
	defer end(&err)

	unlock := s.locks.Lock(roomID)
	defer unlock()

	for attempt := 0; attempt <= s.linkRetries; attempt++ {
		room, err := s.rooms.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		work := room.Clone()
		report := dungeon.ApplyModifications(work, edits, s.now())
		if len(report.Applied) == 0 {
			s.metrics.editReport(0, len(report.Failed), len(report.Skipped))
			return &EditResult{Room: room, Report: report}, nil
		}

		err = s.rooms.UpdateRoomCells(ctx, work, room.Version)
		if errors.Is(err, storage.ErrVersionConflict) {
			s.metrics.linkConflicts.Inc()
			s.logger.Warn("room %s changed concurrently, reapplying %d edits (attempt %d)", roomID, len(edits), attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.metrics.editReport(len(report.Applied), len(report.Failed), len(report.Skipped))
		s.creditHarvest(ctx, work.OwnerID, report.Harvested)
		s.logger.Debug("room %s: %d edits applied, %d failed, %d skipped, version %d",
			roomID, len(report.Applied), len(report.Failed), len(report.Skipped), work.Version)
		s.publish(ctx, eventbus.TypeCellsModified, work.ID, eventbus.CellsModifiedEvent{
			RoomID:    work.ID,
			OwnerID:   work.OwnerID,
			Applied:   len(report.Applied),
			Failed:    len(report.Failed),
			Skipped:   len(report.Skipped),
			Version:   work.Version,
			Harvested: report.Harvested.Total(),
		})
		return &EditResult{Room: work, Report: report}, nil
	}
	return nil, fmt.Errorf("room %s: edits not saved after %d attempts: %w", roomID, s.linkRetries+1, storage.ErrVersionConflict)
}

// creditHarvest зачисляет добычу игроку. Правка комнаты уже сохранена
// и не откатывается, если зачислить не удалось.
func (s *Service) creditHarvest(ctx context.Context, ownerID string, res dungeon.Resources) {
	if s.players == nil || res.IsZero() {
		return
	}
	if _, err := s.players.AddResources(ctx, ownerID, res); err != nil {
		s.logger.Warn("harvest %s for %s not credited: %v", res, ownerID, err)
	}
}

// ReplayRoom восстанавливает клетки комнаты по шаблону и журналу и сравнивает с текущими
func (s *Service) ReplayRoom(ctx context.Context, roomID string) (res *ReplayResult, err error) {
	ctx, end := s.startSpan(ctx, "ReplayRoom", attribute.String("room.id", roomID))
	defer end(&err)

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	t, err := s.templates.GetTemplate(ctx, room.TemplateID)
	if err != nil {
		return nil, err
	}
	cells, err := dungeon.Replay(t, room)
	if err != nil {
		return nil, err
	}
	matches := dungeon.CellsEqual(cells, room.Cells)
	if !matches {
		s.logger.Warn("room %s diverged from its modification log", roomID)
	}
	return &ReplayResult{RoomID: room.ID, Cells: cells, Matches: matches}, nil
}
