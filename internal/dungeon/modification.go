package dungeon

import (
	"errors"
	"fmt"
	"time"

	"github.com/annel0/grid-dungeon/internal/vec"
)

// Edit запрошенное изменение одной клетки.
// Resources == nil означает пустой набор: стену без явно заданных ресурсов поставить нельзя.
type Edit struct {
	Position  vec.Vec2   `json:"position"`
	NewKind   CellKind   `json:"newKind"`
	Resources *Resources `json:"resources,omitempty"`
}

// EditFailure правка, отклонённая внутри пакета
type EditFailure struct {
	Index  int    `json:"index"`
	Edit   Edit   `json:"edit"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// EditReport результат применения пакета правок.
// Пропущенные правки (позиция вне комнаты) ошибкой не считаются.
type EditReport struct {
	Applied   []int         `json:"applied"`
	Skipped   []int         `json:"skipped"`
	Failed    []EditFailure `json:"failed"`
	Harvested Resources     `json:"harvested"`
}

// Err объединяет ошибки отклонённых правок или nil
func (r *EditReport) Err() error {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("edit #%d at %s: %w", f.Index, f.Edit.Position, f.Err))
	}
	return errors.Join(errs...)
}

// ApplyModifications применяет пакет правок к комнате на месте.
// Каждая правка проверяется отдельно: ошибка одной не прерывает остальные.
// Ресурсы сломанной стены попадают в Harvested.
func ApplyModifications(room *RoomInstance, edits []Edit, now time.Time) *EditReport {
	report := &EditReport{
		Applied: []int{},
		Skipped: []int{},
		Failed:  []EditFailure{},
	}
	fail := func(i int, e Edit, err error) {
		report.Failed = append(report.Failed, EditFailure{Index: i, Edit: e, Reason: err.Error(), Err: err})
	}

	for i, e := range edits {
		idx := room.CellIndex(e.Position)
		if idx < 0 {
			report.Skipped = append(report.Skipped, i)
			continue
		}
		if !e.NewKind.Valid() {
			fail(i, e, invalid("edit", "newKind", "unknown cell kind %q", e.NewKind))
			continue
		}
		if e.NewKind == KindExit || e.NewKind == KindUnbreakable {
			fail(i, e, invalid("edit", "newKind", "cells cannot be turned into %s", e.NewKind))
			continue
		}

		old := room.Cells[idx]
		if !old.Selectable() {
			fail(i, e, &ValidationError{
				Entity: "edit",
				Field:  "position",
				Reason: fmt.Sprintf("%s cell at %s cannot be edited", old.Kind, old.Position),
				Cause:  ErrCellLocked,
			})
			continue
		}

		var res Resources
		if e.Resources != nil {
			res = *e.Resources
		}
		ts := now
		next := Cell{Position: old.Position, Kind: e.NewKind, Resources: res, ModifiedAt: &ts}
		if err := Validate(next); err != nil {
			fail(i, e, err)
			continue
		}

		if old.Breakable() && !next.Kind.Solid() {
			report.Harvested = report.Harvested.Add(old.Resources)
		}
		room.Modifications = append(room.Modifications, Modification{
			Position:     old.Position,
			OriginalKind: old.Kind,
			NewKind:      next.Kind,
			Resources:    next.Resources,
			Timestamp:    now,
		})
		room.Cells[idx] = next
		room.LastModifiedAt = now
		report.Applied = append(report.Applied, i)
	}
	return report
}

// Replay восстанавливает клетки комнаты из шаблона и журнала изменений
func Replay(t *BaseMapTemplate, room *RoomInstance) ([]Cell, error) {
	if err := t.CheckShape(); err != nil {
		return nil, err
	}
	if room.TemplateID != t.ID {
		return nil, fmt.Errorf("%w: room %s was built from template %s, not %s",
			ErrConsistency, room.ID, room.TemplateID, t.ID)
	}
	cells, err := seedCells(t)
	if err != nil {
		return nil, err
	}

	for n, m := range room.Modifications {
		idx := cellIndex(cells, t.Width, m.Position)
		if idx < 0 {
			return nil, fmt.Errorf("%w: modification #%d of room %s points outside the room at %s",
				ErrConsistency, n, room.ID, m.Position)
		}
		if cells[idx].Kind != m.OriginalKind {
			return nil, fmt.Errorf("%w: modification #%d of room %s expects %s at %s, found %s",
				ErrConsistency, n, room.ID, m.OriginalKind, m.Position, cells[idx].Kind)
		}
		ts := m.Timestamp
		cells[idx] = Cell{Position: m.Position, Kind: m.NewKind, Resources: m.Resources, ModifiedAt: &ts}
		if err := Validate(cells[idx]); err != nil {
			return nil, fmt.Errorf("modification #%d of room %s: %w", n, room.ID, err)
		}
	}
	return cells, nil
}

// CellsEqual сравнивает два набора клеток с учётом времени изменения
func CellsEqual(a, b []Cell) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Position != b[i].Position || a[i].Kind != b[i].Kind || a[i].Resources != b[i].Resources {
			return false
		}
		switch {
		case a[i].ModifiedAt == nil && b[i].ModifiedAt == nil:
		case a[i].ModifiedAt == nil || b[i].ModifiedAt == nil:
			return false
		case !a[i].ModifiedAt.Equal(*b[i].ModifiedAt):
			return false
		}
	}
	return true
}
