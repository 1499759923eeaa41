package dungeon

import (
	"strings"
	"time"
)

// Instantiate создаёт новую комнату игрока из шаблона.
// Единственный способ получить изменяемую RoomInstance: клетки копируются,
// ресурсы не-стен обнуляются, стены сохраняют набор шаблона.
func Instantiate(t *BaseMapTemplate, ownerID string, now time.Time) (*RoomInstance, error) {
	if err := t.CheckShape(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, invalid("room", "ownerId", "owner id is required")
	}

	cells, err := seedCells(t)
	if err != nil {
		return nil, err
	}

	return &RoomInstance{
		ID:             NewRoomID(),
		TemplateID:     t.ID,
		OwnerID:        ownerID,
		Width:          t.Width,
		Height:         t.Height,
		Exits:          t.Exits,
		Cells:          cells,
		Modifications:  []Modification{},
		Connections:    map[Direction]Connection{},
		CreatedAt:      now,
		LastModifiedAt: now,
	}, nil
}

// seedCells начальное состояние клеток комнаты для шаблона
func seedCells(t *BaseMapTemplate) ([]Cell, error) {
	cells := make([]Cell, len(t.Cells))
	for i, src := range t.Cells {
		cell := Cell{Position: src.Position, Kind: src.Kind}
		if src.Kind.Solid() {
			cell.Resources = src.Resources
		}
		if err := Validate(cell); err != nil {
			return nil, &ValidationError{
				Entity: "template",
				Field:  "cells[" + src.Position.String() + "]",
				Reason: "template " + t.ID + ": " + err.Error(),
				Cause:  ErrTemplateInvalid,
			}
		}
		cells[i] = cell
	}
	return cells, nil
}
