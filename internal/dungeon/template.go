package dungeon

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/annel0/grid-dungeon/internal/vec"
)

// Минимальный размер комнаты: граница плюс хотя бы одна внутренняя клетка
const MinRoomSide = 3

// BaseMapTemplate неизменяемый шаблон комнаты, созданный дизайнером
type BaseMapTemplate struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Width     int       `json:"width" bson:"width"`
	Height    int       `json:"height" bson:"height"`
	Cells     []Cell    `json:"cells" bson:"cells"`
	Exits     Exits     `json:"exits" bson:"exits"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// CellSpec клетка в заявке на создание шаблона; Resources == nil означает
// набор по умолчанию для типа.
type CellSpec struct {
	X         int        `json:"x"`
	Y         int        `json:"y"`
	Kind      CellKind   `json:"kind"`
	Resources *Resources `json:"resources,omitempty"`
}

// TemplateCandidate заявка на создание шаблона
type TemplateCandidate struct {
	Name   string     `json:"name"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Cells  []CellSpec `json:"cells"`
	Exits  *Exits     `json:"exits,omitempty"`
}

// BuildTemplate проверяет заявку и собирает шаблон.
// Клетки упорядочиваются построчно, выходы выводятся из клеток и сверяются с заявленными.
// Уникальность имени проверяет хранилище.
func BuildTemplate(c TemplateCandidate, id string, now time.Time) (*BaseMapTemplate, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return nil, invalid("template", "name", "name is required")
	}
	if c.Width < MinRoomSide || c.Height < MinRoomSide {
		return nil, invalid("template", "size", "width and height must be at least %d, got %dx%d",
			MinRoomSide, c.Width, c.Height)
	}
	if len(c.Cells) != c.Width*c.Height {
		return nil, invalid("template", "cells", "expected %d cells for %dx%d, got %d",
			c.Width*c.Height, c.Width, c.Height, len(c.Cells))
	}

	cells := make([]Cell, 0, len(c.Cells))
	seen := make(map[vec.Vec2]struct{}, len(c.Cells))
	for i, spec := range c.Cells {
		pos := vec.Vec2{X: spec.X, Y: spec.Y}
		if !pos.InBounds(c.Width, c.Height) {
			return nil, invalid("template", "cells", "cell #%d at %s is outside %dx%d", i, pos, c.Width, c.Height)
		}
		if _, dup := seen[pos]; dup {
			return nil, invalid("template", "cells", "duplicate cell at %s", pos)
		}
		seen[pos] = struct{}{}

		cell, err := NewCell(pos, spec.Kind, spec.Resources)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return nil, err
			}
			// нарушение инварианта ресурсов при создании шаблона отдаём как ошибку валидации клетки
			return nil, &ValidationError{Entity: "template", Field: "cells[" + pos.String() + "]", Reason: err.Error(), Cause: err}
		}
		if cell.Kind == KindExit && !pos.OnBorder(c.Width, c.Height) {
			return nil, invalid("template", "cells", "exit cell at %s must lie on the border", pos)
		}
		cells = append(cells, cell)
	}
	sortCells(cells)

	exits := DeriveExits(cells, c.Width, c.Height)
	if c.Exits != nil && *c.Exits != exits {
		return nil, invalid("template", "exits", "declared exits %v do not match exit cells %v",
			c.Exits.List(), exits.List())
	}

	return &BaseMapTemplate{
		ID:        id,
		Name:      name,
		Width:     c.Width,
		Height:    c.Height,
		Cells:     cells,
		Exits:     exits,
		CreatedAt: now,
	}, nil
}

// DeriveExits направление считается выходом, если центральная клетка его границы имеет тип Exit
func DeriveExits(cells []Cell, width, height int) Exits {
	var exits Exits
	for _, d := range Directions {
		idx := cellIndex(cells, width, CentralExitCell(d, width, height))
		if idx >= 0 && cells[idx].Kind == KindExit {
			exits.Set(d, true)
		}
	}
	return exits
}

// CheckShape проверяет, что шаблон пригоден для создания экземпляра
func (t *BaseMapTemplate) CheckShape() error {
	if t == nil {
		return &ValidationError{Entity: "template", Field: "template", Reason: "template is nil", Cause: ErrTemplateInvalid}
	}
	if len(t.Cells) == 0 {
		return &ValidationError{Entity: "template", Field: "cells", Reason: "template " + t.ID + " has no cells", Cause: ErrTemplateInvalid}
	}
	if len(t.Cells) != t.Width*t.Height {
		return &ValidationError{
			Entity: "template",
			Field:  "cells",
			Reason: "cell count does not match width*height in template " + t.ID,
			Cause:  ErrTemplateInvalid,
		}
	}
	return nil
}

// CellAt клетка шаблона по позиции
func (t *BaseMapTemplate) CellAt(pos vec.Vec2) (Cell, bool) {
	idx := cellIndex(t.Cells, t.Width, pos)
	if idx < 0 {
		return Cell{}, false
	}
	return t.Cells[idx], true
}

// Clone глубокая копия
func (t *BaseMapTemplate) Clone() *BaseMapTemplate {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Cells = cloneCells(t.Cells)
	return &cp
}

func sortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Position.Y != cells[j].Position.Y {
			return cells[i].Position.Y < cells[j].Position.Y
		}
		return cells[i].Position.X < cells[j].Position.X
	})
}

// cellIndex индекс клетки по позиции. Для построчно упорядоченных клеток
// ответ находится сразу, иначе линейный поиск.
func cellIndex(cells []Cell, width int, pos vec.Vec2) int {
	if pos.X < 0 || pos.Y < 0 || pos.X >= width {
		return -1
	}
	guess := pos.Y*width + pos.X
	if guess < len(cells) && cells[guess].Position == pos {
		return guess
	}
	for i := range cells {
		if cells[i].Position == pos {
			return i
		}
	}
	return -1
}
