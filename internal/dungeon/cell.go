package dungeon

import (
	"fmt"
	"strings"
	"time"

	"github.com/annel0/grid-dungeon/internal/vec"
)

// CellKind тип клетки
type CellKind string

const (
	KindWall        CellKind = "wall"
	KindFloor       CellKind = "floor"
	KindExit        CellKind = "exit"
	KindUnbreakable CellKind = "unbreakable"
)

// ParseCellKind разбирает тип клетки без учёта регистра
func ParseCellKind(s string) (CellKind, error) {
	kind := CellKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.Valid() {
		return "", invalid("cell", "kind", "unknown cell kind %q", s)
	}
	return kind, nil
}

// UnmarshalText принимает тип в любом регистре ("Floor", "WALL")
func (k *CellKind) UnmarshalText(text []byte) error {
	kind, err := ParseCellKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Valid проверяет, что тип входит в перечисление
func (k CellKind) Valid() bool {
	switch k {
	case KindWall, KindFloor, KindExit, KindUnbreakable:
		return true
	default:
		return false
	}
}

// Solid возвращает true для стен (разрушаемых и нет).
// Только такие клетки могут хранить ресурсы.
func (k CellKind) Solid() bool {
	switch k {
	case KindWall, KindUnbreakable:
		return true
	default:
		return false
	}
}

// ResourceNames порядок счётчиков ресурсов
var ResourceNames = [...]string{"stone", "iron", "copper", "zinc", "tin", "gold", "silver"}

// Resources набор из семи неотрицательных счётчиков руды
type Resources struct {
	Stone  int `json:"stone" bson:"stone"`
	Iron   int `json:"iron" bson:"iron"`
	Copper int `json:"copper" bson:"copper"`
	Zinc   int `json:"zinc" bson:"zinc"`
	Tin    int `json:"tin" bson:"tin"`
	Gold   int `json:"gold" bson:"gold"`
	Silver int `json:"silver" bson:"silver"`
}

// Values возвращает счётчики в порядке ResourceNames
func (r Resources) Values() [7]int {
	return [7]int{r.Stone, r.Iron, r.Copper, r.Zinc, r.Tin, r.Gold, r.Silver}
}

// Total сумма всех счётчиков
func (r Resources) Total() int {
	total := 0
	for _, v := range r.Values() {
		total += v
	}
	return total
}

// IsZero все счётчики равны нулю
func (r Resources) IsZero() bool {
	return r == Resources{}
}

// Add складывает наборы поэлементно
func (r Resources) Add(o Resources) Resources {
	return Resources{
		Stone:  r.Stone + o.Stone,
		Iron:   r.Iron + o.Iron,
		Copper: r.Copper + o.Copper,
		Zinc:   r.Zinc + o.Zinc,
		Tin:    r.Tin + o.Tin,
		Gold:   r.Gold + o.Gold,
		Silver: r.Silver + o.Silver,
	}
}

// firstNegative возвращает имя первого отрицательного счётчика
func (r Resources) firstNegative() (string, bool) {
	for i, v := range r.Values() {
		if v < 0 {
			return ResourceNames[i], true
		}
	}
	return "", false
}

// firstNonZero возвращает имя первого ненулевого счётчика
func (r Resources) firstNonZero() (string, bool) {
	for i, v := range r.Values() {
		if v != 0 {
			return ResourceNames[i], true
		}
	}
	return "", false
}

func (r Resources) String() string {
	parts := make([]string, 0, len(ResourceNames))
	for i, v := range r.Values() {
		if v != 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", ResourceNames[i], v))
		}
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Cell одна клетка сетки
type Cell struct {
	Position   vec.Vec2   `json:"position" bson:"position"`
	Kind       CellKind   `json:"kind" bson:"kind"`
	Resources  Resources  `json:"resources" bson:"resources"`
	ModifiedAt *time.Time `json:"modifiedAt,omitempty" bson:"modified_at,omitempty"`
}

// Breakable стену можно сломать киркой
func (c Cell) Breakable() bool {
	return c.Kind == KindWall
}

// Selectable клетку можно редактировать: пол или разрушаемая стена.
// Выходы и неразрушаемые стены задаются шаблоном и не меняются.
func (c Cell) Selectable() bool {
	return c.Kind == KindFloor || c.Breakable()
}

// DefaultResources набор ресурсов по умолчанию для новой клетки шаблона:
// стенам одна единица камня, остальным ноль.
func DefaultResources(kind CellKind) Resources {
	if kind.Solid() {
		return Resources{Stone: 1}
	}
	return Resources{}
}

// NewCell создаёт проверенную клетку. Если res == nil, используются ресурсы по умолчанию.
func NewCell(pos vec.Vec2, kind CellKind, res *Resources) (Cell, error) {
	cell := Cell{Position: pos, Kind: kind}
	if res != nil {
		cell.Resources = *res
	} else {
		cell.Resources = DefaultResources(kind)
	}
	if err := Validate(cell); err != nil {
		return Cell{}, err
	}
	return cell, nil
}

// Validate проверяет инвариант ресурсов: стены хранят хотя бы одну единицу,
// пол и выходы не хранят ничего. Любой путь записи клетки обязан вызывать Validate.
func Validate(c Cell) error {
	if !c.Kind.Valid() {
		return invalid("cell", "kind", "unknown cell kind %q at %s", c.Kind, c.Position)
	}
	if name, neg := c.Resources.firstNegative(); neg {
		return &InvariantError{
			Position:  c.Position,
			Kind:      c.Kind,
			Resources: c.Resources,
			Reason:    fmt.Sprintf("resource %s is negative", name),
		}
	}
	if c.Kind.Solid() {
		if c.Resources.Total() == 0 {
			return &InvariantError{
				Position:  c.Position,
				Kind:      c.Kind,
				Resources: c.Resources,
				Reason:    "wall cells must hold at least one resource",
			}
		}
		return nil
	}
	if name, nonZero := c.Resources.firstNonZero(); nonZero {
		return &InvariantError{
			Position:  c.Position,
			Kind:      c.Kind,
			Resources: c.Resources,
			Reason:    fmt.Sprintf("%s cells must not hold resources (%s is set)", c.Kind, name),
		}
	}
	return nil
}

func cloneCells(cells []Cell) []Cell {
	out := make([]Cell, len(cells))
	for i, c := range cells {
		out[i] = c
		if c.ModifiedAt != nil {
			ts := *c.ModifiedAt
			out[i].ModifiedAt = &ts
		}
	}
	return out
}
