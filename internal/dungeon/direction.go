package dungeon

import (
	"strings"

	"github.com/annel0/grid-dungeon/internal/vec"
)

// Direction сторона света
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

// Directions все направления в фиксированном порядке
var Directions = [...]Direction{North, East, South, West}

// ParseDirection разбирает направление без учёта регистра
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", invalid("", "direction", "unknown direction %q", s)
	}
	return d, nil
}

// UnmarshalText разбирает направление из JSON, в том числе ключи карт
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Direction) Valid() bool {
	switch d {
	case North, South, East, West:
		return true
	default:
		return false
	}
}

// Opposite North<->South, East<->West
func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	default:
		return d
	}
}

// Delta шаг в сетке. Север уменьшает Y.
func (d Direction) Delta() vec.Vec2 {
	switch d {
	case North:
		return vec.Vec2{X: 0, Y: -1}
	case South:
		return vec.Vec2{X: 0, Y: 1}
	case East:
		return vec.Vec2{X: 1, Y: 0}
	case West:
		return vec.Vec2{X: -1, Y: 0}
	default:
		return vec.Vec2{}
	}
}

// Exits набор направлений, в которых у шаблона есть выход
type Exits struct {
	North bool `json:"north" bson:"north"`
	South bool `json:"south" bson:"south"`
	East  bool `json:"east" bson:"east"`
	West  bool `json:"west" bson:"west"`
}

// ExitsOf собирает набор из списка направлений
func ExitsOf(dirs ...Direction) Exits {
	var e Exits
	for _, d := range dirs {
		e.Set(d, true)
	}
	return e
}

func (e Exits) Has(d Direction) bool {
	switch d {
	case North:
		return e.North
	case South:
		return e.South
	case East:
		return e.East
	case West:
		return e.West
	default:
		return false
	}
}

func (e *Exits) Set(d Direction, v bool) {
	switch d {
	case North:
		e.North = v
	case South:
		e.South = v
	case East:
		e.East = v
	case West:
		e.West = v
	}
}

// List направления набора в порядке Directions
func (e Exits) List() []Direction {
	out := make([]Direction, 0, 4)
	for _, d := range Directions {
		if e.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// CentralExitCell клетка в центре соответствующей границы комнаты
func CentralExitCell(d Direction, width, height int) vec.Vec2 {
	switch d {
	case North:
		return vec.Vec2{X: width / 2, Y: 0}
	case South:
		return vec.Vec2{X: width / 2, Y: height - 1}
	case East:
		return vec.Vec2{X: width - 1, Y: height / 2}
	case West:
		return vec.Vec2{X: 0, Y: height / 2}
	default:
		return vec.Vec2{X: width / 2, Y: height / 2}
	}
}

// SpawnPosition точка появления игрока в соседней комнате после прохода
// в направлении d: на одну клетку внутрь от центрального выхода противоположной стороны.
// Зависит только от направления и размеров комнаты.
func SpawnPosition(d Direction, width, height int) vec.Vec2 {
	entry := d.Opposite()
	return CentralExitCell(entry, width, height).Sub(entry.Delta())
}
