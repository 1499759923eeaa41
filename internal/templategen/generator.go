// Package templategen строит шаблоны комнат: неразрушаемая граница,
// выходы в центрах сторон и стены с рудой, расставленные шумом Перлина.
package templategen

import (
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/util"
	"github.com/annel0/grid-dungeon/internal/vec"
)

// Настройки генерации по умолчанию
const (
	DefaultNoiseScale    = 0.35 // Масштаб шума стен
	DefaultWallThreshold = 0.56 // Выше - стена
	oreNoiseScale        = 0.5
)

// Пороги рудного шума: чем выше значение, тем реже руда
const (
	oreRare   = 0.80 // золото, серебро
	oreMetal  = 0.70 // железо
	oreCopper = 0.60 // медь
	oreLight  = 0.52 // олово, цинк
)

// Generator генерирует кандидатов шаблонов одинакового размера.
// Одинаковые сид, размер и имя дают одинаковую комнату.
type Generator struct {
	Width         int
	Height        int
	NoiseScale    float64
	WallThreshold float64

	seed    int64
	terrain *util.Noise
	ores    *util.Noise
}

// NewGenerator создаёт генератор комнат width×height
func NewGenerator(seed int64, width, height int) (*Generator, error) {
	if width < dungeon.MinRoomSide || height < dungeon.MinRoomSide {
		return nil, &dungeon.ValidationError{
			Entity: "generator",
			Field:  "size",
			Reason: fmt.Sprintf("room must be at least %dx%d, got %dx%d", dungeon.MinRoomSide, dungeon.MinRoomSide, width, height),
		}
	}
	return &Generator{
		Width:         width,
		Height:        height,
		NoiseScale:    DefaultNoiseScale,
		WallThreshold: DefaultWallThreshold,
		seed:          seed,
		terrain:       util.NewNoise(seed),
		ores:          util.NewNoise(seed + 42),
	}, nil
}

// Seed сид генератора
func (g *Generator) Seed() int64 { return g.seed }

// Candidate строит кандидата шаблона с выходами в указанных направлениях.
// Центральные строка и столбец остаются полом, поэтому каждый выход достижим из центра.
func (g *Generator) Candidate(name string, exits ...dungeon.Direction) (dungeon.TemplateCandidate, error) {
	if name == "" {
		return dungeon.TemplateCandidate{}, &dungeon.ValidationError{Entity: "template", Field: "name", Reason: "must not be empty"}
	}
	exitAt := make(map[vec.Vec2]bool, len(exits))
	for _, d := range exits {
		if !d.Valid() {
			return dungeon.TemplateCandidate{}, &dungeon.ValidationError{Entity: "template", Field: "exits", Reason: fmt.Sprintf("unknown direction %q", d)}
		}
		exitAt[dungeon.CentralExitCell(d, g.Width, g.Height)] = true
	}

	// разные имена берут разные участки шумового поля
	h := nameHash(name)
	offX := float64(h%1024) * 3.1
	offY := float64((h>>10)%1024) * 2.7
	rng := rand.New(rand.NewSource(g.seed ^ int64(h)))

	cx, cy := g.Width/2, g.Height/2
	cells := make([]dungeon.CellSpec, 0, g.Width*g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			pos := vec.Vec2{X: x, Y: y}
			spec := dungeon.CellSpec{X: x, Y: y, Kind: dungeon.KindFloor}

			nx := offX + float64(x)*g.NoiseScale
			ny := offY + float64(y)*g.NoiseScale

			switch {
			case exitAt[pos]:
				spec.Kind = dungeon.KindExit
			case pos.OnBorder(g.Width, g.Height):
				spec.Kind = dungeon.KindUnbreakable
			case x == cx || y == cy:
				// проход от центра к выходам
			case g.terrain.At(nx, ny) > g.WallThreshold:
				spec.Kind = dungeon.KindWall
				res := g.oreBundle(nx*oreNoiseScale, ny*oreNoiseScale, rng)
				spec.Resources = &res
			}
			cells = append(cells, spec)
		}
	}

	declared := dungeon.ExitsOf(exits...)
	return dungeon.TemplateCandidate{
		Name:   name,
		Width:  g.Width,
		Height: g.Height,
		Cells:  cells,
		Exits:  &declared,
	}, nil
}

// oreBundle ресурсы стены: камень всегда, руда по рудному шуму
func (g *Generator) oreBundle(x, y float64, rng *rand.Rand) dungeon.Resources {
	res := dungeon.Resources{Stone: 1 + rng.Intn(3)}
	v := g.ores.At(x, y)
	switch {
	case v > oreRare:
		if rng.Intn(2) == 0 {
			res.Gold = 1
		} else {
			res.Silver = 1 + rng.Intn(2)
		}
	case v > oreMetal:
		res.Iron = 1 + rng.Intn(3)
	case v > oreCopper:
		res.Copper = 1 + rng.Intn(3)
	case v > oreLight:
		if rng.Intn(2) == 0 {
			res.Tin = 1 + rng.Intn(2)
		} else {
			res.Zinc = 1 + rng.Intn(2)
		}
	}
	return res
}

func nameHash(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
