package dungeon

import (
	"testing"
	"time"

	"github.com/annel0/grid-dungeon/internal/vec"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// roomCandidate комната w×h: неразрушаемая граница, пол внутри,
// выходы в центрах указанных сторон, стена с stone=2 в (3,3).
func roomCandidate(name string, w, h int, exits ...Direction) TemplateCandidate {
	exitAt := make(map[vec.Vec2]bool)
	for _, d := range exits {
		exitAt[CentralExitCell(d, w, h)] = true
	}
	cells := make([]CellSpec, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pos := vec.Vec2{X: x, Y: y}
			spec := CellSpec{X: x, Y: y, Kind: KindFloor}
			switch {
			case exitAt[pos]:
				spec.Kind = KindExit
			case pos.OnBorder(w, h):
				spec.Kind = KindUnbreakable
			case x == 3 && y == 3:
				spec.Kind = KindWall
				spec.Resources = &Resources{Stone: 2}
			}
			cells = append(cells, spec)
		}
	}
	return TemplateCandidate{Name: name, Width: w, Height: h, Cells: cells}
}

func mustTemplate(t *testing.T, name string, w, h int, exits ...Direction) *BaseMapTemplate {
	t.Helper()
	tpl, err := BuildTemplate(roomCandidate(name, w, h, exits...), "tpl-"+name, testNow)
	require.NoError(t, err)
	return tpl
}
