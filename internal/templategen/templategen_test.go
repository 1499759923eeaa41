package templategen

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/gamemap"
	"github.com/annel0/grid-dungeon/internal/storage"
	"github.com/annel0/grid-dungeon/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestCandidateShape(t *testing.T) {
	gen, err := NewGenerator(7, 15, 11)
	require.NoError(t, err)

	walls := 0
	for _, spec := range StandardSet("First") {
		c, err := gen.Candidate(spec.Name, spec.Exits...)
		require.NoError(t, err)

		tpl, err := dungeon.BuildTemplate(c, "id-"+spec.Name, testNow)
		require.NoError(t, err, spec.Name)
		assert.Equal(t, dungeon.ExitsOf(spec.Exits...), tpl.Exits, spec.Name)

		for _, cell := range tpl.Cells {
			pos := cell.Position
			switch {
			case cell.Kind == dungeon.KindExit:
				assert.True(t, pos.OnBorder(15, 11))
			case pos.OnBorder(15, 11):
				assert.Equal(t, dungeon.KindUnbreakable, cell.Kind, "border %s", pos)
			case pos.X == 7 || pos.Y == 5:
				assert.Equal(t, dungeon.KindFloor, cell.Kind, "corridor %s", pos)
			case cell.Kind == dungeon.KindWall:
				walls++
				assert.GreaterOrEqual(t, cell.Resources.Stone, 1)
			}
		}
	}
	assert.Greater(t, walls, 0)
}

func TestCandidateDeterministic(t *testing.T) {
	a, err := NewGenerator(99, 9, 9)
	require.NoError(t, err)
	b, err := NewGenerator(99, 9, 9)
	require.NoError(t, err)
	a.WallThreshold, b.WallThreshold = 0.5, 0.5

	ca, err := a.Candidate("Hall", dungeon.North)
	require.NoError(t, err)
	cb, err := b.Candidate("Hall", dungeon.North)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)

	other, err := a.Candidate("Vault", dungeon.North)
	require.NoError(t, err)
	assert.NotEqual(t, ca.Cells, other.Cells)
}

func TestGeneratorRejectsBadInput(t *testing.T) {
	_, err := NewGenerator(1, 2, 9)
	assert.ErrorIs(t, err, dungeon.ErrValidation)

	gen, err := NewGenerator(1, 5, 5)
	require.NoError(t, err)
	_, err = gen.Candidate("", dungeon.North)
	assert.ErrorIs(t, err, dungeon.ErrValidation)
	_, err = gen.Candidate("Up", dungeon.Direction("up"))
	assert.ErrorIs(t, err, dungeon.ErrValidation)
}

func TestStandardSet(t *testing.T) {
	specs := StandardSet("First")
	require.Len(t, specs, 16)
	assert.Equal(t, "First", specs[0].Name)
	assert.Len(t, specs[0].Exits, 4)

	names := make(map[string]bool)
	for _, s := range specs {
		assert.False(t, names[s.Name], "duplicate %s", s.Name)
		names[s.Name] = true
		assert.NotEmpty(t, s.Exits)
	}
	assert.True(t, names["Room-N"])
	assert.True(t, names["Room-NESW"])
	assert.True(t, names["Room-SW"])
}

func TestSeedTemplates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc, err := gamemap.NewService(gamemap.Options{Templates: store, Rooms: store})
	require.NoError(t, err)
	gen, err := NewGenerator(3, 9, 7)
	require.NoError(t, err)

	n, err := SeedTemplates(ctx, svc, gen, "First")
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	// повторный засев ничего не меняет
	n, err = SeedTemplates(ctx, svc, gen, "First")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, d := range dungeon.Directions {
		ts, err := svc.ListTemplatesWithExit(ctx, d)
		require.NoError(t, err)
		// восемь подмножеств с этим направлением и стартовый шаблон
		assert.Len(t, ts, 9, "templates with exit %s", d)
	}

	// стартовая комната игрока строится из засеянного шаблона
	room, err := svc.EnterDungeon(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, &vec.Vec2{}, room.Coords)
	first, err := svc.GetTemplateByName(ctx, "First")
	require.NoError(t, err)
	assert.Equal(t, first.ID, room.TemplateID)
}
