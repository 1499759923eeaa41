package dungeon

import (
	"encoding/json"
	"testing"

	"github.com/annel0/grid-dungeon/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOppositeIsInvolution(t *testing.T) {
	for _, d := range Directions {
		assert.NotEqual(t, d, d.Opposite())
		assert.Equal(t, d, d.Opposite().Opposite())
		assert.Equal(t, vec.Vec2{}, d.Delta().Add(d.Opposite().Delta()))
	}
}

func TestSpawnPositionInsideRoom(t *testing.T) {
	const w, h = 18, 18
	want := map[Direction]vec.Vec2{
		North: {X: 9, Y: 16},
		South: {X: 9, Y: 1},
		East:  {X: 1, Y: 9},
		West:  {X: 16, Y: 9},
	}
	for d, pos := range want {
		got := SpawnPosition(d, w, h)
		assert.Equal(t, pos, got, d)
		assert.True(t, got.InBounds(w, h))
		assert.False(t, got.OnBorder(w, h))
	}
}

// Пройти на север и сразу обратно: появляемся рядом с выходом, через который ушли
func TestSpawnPositionReversal(t *testing.T) {
	const w, h = 9, 7
	for _, d := range Directions {
		back := SpawnPosition(d.Opposite(), w, h)
		exit := CentralExitCell(d, w, h)
		assert.Equal(t, d.Delta(), exit.Sub(back), d)
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("NORTH")
	assert.NoError(t, err)
	assert.Equal(t, North, d)

	_, err = ParseDirection("up")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExitsList(t *testing.T) {
	e := ExitsOf(South, West)
	assert.True(t, e.Has(South))
	assert.False(t, e.Has(North))
	assert.Equal(t, []Direction{South, West}, e.List())
}

func TestDirectionDecodesCaseInsensitive(t *testing.T) {
	var dirs []Direction
	require.NoError(t, json.Unmarshal([]byte(`["North","EAST","south"]`), &dirs))
	assert.Equal(t, []Direction{North, East, South}, dirs)

	var room RoomInstance
	require.NoError(t, json.Unmarshal([]byte(`{"connections":{"West":{"roomId":"r2","templateId":"t1"}}}`), &room))
	assert.Equal(t, "r2", room.Connections[West].RoomID)

	var d Direction
	assert.ErrorIs(t, json.Unmarshal([]byte(`"up"`), &d), ErrValidation)
}
