package gamemap

import (
	"context"
	"sync"
	"testing"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/eventbus"
	"github.com/annel0/grid-dungeon/internal/vec"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEditsBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.room(t, f.cross(t), "player1")
	_, err := f.svc.CreatePlayer(ctx, "player1")
	require.NoError(t, err)

	res, err := f.svc.ApplyEdits(ctx, room.ID, []dungeon.Edit{
		{Position: vec.Vec2{X: 3, Y: 3}, NewKind: dungeon.KindFloor},
		{Position: vec.Vec2{X: 99, Y: 99}, NewKind: dungeon.KindFloor},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.Report.Applied)
	assert.Equal(t, []int{1}, res.Report.Skipped)
	assert.Empty(t, res.Report.Failed)
	assert.Equal(t, dungeon.Resources{Stone: 2}, res.Report.Harvested)

	cell, ok := res.Room.CellAt(vec.Vec2{X: 3, Y: 3})
	require.True(t, ok)
	assert.Equal(t, dungeon.KindFloor, cell.Kind)
	assert.True(t, cell.Resources.IsZero())
	require.Len(t, res.Room.Modifications, 1)
	assert.Equal(t, dungeon.KindWall, res.Room.Modifications[0].OriginalKind)
	assert.Equal(t, int64(1), res.Room.Version)

	stored, err := f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Room.Cells, stored.Cells)
	assert.Equal(t, int64(1), stored.Version)

	p, err := f.svc.GetPlayer(ctx, "player1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Resources.Stone)

	assert.Contains(t, f.bus.types(), eventbus.TypeCellsModified)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.edits.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.edits.WithLabelValues("skipped")))
}

func TestApplyEditsPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.room(t, f.cross(t), "player1")

	res, err := f.svc.ApplyEdits(ctx, room.ID, []dungeon.Edit{
		// стена без ресурсов нарушает инвариант
		{Position: vec.Vec2{X: 2, Y: 2}, NewKind: dungeon.KindWall},
		{Position: vec.Vec2{X: 4, Y: 4}, NewKind: dungeon.KindWall, Resources: &dungeon.Resources{Iron: 1}},
		// граница неизменяема
		{Position: vec.Vec2{X: 0, Y: 0}, NewKind: dungeon.KindFloor},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Report.Applied)
	require.Len(t, res.Report.Failed, 2)
	assert.ErrorIs(t, res.Report.Failed[0].Err, dungeon.ErrResourceInvariant)
	assert.ErrorIs(t, res.Report.Failed[1].Err, dungeon.ErrCellLocked)
	assert.ErrorIs(t, res.Report.Err(), dungeon.ErrResourceInvariant)

	cell, _ := res.Room.CellAt(vec.Vec2{X: 2, Y: 2})
	assert.Equal(t, dungeon.KindFloor, cell.Kind)
	cell, _ = res.Room.CellAt(vec.Vec2{X: 4, Y: 4})
	assert.Equal(t, dungeon.KindWall, cell.Kind)
}

func TestApplyEditsNothingApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.room(t, f.cross(t), "player1")

	res, err := f.svc.ApplyEdits(ctx, room.ID, []dungeon.Edit{
		{Position: vec.Vec2{X: 2, Y: 2}, NewKind: dungeon.KindWall},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Report.Applied)
	assert.Equal(t, int64(0), res.Room.Version)
	assert.NotContains(t, f.bus.types(), eventbus.TypeCellsModified)

	_, err = f.svc.ApplyEdits(ctx, "missing", nil)
	assert.ErrorIs(t, err, dungeon.ErrNotFound)
}

func TestConcurrentEditsAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.room(t, f.cross(t), "player1")

	// пять внутренних клеток первой строки пола
	var wg sync.WaitGroup
	for x := 1; x <= 5; x++ {
		wg.Add(1)
		go func(x int) {
			defer wg.Done()
			res, err := f.svc.ApplyEdits(ctx, room.ID, []dungeon.Edit{
				{Position: vec.Vec2{X: x, Y: 1}, NewKind: dungeon.KindWall, Resources: &dungeon.Resources{Copper: x}},
			})
			if assert.NoError(t, err) {
				assert.Len(t, res.Report.Applied, 1)
			}
		}(x)
	}
	wg.Wait()

	stored, err := f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Modifications, 5)
	assert.Equal(t, int64(5), stored.Version)
	assert.Equal(t, 0, f.svc.locks.size())

	replay, err := f.svc.ReplayRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, replay.Matches)
}

func TestReplayRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.room(t, f.cross(t), "player1")

	batches := [][]dungeon.Edit{
		{{Position: vec.Vec2{X: 3, Y: 3}, NewKind: dungeon.KindFloor}},
		{{Position: vec.Vec2{X: 3, Y: 3}, NewKind: dungeon.KindWall, Resources: &dungeon.Resources{Gold: 1}}},
		{{Position: vec.Vec2{X: 1, Y: 5}, NewKind: dungeon.KindWall, Resources: &dungeon.Resources{Stone: 1, Tin: 2}}},
	}
	for _, b := range batches {
		_, err := f.svc.ApplyEdits(ctx, room.ID, b)
		require.NoError(t, err)
	}

	res, err := f.svc.ReplayRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, res.Matches)

	stored, err := f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, dungeon.CellsEqual(stored.Cells, res.Cells))
	require.Len(t, stored.Modifications, 3)

	// подмена клетки в обход журнала обнаруживается
	tampered := stored.Clone()
	idx := tampered.CellIndex(vec.Vec2{X: 2, Y: 2})
	tampered.Cells[idx].Kind = dungeon.KindWall
	tampered.Cells[idx].Resources = dungeon.Resources{Silver: 9}
	require.NoError(t, f.store.UpdateRoomCells(ctx, tampered, stored.Version))

	res, err = f.svc.ReplayRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, res.Matches)
	assert.Contains(t, f.logs.String(), "diverged")
}
