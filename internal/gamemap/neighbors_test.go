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

func TestGetOrCreateNeighborIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.room(t, f.cross(t), "player1")

	b1, err := f.svc.GetOrCreateNeighbor(ctx, a.ID, dungeon.North)
	require.NoError(t, err)
	b2, err := f.svc.GetOrCreateNeighbor(ctx, a.ID, dungeon.North)
	require.NoError(t, err)
	assert.Equal(t, b1.ID, b2.ID)

	require.NotNil(t, b1.Coords)
	assert.Equal(t, vec.Vec2{X: 0, Y: -1}, *b1.Coords)
	assert.Equal(t, a.Ref(), b1.Connections[dungeon.South])

	stored, err := f.svc.GetRoom(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, b1.Ref(), stored.Connections[dungeon.North])

	rooms, err := f.svc.ListRoomsForOwner(ctx, "player1")
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.linksWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.roomsCreated.WithLabelValues("neighbor")))
}

func TestSouthThenNorthReturnsToSameRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.template(t, "Corridor", dungeon.North, dungeon.South)
	a := f.room(t, f.cross(t), "player1")

	res, err := f.svc.Transition(ctx, "player1", a.ID, dungeon.South)
	require.NoError(t, err)
	b := res.Room
	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, b.Exits.Has(dungeon.North))
	assert.Equal(t, dungeon.SpawnPosition(dungeon.South, b.Width, b.Height), res.Spawn)
	assert.Equal(t, vec.Vec2{X: 3, Y: 1}, res.Spawn)

	back, err := f.svc.Transition(ctx, "player1", b.ID, dungeon.North)
	require.NoError(t, err)
	assert.Equal(t, a.ID, back.Room.ID)
	assert.Equal(t, vec.Vec2{X: 3, Y: 5}, back.Spawn)

	rooms, err := f.svc.ListRoomsForOwner(ctx, "player1")
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
}

func TestTransitionChecksOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.room(t, f.cross(t), "player1")

	_, err := f.svc.Transition(ctx, "player2", a.ID, dungeon.South)
	assert.ErrorIs(t, err, dungeon.ErrNotFound)

	_, err = f.svc.CreatePlayer(ctx, "player1")
	require.NoError(t, err)
	res, err := f.svc.Transition(ctx, "player1", a.ID, dungeon.West)
	require.NoError(t, err)

	p, err := f.svc.GetPlayer(ctx, "player1")
	require.NoError(t, err)
	assert.Equal(t, res.Room.ID, p.CurrentRoomID)
	assert.Equal(t, res.Spawn, p.Position)
}

func TestNeighborRequiresExit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "DeadEnd", dungeon.South)
	a := f.room(t, tpl, "player1")

	_, err := f.svc.GetOrCreateNeighbor(ctx, a.ID, dungeon.North)
	var verr *dungeon.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "direction", verr.Field)

	_, err = f.svc.GetOrCreateNeighbor(ctx, a.ID, dungeon.Direction("down"))
	assert.ErrorIs(t, err, dungeon.ErrValidation)

	_, err = f.svc.GetOrCreateNeighbor(ctx, "missing", dungeon.North)
	assert.ErrorIs(t, err, dungeon.ErrNotFound)
}

func TestNeighborWithoutCompatibleTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// ни у одного шаблона нет северного выхода, уйти на юг некуда
	tpl := f.template(t, "DeadEnd", dungeon.South)
	a := f.room(t, tpl, "player1")

	_, err := f.svc.GetOrCreateNeighbor(ctx, a.ID, dungeon.South)
	assert.ErrorIs(t, err, dungeon.ErrNoTemplateAvailable)

	stored, err := f.svc.GetRoom(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Connections)
}

func TestConcurrentNeighborCreatesOneRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.room(t, f.cross(t), "player1")

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := f.svc.GetOrCreateNeighbor(ctx, a.ID, dungeon.East)
			if assert.NoError(t, err) {
				ids[i] = room.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	rooms, err := f.svc.ListRoomsForOwner(ctx, "player1")
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	issues, err := f.svc.VerifyGraph(ctx, "player1")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestLoopLinksExistingRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.room(t, f.cross(t), "player1")

	// (0,0) -> E (1,0) -> S (1,1) -> W (0,1) -> N снова (0,0)
	b, err := f.svc.GetOrCreateNeighbor(ctx, a.ID, dungeon.East)
	require.NoError(t, err)
	c, err := f.svc.GetOrCreateNeighbor(ctx, b.ID, dungeon.South)
	require.NoError(t, err)
	d, err := f.svc.GetOrCreateNeighbor(ctx, c.ID, dungeon.West)
	require.NoError(t, err)
	back, err := f.svc.GetOrCreateNeighbor(ctx, d.ID, dungeon.North)
	require.NoError(t, err)
	assert.Equal(t, a.ID, back.ID)
	assert.Equal(t, d.Ref(), back.Connections[dungeon.South])

	rooms, err := f.svc.ListRoomsForOwner(ctx, "player1")
	require.NoError(t, err)
	assert.Len(t, rooms, 4)

	issues, err := f.svc.VerifyGraph(ctx, "player1")
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Contains(t, f.bus.types(), eventbus.TypeRoomsLinked)
}

func TestLoopIntoRoomWithoutExit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// стартовая комната без южного выхода; после удаления её шаблона соседи строятся только из Cross
	start := f.template(t, "NorthEast", dungeon.North, dungeon.East)
	f.cross(t)
	a := f.room(t, start, "player1")
	require.NoError(t, f.svc.DeleteTemplate(ctx, start.ID))

	b, err := f.svc.GetOrCreateNeighbor(ctx, a.ID, dungeon.East)
	require.NoError(t, err)
	c, err := f.svc.GetOrCreateNeighbor(ctx, b.ID, dungeon.South)
	require.NoError(t, err)
	d, err := f.svc.GetOrCreateNeighbor(ctx, c.ID, dungeon.West)
	require.NoError(t, err)

	_, err = f.svc.GetOrCreateNeighbor(ctx, d.ID, dungeon.North)
	assert.ErrorIs(t, err, dungeon.ErrNoTemplateAvailable)

	stored, err := f.svc.GetRoom(ctx, d.ID)
	require.NoError(t, err)
	_, linked := stored.Connections[dungeon.North]
	assert.False(t, linked)
}

func TestVerifyGraphFindsAsymmetricLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.cross(t)
	a := f.room(t, tpl, "player1")
	b, err := f.svc.GetOrCreateNeighbor(ctx, a.ID, dungeon.North)
	require.NoError(t, err)

	// комната со ссылкой в никуда, записанная в обход сервиса
	broken, err := dungeon.Instantiate(tpl, "player1", testNow)
	require.NoError(t, err)
	broken.Connections[dungeon.East] = dungeon.Connection{RoomID: "ghost", TemplateID: tpl.ID}
	broken.Connections[dungeon.West] = b.Ref()
	require.NoError(t, f.store.InsertRoom(ctx, broken))

	issues, err := f.svc.VerifyGraph(ctx, "player1")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	byDir := map[dungeon.Direction]GraphIssue{}
	for _, is := range issues {
		assert.Equal(t, broken.ID, is.RoomID)
		byDir[is.Direction] = is
	}
	assert.Equal(t, "ghost", byDir[dungeon.East].NeighborID)
	assert.Contains(t, byDir[dungeon.East].Problem, "missing")
	assert.Contains(t, byDir[dungeon.West].Problem, "link back")

	// ссылка в никуда не разрешается переходом
	_, err = f.svc.GetOrCreateNeighbor(ctx, broken.ID, dungeon.East)
	assert.ErrorIs(t, err, dungeon.ErrConsistency)
}
