package gamemap

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/eventbus"
	"github.com/annel0/grid-dungeon/internal/logging"
	"github.com/annel0/grid-dungeon/internal/player"
	"github.com/annel0/grid-dungeon/internal/storage"
	"github.com/annel0/grid-dungeon/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const roomSide = 7

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// recordingBus запоминает опубликованные события
type recordingBus struct {
	mu     sync.Mutex
	events []*eventbus.Envelope
}

func (b *recordingBus) Publish(ctx context.Context, ev *eventbus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.EventType
	}
	return out
}

type fixture struct {
	svc     *Service
	store   *storage.MemoryStore
	players *player.MemoryRepo
	bus     *recordingBus
	reg     *prometheus.Registry
	logs    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   storage.NewMemoryStore(),
		players: player.NewMemoryRepo(),
		bus:     &recordingBus{},
		reg:     prometheus.NewRegistry(),
		logs:    &bytes.Buffer{},
	}
	// часы сдвигаются на секунду при каждом вызове, чтобы порядок правок был виден
	var mu sync.Mutex
	tick := testNow
	svc, err := NewService(Options{
		Templates: f.store,
		Rooms:     f.store,
		Players:   f.players,
		Bus:       f.bus,
		Metrics:   NewMetrics(f.reg),
		Picker:    NewPicker(42),
		Logger:    logging.NewWriterLogger("gamemap", f.logs, logging.DEBUG),
		Clock: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick = tick.Add(time.Second)
			return tick
		},
		LinkRetries: 5,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

// candidate комната 7×7: неразрушаемая граница, пол внутри,
// выходы в центрах указанных сторон, стена с stone=2 в (3,3).
func candidate(name string, exits ...dungeon.Direction) dungeon.TemplateCandidate {
	exitAt := make(map[vec.Vec2]bool)
	for _, d := range exits {
		exitAt[dungeon.CentralExitCell(d, roomSide, roomSide)] = true
	}
	cells := make([]dungeon.CellSpec, 0, roomSide*roomSide)
	for y := 0; y < roomSide; y++ {
		for x := 0; x < roomSide; x++ {
			pos := vec.Vec2{X: x, Y: y}
			spec := dungeon.CellSpec{X: x, Y: y, Kind: dungeon.KindFloor}
			switch {
			case exitAt[pos]:
				spec.Kind = dungeon.KindExit
			case pos.OnBorder(roomSide, roomSide):
				spec.Kind = dungeon.KindUnbreakable
			case x == 3 && y == 3:
				spec.Kind = dungeon.KindWall
				spec.Resources = &dungeon.Resources{Stone: 2}
			}
			cells = append(cells, spec)
		}
	}
	return dungeon.TemplateCandidate{Name: name, Width: roomSide, Height: roomSide, Cells: cells}
}

func (f *fixture) template(t *testing.T, name string, exits ...dungeon.Direction) *dungeon.BaseMapTemplate {
	t.Helper()
	tpl, err := f.svc.CreateTemplate(context.Background(), candidate(name, exits...))
	require.NoError(t, err)
	return tpl
}

func (f *fixture) cross(t *testing.T) *dungeon.BaseMapTemplate {
	return f.template(t, "Cross", dungeon.North, dungeon.South, dungeon.East, dungeon.West)
}

func (f *fixture) room(t *testing.T, tpl *dungeon.BaseMapTemplate, owner string) *dungeon.RoomInstance {
	t.Helper()
	r, err := f.svc.CreateRoomForOwner(context.Background(), tpl.ID, owner)
	require.NoError(t, err)
	return r
}
