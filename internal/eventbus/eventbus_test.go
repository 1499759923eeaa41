package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversByFilter(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	got := make(chan *Envelope, 4)
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{TypeRoomCreated}}, func(ctx context.Context, ev *Envelope) {
		got <- ev
	})
	require.NoError(t, err)

	ev, err := NewEnvelope("gamemap", TypeRoomCreated, RoomCreatedEvent{RoomID: "r1", OwnerID: "p1"})
	require.NoError(t, err)
	other, err := NewEnvelope("gamemap", TypeCellsModified, CellsModifiedEvent{RoomID: "r1"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), other))
	require.NoError(t, bus.Publish(context.Background(), ev))

	select {
	case e := <-got:
		assert.Equal(t, TypeRoomCreated, e.EventType)
		var payload RoomCreatedEvent
		require.NoError(t, e.Decode(&payload))
		assert.Equal(t, "r1", payload.RoomID)
		assert.Equal(t, "p1", payload.OwnerID)
	case <-time.After(time.Second):
		t.Fatal("событие не доставлено")
	}

	select {
	case e := <-got:
		t.Fatalf("лишнее событие %s", e.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()

	got := make(chan struct{}, 1)
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		got <- struct{}{}
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	ev, _ := NewEnvelope("test", TypeTemplateCreated, TemplateEvent{TemplateID: "t1"})
	require.NoError(t, bus.Publish(context.Background(), ev))

	select {
	case <-got:
		t.Fatal("отписанный обработчик получил событие")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusDropsLowPriorityWhenFull(t *testing.T) {
	// шина без dispatchLoop: буфер никто не читает
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	for i := 0; i < 2; i++ {
		ev, _ := NewEnvelope("test", TypeCellsModified, CellsModifiedEvent{})
		ev.Priority = 1
		require.NoError(t, mb.Publish(context.Background(), ev))
	}
	stats := mb.Metrics()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, stats.InFlight)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	high, _ := NewEnvelope("test", TypeCellsModified, CellsModifiedEvent{})
	high.Priority = 9
	assert.ErrorIs(t, mb.Publish(ctx, high), context.DeadlineExceeded)
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	ev, _ := NewEnvelope("test", TypeRoomsLinked, RoomsLinkedEvent{})
	assert.ErrorIs(t, bus.Publish(context.Background(), ev), ErrClosed)
}

func TestMetricsExporterCollects(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()

	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg)

	for i := 0; i < 3; i++ {
		ev, _ := NewEnvelope("test", TypeRoomCreated, RoomCreatedEvent{})
		require.NoError(t, bus.Publish(context.Background(), ev))
	}
	prev := me.collect(Stats{})
	assert.Equal(t, uint64(3), prev.Published)
	assert.Equal(t, 3.0, testutil.ToFloat64(me.published))

	me.collect(prev)
	assert.Equal(t, 3.0, testutil.ToFloat64(me.published))
}
