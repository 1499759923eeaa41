package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/eventbus"
	"github.com/annel0/grid-dungeon/internal/gamemap"
	"github.com/annel0/grid-dungeon/internal/player"
	"github.com/annel0/grid-dungeon/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedHook struct {
	signature string
	eventType string
	body      []byte
}

func hookServer(t *testing.T, status int) (*httptest.Server, chan receivedHook) {
	t.Helper()
	got := make(chan receivedHook, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- receivedHook{
			signature: r.Header.Get("X-Webhook-Signature"),
			eventType: r.Header.Get("X-Event-Type"),
			body:      body,
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestWebhookReceivesBusEvents(t *testing.T) {
	srv, got := hookServer(t, http.StatusOK)

	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()
	owm := NewOutboundWebhookManager("node-1")
	defer owm.Close()
	require.NoError(t, owm.Attach(context.Background(), bus))

	owm.AddWebhook(OutboundWebhook{
		Name:   "rooms",
		URL:    srv.URL,
		Secret: "s3cret",
		Events: []string{eventbus.TypeRoomCreated},
	})

	ev, err := eventbus.NewEnvelope("gamemap", eventbus.TypeTemplateCreated, map[string]string{"id": "t1"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))
	ev, err = eventbus.NewEnvelope("gamemap", eventbus.TypeRoomCreated, map[string]string{"roomId": "r1"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	select {
	case hook := <-got:
		assert.Equal(t, eventbus.TypeRoomCreated, hook.eventType)
		assert.True(t, VerifySignature(hook.body, "s3cret", hook.signature))
		assert.False(t, VerifySignature(hook.body, "other", hook.signature))

		var payload OutboundWebhookEvent
		require.NoError(t, json.Unmarshal(hook.body, &payload))
		assert.Equal(t, ev.ID, payload.EventID)
		assert.Equal(t, "node-1", payload.ServerID)
		assert.JSONEq(t, `{"roomId":"r1"}`, string(payload.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("webhook не получил событие")
	}

	// событие шаблона не доставляется: подписка только на комнаты
	select {
	case hook := <-got:
		t.Fatalf("лишняя доставка %s", hook.eventType)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhookRetriesAndCountsFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	owm := NewOutboundWebhookManager("node-1")
	defer owm.Close()
	owm.backoff = func(int) time.Duration { return time.Millisecond }

	hook := owm.AddWebhook(OutboundWebhook{Name: "flaky", URL: srv.URL, Events: []string{"*"}, RetryCount: 2})
	event := OutboundWebhookEvent{EventID: "e1", EventType: eventbus.TypeCellsModified, Data: json.RawMessage(`{}`)}

	err := owm.sendToWebhook(context.Background(), *hook, event)
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	require.Error(t, owm.TestWebhook(context.Background(), hook.ID))
	stored, ok := owm.GetWebhook(hook.ID)
	require.True(t, ok)
	assert.Equal(t, 1, stored.FailureCount)
	assert.NotNil(t, stored.LastUsed)

	assert.Error(t, owm.TestWebhook(context.Background(), 999))
}

func TestWebhookSendAfterClose(t *testing.T) {
	owm := NewOutboundWebhookManager("node-1")
	owm.Close()
	owm.Close()

	ev, err := eventbus.NewEnvelope("gamemap", eventbus.TypeRoomCreated, nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { owm.SendEvent(ev) })
}

func TestWebhookEndpoints(t *testing.T) {
	f := newAPIFixture(t, false)
	admin := f.login("admin", "admin-pass")
	srv, got := hookServer(t, http.StatusNoContent)

	code, resp := f.do(http.MethodPost, "/api/admin/webhooks", admin, OutboundWebhook{
		Name: "all", URL: srv.URL, Events: []string{"*"},
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	created := decode[OutboundWebhook](t, resp.Data)
	path := fmt.Sprintf("/api/admin/webhooks/%d", created.ID)

	code, resp = f.do(http.MethodPut, path, admin, map[string]interface{}{"active": false})
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decode[OutboundWebhook](t, resp.Data).Active)
	assert.Equal(t, "all", decode[OutboundWebhook](t, resp.Data).Name)

	code, _ = f.do(http.MethodPost, path+"/test", admin, nil)
	require.Equal(t, http.StatusOK, code)
	select {
	case hook := <-got:
		assert.Equal(t, "webhook.test", hook.eventType)
		assert.Empty(t, hook.signature)
	case <-time.After(5 * time.Second):
		t.Fatal("пробное событие не доставлено")
	}

	code, resp = f.do(http.MethodGet, "/api/admin/webhooks/events", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, decode[[]string](t, resp.Data), eventbus.TypeRoomsLinked)

	code, _ = f.do(http.MethodDelete, path, admin, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(http.MethodGet, path, admin, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(http.MethodGet, "/api/admin/webhooks/abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"no template", fmt.Errorf("link: %w", dungeon.ErrNoTemplateAvailable), http.StatusConflict},
		{"name taken", storage.ErrTemplateNameTaken, http.StatusConflict},
		{"player exists", player.ErrPlayerExists, http.StatusConflict},
		{"validation", &dungeon.ValidationError{Entity: "template", Field: "width", Reason: "too small"}, http.StatusUnprocessableEntity},
		{"resources", dungeon.ErrResourceInvariant, http.StatusUnprocessableEntity},
		{"room missing", storage.ErrRoomNotFound, http.StatusNotFound},
		{"player missing", player.ErrPlayerNotFound, http.StatusNotFound},
		{"version conflict", storage.ErrVersionConflict, http.StatusConflict},
		{"players disabled", gamemap.ErrPlayersDisabled, http.StatusNotImplemented},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, msg := statusFor(tc.err)
			assert.Equal(t, tc.status, status)
			assert.NotEmpty(t, msg)
		})
	}

	_, msg := statusFor(dungeon.ErrNoTemplateAvailable)
	assert.Equal(t, msgNoCompatibleRoom, msg)
	_, msg = statusFor(fmt.Errorf("boom"))
	assert.NotContains(t, msg, "boom")
}
